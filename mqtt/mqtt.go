package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
)

type Config struct {
	Server    string
	ClientID  string
	Username  string
	Password  string
	BaseTopic string
	Logger    *zap.Logger
}

// Client keeps a connection to the broker alive. Every successful connection
// starts a new session, numbered by ID, after which subscriptions must be renewed.
type Client struct {
	client    MQTT.Client
	id        int
	closed    bool
	lock      sync.RWMutex
	baseTopic string
	logger    *zap.Logger
}

var ErrNotConnected = errors.New("MQTT client not connected")

// BridgeStateTopic is where the availability of the bridge is announced
func BridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}

func newOptions(config *Config) *MQTT.ClientOptions {
	connOpts := MQTT.NewClientOptions().
		AddBroker(config.Server).
		SetClientID(config.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetWill(BridgeStateTopic(config.BaseTopic), MQTT_PAYLOAD_OFFLINE, 0, true)

	if config.Username != "" {
		connOpts.SetUsername(config.Username)
		if config.Password != "" {
			connOpts.SetPassword(config.Password)
		}
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: true, ClientAuth: tls.NoClientCert}
	connOpts.SetTLSConfig(tlsConfig)
	return connOpts
}

func New(config *Config) *Client {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Client{
		baseTopic: config.BaseTopic,
		logger:    logger.Named("mqtt"),
	}

	connOpts := newOptions(config)
	connOpts.OnConnectionLost = func(c MQTT.Client, err error) {
		m.logger.Warn("MQTT disconnected", zap.Error(err))
	}

	connect := func() {
		m.logger.Info("Trying to connect to MQTT", zap.String("server", config.Server))
		newClient := MQTT.NewClient(connOpts)
		token := newClient.Connect()
		token.Wait()
		if token.Error() != nil {
			m.logger.Warn("Cannot connect to MQTT", zap.Error(token.Error()))
			return
		}
		newClient.Publish(m.BridgeStateTopic(), 0, true, MQTT_PAYLOAD_ONLINE).Wait()
		m.lock.Lock()
		m.client = newClient
		m.id++
		m.lock.Unlock()
		m.logger.Info("Connected to MQTT", zap.Int("session", m.SessionID()))
	}

	connect()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			m.lock.RLock()
			closed, client := m.closed, m.client
			m.lock.RUnlock()
			if closed {
				break
			}
			if client == nil || !client.IsConnectionOpen() {
				connect()
			}
		}
		m.lock.RLock()
		client := m.client
		m.lock.RUnlock()
		if client != nil {
			client.Publish(m.BridgeStateTopic(), 0, true, MQTT_PAYLOAD_OFFLINE).Wait()
			client.Disconnect(100)
		}
	}()
	return m
}

// SessionID changes every time a new connection is established
func (m *Client) SessionID() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.id
}

// Connected reports whether the current session is alive
func (m *Client) Connected() bool {
	client := m.current()
	return client != nil && client.IsConnectionOpen()
}

func (m *Client) BridgeStateTopic() string {
	return BridgeStateTopic(m.baseTopic)
}

func (m *Client) current() MQTT.Client {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.client
}

func (m *Client) Publish(topic string, qos byte, retained bool, payload string) error {
	client := m.current()
	if client == nil {
		return ErrNotConnected
	}
	token := client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func (m *Client) Subscribe(topic string, callback func(message string)) error {
	client := m.current()
	if client == nil {
		return ErrNotConnected
	}
	token := client.Subscribe(topic, 0, func(c MQTT.Client, m MQTT.Message) {
		callback(string(m.Payload()))
	})
	token.Wait()
	return token.Error()
}

// Close stops the reconnect loop, which then announces the bridge offline and disconnects
func (m *Client) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	return nil
}
