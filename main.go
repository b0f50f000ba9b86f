package main

import (
	"context"
	"errors"
	"fancoil2mqtt/fancoil"
	"fancoil2mqtt/metrics"
	"fancoil2mqtt/modbus"
	"fancoil2mqtt/mqtt"
	"fancoil2mqtt/server"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const SESSION_CHECK_INTERVAL = 2 * time.Second

func NewBridges(devices []DeviceConfig, transport fancoil.Transport, templateConfig *fancoil.Config) []*fancoil.Bridge {
	var bridges []*fancoil.Bridge
	for _, d := range devices {
		config := *templateConfig
		config.ModuleName = d.Name
		config.Bounds = fancoil.Bounds{Min: d.MinTemp, Max: d.MaxTemp}
		config.Device = fancoil.NewDevice(&fancoil.DeviceConfig{
			Name:      d.Name,
			SlaveID:   byte(d.Slave),
			Transport: transport,
			Logger:    templateConfig.Logger,
		})
		bridges = append(bridges, fancoil.NewBridge(&config))
	}
	return bridges
}

type sessionSource interface {
	SessionID() int
}

// runBridges starts every bridge once per MQTT session, retrying only those
// that failed, and polls the started ones every pollInterval until ctx is done
func runBridges(ctx context.Context, bridges []*fancoil.Bridge, mqttClient sessionSource, pollInterval time.Duration, logger *zap.Logger) {
	sessionTicker := time.NewTicker(SESSION_CHECK_INTERVAL)
	defer sessionTicker.Stop()
	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()

	startedIn := make(map[*fancoil.Bridge]int, len(bridges)) // session each bridge last started in
	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionTicker.C:
			sessionID := mqttClient.SessionID()
			if sessionID == 0 {
				continue
			}
			for _, b := range bridges {
				if startedIn[b] == sessionID {
					continue
				}
				err := b.Start()
				if err != nil {
					logger.Error("Error starting bridge", zap.String("device", b.Name()), zap.Int("session", sessionID), zap.Error(err))
					continue
				}
				startedIn[b] = sessionID
			}
		case <-pollTicker.C:
			for _, b := range bridges {
				if startedIn[b] != 0 {
					b.Tick()
				}
			}
		}
	}
}

func gracefulShutdown(apiServer *http.Server, logger *zap.Logger) {
	// The server has 5 seconds to finish the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}
}

func main() {
	cfg, err := loadConfig(viper.New())
	if err != nil {
		log.Fatalf("Config error: %s", err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	safePrintConfig(logger, *cfg)

	m := metrics.New()

	mb, err := modbus.New(&modbus.Config{
		Port:       cfg.Modbus.Port,
		BaudRate:   cfg.Modbus.BaudRate,
		DataBits:   cfg.Modbus.DataBits,
		Parity:     cfg.Modbus.Parity,
		StopBits:   cfg.Modbus.StopBits,
		Timeout:    time.Duration(cfg.Modbus.TimeoutMillis) * time.Millisecond,
		Delay:      time.Duration(cfg.Modbus.DelayMillis) * time.Millisecond,
		Retries:    cfg.Modbus.Retries,
		Logger:     logger,
		Instrument: []modbus.Instrument{m.Instrument()},
	})
	if err != nil {
		logger.Fatal("Error initializing modbus", zap.Error(err))
	}
	defer mb.Close()

	mqttClient := mqtt.New(&mqtt.Config{
		Server:    cfg.MQTT.Server,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		BaseTopic: cfg.MQTT.BaseTopic,
		Logger:    logger,
	})
	defer mqttClient.Close()

	bridges := NewBridges(cfg.Devices, mb, &fancoil.Config{
		Mqtt:              mqttClient,
		TopicPrefix:       cfg.MQTT.BaseTopic,
		HassPrefix:        cfg.MQTT.HADiscoveryTopic,
		AvailabilityTopic: mqttClient.BridgeStateTopic(),
		Version:           versioninfo.Short(),
		Recorder:          m,
		Logger:            logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runBridges(ctx, bridges, mqttClient, time.Duration(cfg.PollIntervalMillis)*time.Millisecond, logger)

	if cfg.HTTP.Port != 0 {
		units := make([]server.Unit, 0, len(bridges))
		for _, b := range bridges {
			units = append(units, b)
		}
		apiServer := server.NewServer(&server.Config{
			Port:    cfg.HTTP.Port,
			HttpLog: cfg.HTTP.Log,
			Units:   units,
			Metrics: m.Handler(),
			Health: func() error {
				if !mqttClient.Connected() {
					return mqtt.ErrNotConnected
				}
				return nil
			},
			Logger: logger,
		})
		go func() {
			err := apiServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", zap.Error(err))
				stop()
			}
		}()
		defer gracefulShutdown(apiServer, logger)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
}
