package fancoil

import (
	"encoding/json"
	"errors"
	"fancoil2mqtt/watcher"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	average "github.com/RobinUS2/golang-moving-average"
	"go.uber.org/zap"
)

const TEMP_AVERAGE_WINDOW = 30

type MqttClient interface {
	Publish(topic string, qos byte, retained bool, payload string) error
	Subscribe(topic string, callback func(message string)) error
}

// Recorder is told about every refresh and command outcome
type Recorder interface {
	ObserveRefresh(device string, state DeviceState, err error)
	ObserveCommand(device string, command string, err error)
}

type Config struct {
	ModuleName        string
	Device            Driver
	Mqtt              MqttClient
	TopicPrefix       string
	HassPrefix        string
	AvailabilityTopic string
	Version           string
	Bounds            Bounds
	Recorder          Recorder
	Logger            *zap.Logger
}

// Bridge publishes the state of one unit over MQTT and applies commands received on /set topics
type Bridge struct {
	Config
	w        *watcher.Watcher
	lock     sync.Mutex
	temp     *average.MovingAverage
	samples  int
	logger   *zap.Logger
	recorder Recorder
}

var stateTopics = []string{"currentTemp", "currentTempAvg", "targetTemp", "hvacMode", "fanMode", "waterTemp", "fanSpeed", "attributes"}

type nopRecorder struct{}

func (nopRecorder) ObserveRefresh(string, DeviceState, error) {}
func (nopRecorder) ObserveCommand(string, string, error)      {}

func NewBridge(config *Config) *Bridge {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := config.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if config.ModuleName == "" {
		config.ModuleName = config.Device.Name()
	}
	b := &Bridge{
		Config:   *config,
		w:        watcher.New(),
		temp:     average.New(TEMP_AVERAGE_WINDOW),
		logger:   logger.Named("bridge").With(zap.String("device", config.ModuleName)),
		recorder: recorder,
	}

	for _, subtopic := range stateTopics {
		b.w.RegisterCallback(subtopic, b.publishKey)
	}
	return b
}

func (b *Bridge) publishKey(key string) {
	value, err := b.w.Read(key)
	if err != nil {
		return
	}
	err = b.Mqtt.Publish(b.getTopic(key), 0, true, value)
	if err != nil {
		b.logger.Warn("Error publishing", zap.String("topic", b.getTopic(key)), zap.Error(err))
	}
}

// Start subscribes to the command topics, announces the unit to Home Assistant
// and publishes its full state. Call it again after every new MQTT session.
func (b *Bridge) Start() error {
	b.w.Reset()

	subscriptions := map[string]func(message string){
		"targetTemp/set": b.onTargetTempSet,
		"hvacMode/set":   b.onHvacModeSet,
		"fanMode/set":    b.onFanModeSet,
	}
	for subtopic, callback := range subscriptions {
		err := b.Mqtt.Subscribe(b.getTopic(subtopic), callback)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", b.getTopic(subtopic), err)
		}
	}

	err := b.publishJSON(b.discoveryTopic(HA_COMPONENT_CLIMATE, "climate"), b.climateDiscovery())
	if err != nil {
		return err
	}
	for _, s := range discoverySensors {
		err = b.publishJSON(b.discoveryTopic(HA_COMPONENT_SENSOR, s.subtopic), b.sensorDiscovery(s))
		if err != nil {
			return err
		}
	}

	err = b.refresh()
	if err != nil && !errors.Is(err, ErrPartialRefresh) {
		return err
	}
	b.publish()
	return nil
}

// Tick refreshes the unit and publishes whatever changed
func (b *Bridge) Tick() {
	err := b.refresh()
	if err != nil && !errors.Is(err, ErrPartialRefresh) {
		return
	}
	b.publish()
}

func (b *Bridge) refresh() error {
	err := b.Device.Refresh()
	state := b.Device.State()
	b.recorder.ObserveRefresh(b.ModuleName, state, err)
	if err != nil && !errors.Is(err, ErrPartialRefresh) {
		b.logger.Error("Error refreshing device", zap.Error(err))
		return err
	}
	if err != nil {
		b.logger.Warn("Partial refresh", zap.Error(err))
	}
	// a failed read leaves the previous temperature in the snapshot
	if state.Valid && state.CurrentTemperature != TEMP_SENSOR_INVALID && !ReadFailed(err, REG_CURRENT_TEMP) {
		b.lock.Lock()
		b.temp.Add(state.CurrentTemperature)
		b.samples++
		b.lock.Unlock()
	}
	return err
}

// publish renders the current state into the watcher, which publishes changed topics
func (b *Bridge) publish() {
	b.lock.Lock()
	defer b.lock.Unlock()
	state := b.Device.State()
	if !state.Valid {
		return
	}
	values := map[string]string{
		"currentTemp": formatTemp(state.CurrentTemperature),
		"targetTemp":  formatTemp(state.TargetTemperature),
		"hvacMode":    HvacMode2Str(state.HvacMode),
		"fanMode":     FanMode2Str(state.FanMode),
		"waterTemp":   strconv.Itoa(int(state.WaterTemperature)),
		"fanSpeed":    strconv.Itoa(int(state.FanSpeed)),
	}
	if b.samples > 0 {
		values["currentTempAvg"] = formatTemp(math.Round(b.temp.Avg()*10) / 10)
	}
	attributes, _ := json.Marshal(state.Attributes())
	values["attributes"] = string(attributes)

	b.w.Update(values)
}

func (b *Bridge) publishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Mqtt.Publish(topic, 0, true, string(payload))
}

func (b *Bridge) Name() string {
	return b.ModuleName
}

// State returns the last known state of the unit
func (b *Bridge) State() DeviceState {
	return b.Device.State()
}

// SetTargetTemperature applies a user setpoint within the configured bounds
func (b *Bridge) SetTargetTemperature(targetTemp float64) error {
	err := b.Bounds.Check(targetTemp)
	if err == nil {
		err = b.Device.SetTargetTemperature(targetTemp)
	}
	return b.afterCommand("targetTemp", formatTemp(targetTemp), err)
}

func (b *Bridge) SetHvacMode(message string) error {
	mode, err := Str2HvacMode(strings.TrimSpace(message))
	if err == nil {
		err = b.Device.SetHvacMode(mode)
	}
	return b.afterCommand("hvacMode", message, err)
}

func (b *Bridge) SetFanMode(message string) error {
	mode, err := Str2FanMode(strings.TrimSpace(message))
	if err == nil {
		err = b.Device.SetFanMode(mode)
	}
	return b.afterCommand("fanMode", message, err)
}

func (b *Bridge) onTargetTempSet(message string) {
	targetTemp, err := strconv.ParseFloat(strings.TrimSpace(message), 64)
	if err != nil {
		b.afterCommand("targetTemp", message, fmt.Errorf("%w: cannot parse temperature %q", ErrInvalidCommand, message))
		return
	}
	b.SetTargetTemperature(targetTemp)
}

func (b *Bridge) onHvacModeSet(message string) {
	b.SetHvacMode(message)
}

func (b *Bridge) onFanModeSet(message string) {
	b.SetFanMode(message)
}

// afterCommand records the outcome and publishes the optimistic state
func (b *Bridge) afterCommand(command string, value string, err error) error {
	b.recorder.ObserveCommand(b.ModuleName, command, err)
	if err != nil {
		b.logger.Error("Cannot apply command", zap.String("command", command), zap.String("value", value), zap.Error(err))
		return err
	}
	b.publish()
	return nil
}

func (b *Bridge) getTopic(subtopic string) string {
	return fmt.Sprintf("%s/%s/%s", b.TopicPrefix, b.ModuleName, subtopic)
}

func formatTemp(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
