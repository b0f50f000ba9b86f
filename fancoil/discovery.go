package fancoil

import "fmt"

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
}

type HAClimateConfig struct {
	Device                  HADiscoveryDevice `json:"device"`
	Name                    string            `json:"name"`
	UniqueId                string            `json:"unique_id"`
	AvTopic                 string            `json:"availability_topic,omitempty"`
	CurrentTemperatureTopic string            `json:"current_temperature_topic"`
	TemperatureStateTopic   string            `json:"temperature_state_topic"`
	TemperatureCommandTopic string            `json:"temperature_command_topic"`
	TemperatureUnit         string            `json:"temperature_unit"`
	Precision               float64           `json:"precision"`
	TempStep                float64           `json:"temp_step"`
	MinTemp                 float64           `json:"min_temp"`
	MaxTemp                 float64           `json:"max_temp"`
	Modes                   []string          `json:"modes"`
	ModeStateTopic          string            `json:"mode_state_topic"`
	ModeCommandTopic        string            `json:"mode_command_topic"`
	FanModes                []string          `json:"fan_modes"`
	FanModeStateTopic       string            `json:"fan_mode_state_topic"`
	FanModeCommandTopic     string            `json:"fan_mode_command_topic"`
	JsonAttributesTopic     string            `json:"json_attributes_topic"`
}

type HASensorConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	StateTopic        string            `json:"state_topic"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Icon              string            `json:"icon,omitempty"`
}

type sensorInfo struct {
	subtopic    string
	name        string
	deviceClass string
	unit        string
	icon        string
}

var discoverySensors = []sensorInfo{
	{subtopic: "waterTemp", name: "Water temperature", deviceClass: "temperature", unit: "°C"},
	{subtopic: "fanSpeed", name: "Fan speed", icon: "mdi:fan"},
	{subtopic: "currentTempAvg", name: "Average temperature", deviceClass: "temperature", unit: "°C"},
}

// <discovery_prefix>/<component>/<node_id>/<object_id>/config
func (b *Bridge) discoveryTopic(component string, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", b.HassPrefix, component, b.ModuleName, objectID)
}

func (b *Bridge) discoveryDevice() HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{b.ModuleName},
		Manufacturer: "Fancoil",
		Model:        "Modbus fan-coil unit",
		Name:         b.ModuleName,
		Version:      b.Version,
	}
}

func (b *Bridge) climateDiscovery() HAClimateConfig {
	return HAClimateConfig{
		Device:                  b.discoveryDevice(),
		Name:                    b.ModuleName,
		UniqueId:                b.ModuleName,
		AvTopic:                 b.AvailabilityTopic,
		CurrentTemperatureTopic: b.getTopic("currentTemp"),
		TemperatureStateTopic:   b.getTopic("targetTemp"),
		TemperatureCommandTopic: b.getTopic("targetTemp/set"),
		TemperatureUnit:         "C",
		Precision:               0.1,
		TempStep:                0.5,
		MinTemp:                 b.Bounds.Min,
		MaxTemp:                 b.Bounds.Max,
		Modes:                   HvacModeNames,
		ModeStateTopic:          b.getTopic("hvacMode"),
		ModeCommandTopic:        b.getTopic("hvacMode/set"),
		FanModes:                FanModeNames,
		FanModeStateTopic:       b.getTopic("fanMode"),
		FanModeCommandTopic:     b.getTopic("fanMode/set"),
		JsonAttributesTopic:     b.getTopic("attributes"),
	}
}

func (b *Bridge) sensorDiscovery(s sensorInfo) HASensorConfig {
	uniqueID := fmt.Sprintf("%s_%s", b.ModuleName, s.subtopic)
	var stateClass string
	if s.unit != "" {
		stateClass = "measurement"
	}
	return HASensorConfig{
		Device:            b.discoveryDevice(),
		Name:              s.name,
		UniqueId:          uniqueID,
		AvTopic:           b.AvailabilityTopic,
		StateTopic:        b.getTopic(s.subtopic),
		StateClass:        stateClass,
		DeviceClass:       s.deviceClass,
		UnitOfMeasurement: s.unit,
		EntityCategory:    "diagnostic",
		Icon:              s.icon,
	}
}
