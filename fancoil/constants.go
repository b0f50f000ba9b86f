package fancoil

import (
	"fancoil2mqtt/bimap"
	"fmt"
)

// Holding registers. Addresses are fixed by the unit's firmware.
const REG_CURRENT_TEMP = 0
const REG_WATER_TEMP = 1
const REG_FAN_SPEED = 15
const REG_PROGRAM_FLAGS = 201
const REG_TARGET_TEMP = 231
const REG_SEASON = 233

const FAN_MODE_MASK = 0x0007
const FLAG_OFF = 0x0080

const SEASON_HEAT = 0
const SEASON_HEAT_ALT = 3
const SEASON_COOL = 5

// TEMP_SENSOR_INVALID is reported when a temperature register reads exactly zero
const TEMP_SENSOR_INVALID = -1

// Allowed range for the configurable setpoint bounds
const MIN_TEMP = 5
const MAX_TEMP = 40

type FanMode byte

const FAN_UNKNOWN FanMode = 0
const FAN_AUTO FanMode = 1
const FAN_SILENT FanMode = 2
const FAN_NIGHT FanMode = 3
const FAN_HIGH FanMode = 4

type HvacMode byte

const HVAC_UNKNOWN HvacMode = 0
const HVAC_COOL HvacMode = 1
const HVAC_HEAT HvacMode = 2
const HVAC_OFF HvacMode = 3

const HVAC_MODE_COOL = "cool"
const HVAC_MODE_HEAT = "heat"
const HVAC_MODE_OFF = "off"

const HA_COMPONENT_SENSOR = "sensor"
const HA_COMPONENT_CLIMATE = "climate"

var FanModes = bimap.New(map[string]FanMode{
	"Auto":   FAN_AUTO,
	"Silent": FAN_SILENT,
	"Night":  FAN_NIGHT,
	"High":   FAN_HIGH,
})

var HvacModes = bimap.New(map[string]HvacMode{
	HVAC_MODE_COOL: HVAC_COOL,
	HVAC_MODE_HEAT: HVAC_HEAT,
	HVAC_MODE_OFF:  HVAC_OFF,
})

// FanModeNames lists fan modes in the order the unit numbers them
var FanModeNames = []string{"Auto", "Silent", "Night", "High"}

// HvacModeNames lists the supported HVAC modes
var HvacModeNames = []string{HVAC_MODE_COOL, HVAC_MODE_HEAT, HVAC_MODE_OFF}

func FanMode2Str(fm FanMode) string {
	st, ok := FanModes.GetInverse(fm)
	if !ok {
		return "unknown"
	}
	return st
}

func Str2FanMode(st string) (FanMode, error) {
	fm, ok := FanModes.Get(st)
	if !ok {
		return FAN_UNKNOWN, fmt.Errorf("%w: unknown fan mode %q", ErrInvalidCommand, st)
	}
	return fm, nil
}

func HvacMode2Str(hm HvacMode) string {
	st, ok := HvacModes.GetInverse(hm)
	if !ok {
		return "unknown"
	}
	return st
}

func Str2HvacMode(st string) (HvacMode, error) {
	hm, ok := HvacModes.Get(st)
	if !ok {
		return HVAC_UNKNOWN, fmt.Errorf("%w: unknown hvac mode %q", ErrInvalidCommand, st)
	}
	return hm, nil
}

func (fm FanMode) String() string {
	return FanMode2Str(fm)
}

func (hm HvacMode) String() string {
	return HvacMode2Str(hm)
}

func (fm FanMode) MarshalText() ([]byte, error) {
	return []byte(FanMode2Str(fm)), nil
}

func (hm HvacMode) MarshalText() ([]byte, error) {
	return []byte(HvacMode2Str(hm)), nil
}
