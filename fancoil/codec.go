package fancoil

import (
	"fmt"
	"math"
)

// fanModeTable maps the low three bits of the program flags register to a fan mode.
// Patterns with bit 2 set are not produced by the unit.
var fanModeTable = [FAN_MODE_MASK + 1]FanMode{
	0b000: FAN_AUTO,
	0b001: FAN_SILENT,
	0b010: FAN_NIGHT,
	0b011: FAN_HIGH,
	0b100: FAN_UNKNOWN,
	0b101: FAN_UNKNOWN,
	0b110: FAN_UNKNOWN,
	0b111: FAN_UNKNOWN,
}

var fanModeBits = map[FanMode]uint16{
	FAN_AUTO:   0b000,
	FAN_SILENT: 0b001,
	FAN_NIGHT:  0b010,
	FAN_HIGH:   0b011,
}

func decodeFanMode(flags uint16) (FanMode, error) {
	fm := fanModeTable[flags&FAN_MODE_MASK]
	if fm == FAN_UNKNOWN {
		return FAN_UNKNOWN, fmt.Errorf("%w: invalid PRG 0x%04x", ErrInvalidDeviceState, flags)
	}
	return fm, nil
}

// encodeFanMode replaces the fan bits of flags, keeping everything above bit 2
func encodeFanMode(flags uint16, fm FanMode) (uint16, error) {
	bits, ok := fanModeBits[fm]
	if !ok {
		return flags, fmt.Errorf("%w: fan mode %d", ErrInvalidCommand, fm)
	}
	return flags&^FAN_MODE_MASK | bits, nil
}

func decodeSeason(season uint16) (HvacMode, error) {
	switch season {
	case SEASON_COOL:
		return HVAC_COOL, nil
	case SEASON_HEAT, SEASON_HEAT_ALT:
		return HVAC_HEAT, nil
	}
	return HVAC_UNKNOWN, fmt.Errorf("%w: invalid season value %d", ErrInvalidDeviceState, int16(season))
}

func encodeSeason(hm HvacMode) (uint16, error) {
	switch hm {
	case HVAC_COOL:
		return SEASON_COOL, nil
	case HVAC_HEAT:
		return SEASON_HEAT, nil
	}
	return 0, fmt.Errorf("%w: hvac mode %d has no season", ErrInvalidCommand, hm)
}

// decodeHvacMode applies the off flag only once the season itself is valid
func decodeHvacMode(flags uint16, season uint16) (HvacMode, error) {
	hm, err := decodeSeason(season)
	if err != nil {
		return HVAC_UNKNOWN, err
	}
	if flags&FLAG_OFF != 0 {
		return HVAC_OFF, nil
	}
	return hm, nil
}

// reg2temp decodes a signed tenths-of-degree register
func reg2temp(r uint16) float64 {
	return float64(int16(r)) / 10
}

func temp2reg(t float64) (uint16, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: missing temperature value", ErrInvalidCommand)
	}
	tenths := math.Round(t * 10)
	if tenths < math.MinInt16 || tenths > math.MaxInt16 {
		return 0, fmt.Errorf("%w: temperature %g out of range", ErrInvalidCommand, t)
	}
	return uint16(int16(tenths)), nil
}

// sensorTemp is reg2temp for sensor readings, where a raw zero means no reading
func sensorTemp(r uint16) float64 {
	if r == 0 {
		return TEMP_SENSOR_INVALID
	}
	return reg2temp(r)
}
