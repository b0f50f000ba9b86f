package fancoil

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Transport is a holding register client. It must serialize calls made by
// every device sharing the same bus.
type Transport interface {
	ReadRegister(slaveID byte, address uint16, quantity uint16) ([]uint16, error)
	WriteRegister(slaveID byte, address uint16, value uint16) ([]uint16, error)
}

// Driver is a climate unit as seen by the host loop
type Driver interface {
	Name() string
	Refresh() error
	State() DeviceState
	SetTargetTemperature(t float64) error
	SetHvacMode(mode HvacMode) error
	SetFanMode(mode FanMode) error
}

// DeviceState is the last known view of a unit
type DeviceState struct {
	TargetTemperature  float64  `json:"targetTemperature"`
	CurrentTemperature float64  `json:"currentTemperature"`
	WaterTemperature   int16    `json:"waterTemperature"`
	FanSpeed           int16    `json:"fanSpeed"`
	FanMode            FanMode  `json:"fanMode"`
	HvacMode           HvacMode `json:"hvacMode"`
	Valid              bool     `json:"valid"` // false until the first successful refresh
}

// Attributes returns the auxiliary sensor readings
func (s DeviceState) Attributes() map[string]interface{} {
	return map[string]interface{}{
		"water_temperature": s.WaterTemperature,
		"fan_speed":         s.FanSpeed,
	}
}

type DeviceConfig struct {
	Name      string
	SlaveID   byte
	Transport Transport
	Logger    *zap.Logger
}

// Device maps climate operations onto the registers of one fan-coil unit
type Device struct {
	DeviceConfig
	logger *zap.Logger
	op     sync.Mutex // held for a whole refresh or command
	lock   sync.RWMutex
	state  DeviceState
}

func NewDevice(config *DeviceConfig) *Device {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		DeviceConfig: *config,
		logger:       logger.Named("fancoil").With(zap.String("device", config.Name), zap.Uint8("slave", config.SlaveID)),
	}
}

func (d *Device) Name() string {
	return d.DeviceConfig.Name
}

// State returns a copy of the current snapshot
func (d *Device) State() DeviceState {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.state
}

func (d *Device) update(f func(s *DeviceState)) {
	d.lock.Lock()
	defer d.lock.Unlock()
	f(&d.state)
}

func (d *Device) readRegister(address uint16) (uint16, error) {
	results, err := d.Transport.ReadRegister(d.SlaveID, address, 1)
	if err != nil {
		return 0, &RegisterError{Op: "reading", Address: address, Err: err}
	}
	if len(results) != 1 {
		return 0, &RegisterError{Op: "reading", Address: address, Err: fmt.Errorf("got %d values", len(results))}
	}
	return results[0], nil
}

func (d *Device) writeRegister(address uint16, value uint16) error {
	_, err := d.Transport.WriteRegister(d.SlaveID, address, value)
	if err != nil {
		return &RegisterError{Op: "writing", Address: address, Err: err}
	}
	return nil
}

// Refresh reads every register and commits a new snapshot.
// A sensor register that cannot be read keeps its previous value and makes
// Refresh return ErrPartialRefresh. Failing to read or decode the flags or
// season registers leaves the snapshot untouched.
func (d *Device) Refresh() error {
	d.op.Lock()
	defer d.op.Unlock()

	next := d.State()
	var failures []error
	readSensor := func(address uint16, apply func(r uint16)) {
		r, err := d.readRegister(address)
		if err != nil {
			d.logger.Error("Error reading sensor register", zap.Uint16("register", address), zap.Error(err))
			failures = append(failures, err)
			return
		}
		apply(r)
	}

	readSensor(REG_TARGET_TEMP, func(r uint16) { next.TargetTemperature = sensorTemp(r) })
	readSensor(REG_CURRENT_TEMP, func(r uint16) { next.CurrentTemperature = sensorTemp(r) })
	readSensor(REG_FAN_SPEED, func(r uint16) { next.FanSpeed = int16(r) })
	readSensor(REG_WATER_TEMP, func(r uint16) { next.WaterTemperature = int16(r) })

	flags, err := d.readRegister(REG_PROGRAM_FLAGS)
	if err != nil {
		d.logger.Error("Error reading program flags", zap.Error(err))
		return err
	}
	fanMode, err := decodeFanMode(flags)
	if err != nil {
		d.logger.Error("Received invalid PRG", zap.Uint16("flags", flags))
		return err
	}

	season, err := d.readRegister(REG_SEASON)
	if err != nil {
		d.logger.Error("Error reading season", zap.Error(err))
		return err
	}
	hvacMode, err := decodeHvacMode(flags, season)
	if err != nil {
		d.logger.Error("Received invalid season value", zap.Int16("season", int16(season)))
		return err
	}

	next.FanMode = fanMode
	next.HvacMode = hvacMode
	next.Valid = true
	d.update(func(s *DeviceState) { *s = next })

	if len(failures) > 0 {
		return errors.Join(append([]error{ErrPartialRefresh}, failures...)...)
	}
	return nil
}

// SetTargetTemperature writes the setpoint. Bounds are the caller's concern.
func (d *Device) SetTargetTemperature(t float64) error {
	r, err := temp2reg(t)
	if err != nil {
		return err
	}

	d.op.Lock()
	defer d.op.Unlock()
	err = d.writeRegister(REG_TARGET_TEMP, r)
	if err != nil {
		return err
	}
	d.update(func(s *DeviceState) { s.TargetTemperature = t })
	return nil
}

// SetHvacMode switches the unit off, or on in the requested season.
// Switching on takes two writes. If the season write fails after the flags
// were written, the unit stays on in its previous season and no rollback is tried.
func (d *Device) SetHvacMode(mode HvacMode) error {
	var season uint16
	if mode != HVAC_OFF {
		s, err := encodeSeason(mode)
		if err != nil {
			return err
		}
		season = s
	}

	d.op.Lock()
	defer d.op.Unlock()

	flags, err := d.readRegister(REG_PROGRAM_FLAGS)
	if err != nil {
		return err
	}

	if mode == HVAC_OFF {
		err = d.writeRegister(REG_PROGRAM_FLAGS, flags|FLAG_OFF)
		if err != nil {
			return err
		}
		d.update(func(s *DeviceState) { s.HvacMode = HVAC_OFF })
		return nil
	}

	err = d.writeRegister(REG_PROGRAM_FLAGS, flags&^FLAG_OFF)
	if err != nil {
		return err
	}
	err = d.writeRegister(REG_SEASON, season)
	if err != nil {
		d.logger.Error("Unit switched on but season was not written", zap.Stringer("mode", mode), zap.Error(err))
		return err
	}
	d.update(func(s *DeviceState) { s.HvacMode = mode })
	return nil
}

// SetFanMode rewrites the fan bits of the program flags
func (d *Device) SetFanMode(mode FanMode) error {
	if _, err := encodeFanMode(0, mode); err != nil {
		return err
	}

	d.op.Lock()
	defer d.op.Unlock()

	flags, err := d.readRegister(REG_PROGRAM_FLAGS)
	if err != nil {
		return err
	}
	flags, _ = encodeFanMode(flags, mode)
	err = d.writeRegister(REG_PROGRAM_FLAGS, flags)
	if err != nil {
		return err
	}
	d.update(func(s *DeviceState) { s.FanMode = mode })
	return nil
}

// Bounds is the setpoint range accepted from users
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) Check(t float64) error {
	if t < b.Min || t > b.Max {
		return fmt.Errorf("%w: temperature %g outside [%g, %g]", ErrInvalidCommand, t, b.Min, b.Max)
	}
	return nil
}
