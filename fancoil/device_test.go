package fancoil_test

import (
	"errors"
	"fancoil2mqtt/fancoil"
	"fancoil2mqtt/modbus"
	"math"
	"sync"
	"testing"

	"github.com/epiclabs-io/ut"
	"go.uber.org/zap/zaptest"
)

var errBus = errors.New("no response from slave")

func newTestDevice(tx *testing.T) (*fancoil.Device, *modbus.Mock) {
	mb := modbus.NewMock()
	d := fancoil.NewDevice(&fancoil.DeviceConfig{
		Name:      "living_room",
		SlaveID:   49,
		Transport: mb,
		Logger:    zaptest.NewLogger(tx),
	})
	return d, mb
}

func TestRefresh(tx *testing.T) {
	t := ut.BeginTest(tx, false)
	defer t.FinishTest()

	d, mb := newTestDevice(tx)
	t.Equals("living_room", d.Name())
	t.Equals(false, d.State().Valid)

	err := d.Refresh()
	t.Ok(err)
	t.Equals(fancoil.DeviceState{
		TargetTemperature:  22.0,
		CurrentTemperature: 20.0,
		WaterTemperature:   45,
		FanSpeed:           3,
		FanMode:            fancoil.FAN_SILENT,
		HvacMode:           fancoil.HVAC_HEAT,
		Valid:              true,
	}, d.State())
	t.Equals([]uint16{231, 0, 15, 1, 201, 233}, mb.Reads)
	t.Equals(map[string]interface{}{"water_temperature": int16(45), "fan_speed": int16(3)}, d.State().Attributes())

	// the off flag wins over the season
	mb.Set(49, fancoil.REG_PROGRAM_FLAGS, 0b1000_0001)
	err = d.Refresh()
	t.Ok(err)
	t.Equals(fancoil.HVAC_OFF, d.State().HvacMode)
	t.Equals(fancoil.FAN_SILENT, d.State().FanMode)

	mb.Set(49, fancoil.REG_PROGRAM_FLAGS, 0b0000_0011)
	mb.Set(49, fancoil.REG_SEASON, 5)
	err = d.Refresh()
	t.Ok(err)
	t.Equals(fancoil.HVAC_COOL, d.State().HvacMode)
	t.Equals(fancoil.FAN_HIGH, d.State().FanMode)

	mb.Set(49, fancoil.REG_SEASON, 3)
	err = d.Refresh()
	t.Ok(err)
	t.Equals(fancoil.HVAC_HEAT, d.State().HvacMode)

	// a zero temperature reading means the sensor is missing
	mb.Set(49, fancoil.REG_CURRENT_TEMP, 0)
	err = d.Refresh()
	t.Ok(err)
	t.Equals(float64(fancoil.TEMP_SENSOR_INVALID), d.State().CurrentTemperature)

	// negative temperatures are signed tenths
	mb.Set(49, fancoil.REG_CURRENT_TEMP, 0xFFEC)
	err = d.Refresh()
	t.Ok(err)
	t.Equals(-2.0, d.State().CurrentTemperature)
}

func TestRefreshInvalidState(tx *testing.T) {
	t := ut.BeginTest(tx, false)
	defer t.FinishTest()

	d, mb := newTestDevice(tx)
	t.Ok(d.Refresh())
	before := d.State()

	// an invalid season aborts even when the unit is off
	mb.Set(49, fancoil.REG_TARGET_TEMP, 250)
	mb.Set(49, fancoil.REG_PROGRAM_FLAGS, 0b1000_0001)
	mb.Set(49, fancoil.REG_SEASON, 9)
	err := d.Refresh()
	t.Assert(errors.Is(err, fancoil.ErrInvalidDeviceState), "invalid season must fail the refresh")
	t.Equals(before, d.State())

	// invalid PRG aborts before the season is read
	mb.Set(49, fancoil.REG_SEASON, 0)
	mb.Set(49, fancoil.REG_PROGRAM_FLAGS, 0b0000_0100)
	mb.ClearLog()
	err = d.Refresh()
	t.Assert(errors.Is(err, fancoil.ErrInvalidDeviceState), "invalid PRG must fail the refresh")
	t.Equals(before, d.State())
	t.Equals([]uint16{231, 0, 15, 1, 201}, mb.Reads)

	// a device that never refreshed stays invalid
	fresh := fancoil.NewDevice(&fancoil.DeviceConfig{Name: "other", SlaveID: 49, Transport: mb})
	err = fresh.Refresh()
	t.Assert(errors.Is(err, fancoil.ErrInvalidDeviceState), "invalid PRG must fail the refresh")
	t.Equals(fancoil.DeviceState{}, fresh.State())
}

func TestRefreshTransportFailure(tx *testing.T) {
	t := ut.BeginTest(tx, false)
	defer t.FinishTest()

	d, mb := newTestDevice(tx)
	t.Ok(d.Refresh())

	// sensor failures keep the old value for that field only
	mb.Set(49, fancoil.REG_TARGET_TEMP, 230)
	mb.Set(49, fancoil.REG_FAN_SPEED, 7)
	mb.Set(49, fancoil.REG_PROGRAM_FLAGS, 0b0000_0010)
	mb.FailRead[fancoil.REG_FAN_SPEED] = errBus
	err := d.Refresh()
	t.Assert(errors.Is(err, fancoil.ErrPartialRefresh), "expected a partial refresh")
	t.Assert(errors.Is(err, fancoil.ErrTransport), "expected a transport error")
	t.Assert(errors.Is(err, errBus), "expected the bus error to be kept")
	t.Assert(fancoil.ReadFailed(err, fancoil.REG_FAN_SPEED), "fan speed read should be reported")
	t.Assert(!fancoil.ReadFailed(err, fancoil.REG_CURRENT_TEMP), "current temperature was read")
	t.Assert(!fancoil.ReadFailed(nil, fancoil.REG_FAN_SPEED), "nil carries no failure")
	state := d.State()
	t.Equals(23.0, state.TargetTemperature)
	t.Equals(int16(3), state.FanSpeed)
	t.Equals(fancoil.FAN_NIGHT, state.FanMode)
	t.Equals(true, state.Valid)

	// flags and season failures abandon the whole refresh
	delete(mb.FailRead, fancoil.REG_FAN_SPEED)
	before := d.State()
	mb.Set(49, fancoil.REG_TARGET_TEMP, 240)
	for _, reg := range []uint16{fancoil.REG_PROGRAM_FLAGS, fancoil.REG_SEASON} {
		mb.FailRead[reg] = errBus
		err = d.Refresh()
		t.Assert(errors.Is(err, fancoil.ErrTransport), "expected a transport error")
		t.Assert(!errors.Is(err, fancoil.ErrPartialRefresh), "mode failures are not partial")
		t.Assert(fancoil.ReadFailed(err, reg), "failed register should be reported")
		t.Equals(before, d.State())
		delete(mb.FailRead, reg)
	}

	ghost := fancoil.NewDevice(&fancoil.DeviceConfig{Name: "ghost", SlaveID: 7, Transport: mb})
	err = ghost.Refresh()
	t.Assert(errors.Is(err, modbus.ErrUnknownSlave), "expected the unknown slave error")
	t.Equals(false, ghost.State().Valid)
}

func TestSetTargetTemperature(tx *testing.T) {
	t := ut.BeginTest(tx, false)
	defer t.FinishTest()

	d, mb := newTestDevice(tx)
	t.Ok(d.Refresh())
	mb.ClearLog()

	err := d.SetTargetTemperature(21.5)
	t.Ok(err)
	t.Equals([]modbus.Write{{SlaveID: 49, Address: fancoil.REG_TARGET_TEMP, Value: 215}}, mb.Writes)
	t.Equals(21.5, d.State().TargetTemperature)

	mb.FailWrite[fancoil.REG_TARGET_TEMP] = errBus
	err = d.SetTargetTemperature(25)
	t.Assert(errors.Is(err, fancoil.ErrTransport), "expected a transport error")
	t.Equals(21.5, d.State().TargetTemperature)
	t.Equals(uint16(215), mb.Get(49, fancoil.REG_TARGET_TEMP))

	mb.ClearLog()
	err = d.SetTargetTemperature(math.NaN())
	t.Assert(errors.Is(err, fancoil.ErrInvalidCommand), "a missing value is an invalid command")
	t.Equals(0, len(mb.Writes))
	t.Equals(21.5, d.State().TargetTemperature)
}

func TestSetHvacMode(tx *testing.T) {
	t := ut.BeginTest(tx, false)
	defer t.FinishTest()

	d, mb := newTestDevice(tx)
	t.Ok(d.Refresh())

	// reserved bits are kept, season is not touched
	mb.Set(49, fancoil.REG_PROGRAM_FLAGS, 0b0100_0001)
	mb.ClearLog()
	err := d.SetHvacMode(fancoil.HVAC_OFF)
	t.Ok(err)
	t.Equals([]modbus.Write{{SlaveID: 49, Address: fancoil.REG_PROGRAM_FLAGS, Value: 0b1100_0001}}, mb.Writes)
	t.Equals(fancoil.HVAC_OFF, d.State().HvacMode)

	mb.ClearLog()
	err = d.SetHvacMode(fancoil.HVAC_COOL)
	t.Ok(err)
	t.Equals([]modbus.Write{
		{SlaveID: 49, Address: fancoil.REG_PROGRAM_FLAGS, Value: 0b0100_0001},
		{SlaveID: 49, Address: fancoil.REG_SEASON, Value: 5},
	}, mb.Writes)
	t.Equals(fancoil.HVAC_COOL, d.State().HvacMode)

	t.Ok(d.Refresh())
	t.Equals(fancoil.HVAC_COOL, d.State().HvacMode)

	// the flags write stays in place when the season write fails
	t.Ok(d.SetHvacMode(fancoil.HVAC_OFF))
	mb.FailWrite[fancoil.REG_SEASON] = errBus
	mb.ClearLog()
	err = d.SetHvacMode(fancoil.HVAC_HEAT)
	t.Assert(errors.Is(err, fancoil.ErrTransport), "expected a transport error")
	t.Equals([]modbus.Write{{SlaveID: 49, Address: fancoil.REG_PROGRAM_FLAGS, Value: 0b0100_0001}}, mb.Writes)
	t.Equals(uint16(5), mb.Get(49, fancoil.REG_SEASON))
	t.Equals(fancoil.HVAC_OFF, d.State().HvacMode)
	delete(mb.FailWrite, fancoil.REG_SEASON)

	mb.FailRead[fancoil.REG_PROGRAM_FLAGS] = errBus
	mb.ClearLog()
	err = d.SetHvacMode(fancoil.HVAC_HEAT)
	t.Assert(errors.Is(err, fancoil.ErrTransport), "expected a transport error")
	t.Equals(0, len(mb.Writes))
	delete(mb.FailRead, fancoil.REG_PROGRAM_FLAGS)

	err = d.SetHvacMode(fancoil.HVAC_UNKNOWN)
	t.Assert(errors.Is(err, fancoil.ErrInvalidCommand), "unknown mode is an invalid command")
	t.Equals(0, len(mb.Writes))
}

func TestSetFanMode(tx *testing.T) {
	t := ut.BeginTest(tx, false)
	defer t.FinishTest()

	d, mb := newTestDevice(tx)
	t.Ok(d.Refresh())

	mb.Set(49, fancoil.REG_PROGRAM_FLAGS, 0b1000_0001)
	mb.ClearLog()
	err := d.SetFanMode(fancoil.FAN_HIGH)
	t.Ok(err)
	t.Equals([]modbus.Write{{SlaveID: 49, Address: fancoil.REG_PROGRAM_FLAGS, Value: 0b1000_0011}}, mb.Writes)
	t.Equals(fancoil.FAN_HIGH, d.State().FanMode)

	err = d.SetFanMode(fancoil.FAN_AUTO)
	t.Ok(err)
	t.Equals(uint16(0b1000_0000), mb.Get(49, fancoil.REG_PROGRAM_FLAGS))

	mb.FailWrite[fancoil.REG_PROGRAM_FLAGS] = errBus
	err = d.SetFanMode(fancoil.FAN_NIGHT)
	t.Assert(errors.Is(err, fancoil.ErrTransport), "expected a transport error")
	t.Equals(fancoil.FAN_AUTO, d.State().FanMode)

	err = d.SetFanMode(fancoil.FanMode(9))
	t.Assert(errors.Is(err, fancoil.ErrInvalidCommand), "unknown fan mode is an invalid command")
}

func TestConcurrentCommands(tx *testing.T) {
	t := ut.BeginTest(tx, false)
	defer t.FinishTest()

	d, mb := newTestDevice(tx)
	t.Ok(d.Refresh())

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.SetFanMode(fancoil.FAN_NIGHT)
			d.SetHvacMode(fancoil.HVAC_OFF)
		}()
		go func() {
			defer wg.Done()
			d.Refresh()
		}()
	}
	wg.Wait()

	// neither read-modify-write clobbered the other
	t.Equals(uint16(0b1000_0010), mb.Get(49, fancoil.REG_PROGRAM_FLAGS))
	t.Ok(d.Refresh())
	t.Equals(fancoil.FAN_NIGHT, d.State().FanMode)
	t.Equals(fancoil.HVAC_OFF, d.State().HvacMode)
}
