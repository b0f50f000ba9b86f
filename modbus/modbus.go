package modbus

import (
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"time"

	gmodbus "github.com/goburrow/modbus"
	"go.uber.org/zap"
)

type Config struct {
	Port       string // serial device path, or a URL such as tcp://host:502
	BaudRate   int
	DataBits   int
	Parity     string
	StopBits   int
	Timeout    time.Duration
	Delay      time.Duration // pause after every bus operation
	Retries    int           // extra attempts after a failed operation
	Logger     *zap.Logger
	Instrument []Instrument
}

// Instrument receives the duration of every bus operation
type Instrument struct {
	RecordTime func(fnName string, d time.Duration)
}

// link is one physical connection to the bus
type link interface {
	connect() error
	close() error
	setSlave(slaveID byte) error
	readHolding(address uint16, quantity uint16) ([]uint16, error)
	writeHolding(address uint16, value uint16) ([]uint16, error)
}

// Modbus is a holding register client shared by every device on the same bus.
// Only one request is in flight at a time.
type Modbus struct {
	link       link
	lock       sync.Mutex
	delay      time.Duration
	retries    int
	logger     *zap.Logger
	instrument []Instrument
}

var ErrIncorrectResultSize = errors.New("Incorrect number of results returned")

func New(config *Config) (*Modbus, error) {
	var l link
	if strings.Contains(config.Port, "://") {
		tl, err := newTCPLink(config)
		if err != nil {
			return nil, err
		}
		l = tl
	} else {
		l = newRTULink(config)
	}
	mb := newModbus(l, config)
	return mb, l.connect()
}

func newModbus(l link, config *Config) *Modbus {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Modbus{
		link:       l,
		delay:      config.Delay,
		retries:    config.Retries,
		logger:     logger.Named("modbus"),
		instrument: config.Instrument,
	}
}

func (mb *Modbus) Close() error {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	return mb.link.close()
}

func parseResults(r []byte, quantity uint16) ([]uint16, error) {
	if len(r) != int(quantity)*2 {
		return nil, ErrIncorrectResultSize
	}
	results := make([]uint16, quantity)
	for n := uint16(0); n < quantity; n++ {
		results[n] = binary.BigEndian.Uint16(r[n*2 : n*2+2])
	}
	return results, nil
}

// ReadRegister reads quantity holding registers starting at address
func (mb *Modbus) ReadRegister(slaveID byte, address uint16, quantity uint16) (results []uint16, err error) {
	err = mb.try(slaveID, "ReadRegister", func() (err error) {
		results, err = mb.link.readHolding(address, quantity)
		if err != nil {
			return err
		}
		if len(results) != int(quantity) {
			return ErrIncorrectResultSize
		}
		return nil
	})
	return results, err
}

// WriteRegister writes a single holding register and returns the value echoed by the device
func (mb *Modbus) WriteRegister(slaveID byte, address uint16, value uint16) (results []uint16, err error) {
	err = mb.try(slaveID, "WriteRegister", func() (err error) {
		results, err = mb.link.writeHolding(address, value)
		return err
	})
	return results, err
}

func (mb *Modbus) try(slaveID byte, fnName string, f func() error) (err error) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	defer mb.throttle(mb.delay)
	defer recordTimer(fnName, mb.instrument)()

	err = mb.link.setSlave(slaveID)
	if err != nil {
		return err
	}
	retries := mb.retries
	delay := 100 * time.Millisecond
	for {
		err = f()
		if err == nil || retries <= 0 {
			return err
		}
		mb.logger.Warn("Retrying modbus operation",
			zap.String("op", fnName), zap.Uint8("slave", slaveID), zap.Int("retriesLeft", retries), zap.Error(err))
		mb.link.close()
		mb.throttle(delay)
		connectErr := mb.link.connect()
		if connectErr != nil {
			return connectErr
		}
		retries--
		delay *= 2
	}
}

func (mb *Modbus) throttle(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func recordTimer(name string, instrument []Instrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			if instrument[i].RecordTime != nil {
				instrument[i].RecordTime(name, duration)
			}
		}
	}
}

// rtuLink talks Modbus RTU over a local serial port
type rtuLink struct {
	handler *gmodbus.RTUClientHandler
	client  gmodbus.Client
}

func newRTULink(config *Config) *rtuLink {
	handler := gmodbus.NewRTUClientHandler(config.Port)
	handler.BaudRate = config.BaudRate
	handler.DataBits = config.DataBits
	handler.Parity = config.Parity
	handler.StopBits = config.StopBits
	handler.Timeout = config.Timeout

	return &rtuLink{
		handler: handler,
		client:  gmodbus.NewClient(handler),
	}
}

func (l *rtuLink) connect() error { return l.handler.Connect() }
func (l *rtuLink) close() error   { return l.handler.Close() }

func (l *rtuLink) setSlave(slaveID byte) error {
	l.handler.SlaveId = slaveID
	return nil
}

func (l *rtuLink) readHolding(address uint16, quantity uint16) ([]uint16, error) {
	r, err := l.client.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return nil, err
	}
	return parseResults(r, quantity)
}

func (l *rtuLink) writeHolding(address uint16, value uint16) ([]uint16, error) {
	r, err := l.client.WriteSingleRegister(address, value)
	if err != nil {
		return nil, err
	}
	return parseResults(r, 1)
}
