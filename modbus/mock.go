package modbus

import (
	"errors"
	"sync"
)

var ErrUnknownSlave = errors.New("Unknown slave")

// Write records one register write received by the Mock
type Write struct {
	SlaveID byte
	Address uint16
	Value   uint16
}

// Mock is an in-memory bus. Registers that were never set read as zero.
type Mock struct {
	State     map[byte]map[uint16]uint16
	FailRead  map[uint16]error // reads touching these addresses fail
	FailWrite map[uint16]error // writes to these addresses fail
	Writes    []Write
	Reads     []uint16
	lock      sync.Mutex
}

func NewMock() *Mock {
	return &Mock{
		State: map[byte]map[uint16]uint16{
			// heating, fan silent, target 22.0, ambient 20.0
			49: {0: 200, 1: 45, 15: 3, 201: 0b00000001, 231: 220, 233: 0},
			// cooling, fan high, switched off from the panel
			50: {0: 245, 1: 12, 15: 0, 201: 0b10000011, 231: 240, 233: 5},
		},
		FailRead:  map[uint16]error{},
		FailWrite: map[uint16]error{},
	}
}

func (ms *Mock) ReadRegister(slaveID byte, address uint16, quantity uint16) (results []uint16, err error) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	state, ok := ms.State[slaveID]
	if !ok {
		return nil, ErrUnknownSlave
	}
	for a := address; a < address+quantity; a++ {
		if err := ms.FailRead[a]; err != nil {
			return nil, err
		}
		ms.Reads = append(ms.Reads, a)
		results = append(results, state[a])
	}
	return results, nil
}

func (ms *Mock) WriteRegister(slaveID byte, address uint16, value uint16) (results []uint16, err error) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	state, ok := ms.State[slaveID]
	if !ok {
		return nil, ErrUnknownSlave
	}
	if err := ms.FailWrite[address]; err != nil {
		return nil, err
	}
	state[address] = value
	ms.Writes = append(ms.Writes, Write{SlaveID: slaveID, Address: address, Value: value})
	return []uint16{value}, nil
}

// Set changes a register behind the back of the client, as the device panel would
func (ms *Mock) Set(slaveID byte, address uint16, value uint16) {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	if ms.State[slaveID] == nil {
		ms.State[slaveID] = map[uint16]uint16{}
	}
	ms.State[slaveID][address] = value
}

// Get returns the current value of a register
func (ms *Mock) Get(slaveID byte, address uint16) uint16 {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	return ms.State[slaveID][address]
}

// ClearLog forgets the recorded reads and writes
func (ms *Mock) ClearLog() {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	ms.Writes = nil
	ms.Reads = nil
}

func (ms *Mock) Close() error { return nil }
