package modbus

import (
	smodbus "github.com/simonvetter/modbus"
)

// tcpLink talks to the bus through a URL addressed gateway (tcp://, rtuovertcp://, rtu://)
type tcpLink struct {
	client *smodbus.ModbusClient
}

func newTCPLink(config *Config) (*tcpLink, error) {
	clientConfig := &smodbus.ClientConfiguration{
		URL:      config.Port,
		Speed:    uint(config.BaudRate),
		DataBits: uint(config.DataBits),
		StopBits: uint(config.StopBits),
		Parity:   parity(config.Parity),
		Timeout:  config.Timeout,
	}
	client, err := smodbus.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	return &tcpLink{client: client}, nil
}

func parity(p string) uint {
	switch p {
	case "N":
		return smodbus.PARITY_NONE
	case "O":
		return smodbus.PARITY_ODD
	default:
		return smodbus.PARITY_EVEN
	}
}

func (l *tcpLink) connect() error { return l.client.Open() }
func (l *tcpLink) close() error   { return l.client.Close() }

func (l *tcpLink) setSlave(slaveID byte) error {
	return l.client.SetUnitId(slaveID)
}

func (l *tcpLink) readHolding(address uint16, quantity uint16) ([]uint16, error) {
	return l.client.ReadRegisters(address, quantity, smodbus.HOLDING_REGISTER)
}

func (l *tcpLink) writeHolding(address uint16, value uint16) ([]uint16, error) {
	err := l.client.WriteRegister(address, value)
	if err != nil {
		return nil, err
	}
	return []uint16{value}, nil
}
