package remote

import (
	"fmt"
	"strings"

	"github.com/goburrow/modbus"

	"github.com/timzifer/invergate/config"
)

// MaxRequestWords is the largest register count a single Modbus read may
// carry. Firmware that advertises a smaller limit is not known in this
// protocol family; the reader splits wider ranges into requests of at most
// this size.
const MaxRequestWords uint16 = 125

// Client defines the subset of Modbus operations required by the gateway.
type Client interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	Close() error
}

// ClientFactory is responsible for creating Modbus clients for device calls.
type ClientFactory func(cfg config.EndpointConfig) (Client, error)

// NewClientFactory selects a factory based on the configured driver.
func NewClientFactory(driver string) (ClientFactory, error) {
	switch strings.ToLower(driver) {
	case "", "tcp":
		return NewTCPClientFactory(), nil
	case "rtu":
		return NewRTUClientFactory(), nil
	default:
		return nil, fmt.Errorf("unsupported endpoint driver %q", driver)
	}
}

type tcpClient struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewTCPClientFactory returns a factory that creates TCP Modbus clients.
func NewTCPClientFactory() ClientFactory {
	return func(cfg config.EndpointConfig) (Client, error) {
		if cfg.Address == "" {
			return nil, fmt.Errorf("endpoint address is required")
		}
		handler := modbus.NewTCPClientHandler(cfg.Address)
		handler.SlaveId = cfg.UnitID
		if cfg.Timeout.Duration > 0 {
			handler.Timeout = cfg.Timeout.Duration
		}
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Address, err)
		}
		return &tcpClient{handler: handler, client: modbus.NewClient(handler)}, nil
	}
}

func (c *tcpClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadInputRegisters(address, quantity)
}

func (c *tcpClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadHoldingRegisters(address, quantity)
}

func (c *tcpClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return c.client.WriteSingleRegister(address, value)
}

func (c *tcpClient) Close() error {
	if c.handler != nil {
		return c.handler.Close()
	}
	return nil
}

type rtuClient struct {
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

// NewRTUClientFactory returns a factory that creates serial RTU clients.
func NewRTUClientFactory() ClientFactory {
	return func(cfg config.EndpointConfig) (Client, error) {
		if cfg.Address == "" {
			return nil, fmt.Errorf("serial device path is required")
		}
		handler := modbus.NewRTUClientHandler(cfg.Address)
		handler.SlaveId = cfg.UnitID
		handler.BaudRate = cfg.Serial.BaudRate
		handler.DataBits = cfg.Serial.DataBits
		handler.Parity = cfg.Serial.Parity
		handler.StopBits = cfg.Serial.StopBits
		if cfg.Timeout.Duration > 0 {
			handler.Timeout = cfg.Timeout.Duration
		}
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Address, err)
		}
		return &rtuClient{handler: handler, client: modbus.NewClient(handler)}, nil
	}
}

func (c *rtuClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadInputRegisters(address, quantity)
}

func (c *rtuClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadHoldingRegisters(address, quantity)
}

func (c *rtuClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return c.client.WriteSingleRegister(address, value)
}

func (c *rtuClient) Close() error {
	if c.handler != nil {
		return c.handler.Close()
	}
	return nil
}
