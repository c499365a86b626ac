// Package dalybms talks to Daly battery management systems over their UART
// (RS485 or Bluetooth bridge) protocol.
//
//	client, err := dalybms.Connect("/dev/ttyUSB0")
//	if err != nil { ... }
//	defer client.Disconnect()
//	status, err := client.GetStatus(ctx)
package dalybms

import (
	_dalybms "github.com/jonamat/go-daly-bms/internal/bms"
	"github.com/jonamat/go-daly-bms/internal/protocol"
	"github.com/jonamat/go-daly-bms/internal/transport"
)

type DalyBMS = _dalybms.DalyBMS
type Option = _dalybms.Option
type Attempt = _dalybms.Attempt
type Observer = _dalybms.Observer
type AllData = _dalybms.AllData

var (
	New          = _dalybms.New
	Connect      = _dalybms.Connect
	ConnectAsync = _dalybms.ConnectAsync

	WithTimeout         = _dalybms.WithTimeout
	WithDelay           = _dalybms.WithDelay
	WithRetries         = _dalybms.WithRetries
	WithAddress         = _dalybms.WithAddress
	WithObserver        = _dalybms.WithObserver
	WithPortReadTimeout = _dalybms.WithPortReadTimeout
)

const (
	HostRS485     = protocol.HostRS485
	HostBluetooth = protocol.HostBluetooth
)

// Decoded replies.
type (
	Status           = protocol.Status
	IOState          = protocol.IOState
	SOC              = protocol.SOC
	CellVoltageRange = protocol.CellVoltageRange
	TemperatureRange = protocol.TemperatureRange
	MosfetStatus     = protocol.MosfetStatus
	MosfetMode       = protocol.MosfetMode
	CellVoltages     = protocol.CellVoltages
	CellTemperatures = protocol.CellTemperatures
	BalancingStatus  = protocol.BalancingStatus
	Faults           = protocol.Faults
	FaultCode        = protocol.FaultCode
)

// Transport is what a DalyBMS reads from and writes to; see New.
type Transport = transport.Transport

var (
	ErrTimeout             = _dalybms.ErrTimeout
	ErrUnexpectedResponse  = _dalybms.ErrUnexpectedResponse
	ErrTransportFailure    = _dalybms.ErrTransportFailure
	ErrRetriesExhausted    = _dalybms.ErrRetriesExhausted
	ErrNotConnected        = _dalybms.ErrNotConnected
	ErrFrameInvalid        = protocol.ErrFrameInvalid
	ErrInsufficientContext = protocol.ErrInsufficientContext
)
