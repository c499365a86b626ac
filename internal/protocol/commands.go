package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

type Command byte

const (
	ReadSOC              Command = 0x90
	ReadCellVoltageRange Command = 0x91
	ReadTemperatureRange Command = 0x92
	ReadMosfet           Command = 0x93
	ReadStatus           Command = 0x94
	ReadCellVoltages     Command = 0x95
	ReadCellTemperatures Command = 0x96
	ReadBalancingStatus  Command = 0x97
	ReadErrors           Command = 0x98
	WriteSOC             Command = 0x21
	WriteDischargeMosfet Command = 0xD9
	WriteChargeMosfet    Command = 0xDA
	Reset                Command = 0x00
)

func (c Command) String() string {
	if e, ok := Catalog[c]; ok {
		return e.Name
	}
	return fmt.Sprintf("cmd(0x%02X)", byte(c))
}

const (
	cellsPerFrame   = 3
	sensorsPerFrame = 7

	// over bluetooth the BMS always answers with every frame it has
	bluetoothCellFrames   = 16
	bluetoothSensorFrames = 3
)

// Counts is the device shape reported by a status read.
type Counts struct {
	Cells              int
	TemperatureSensors int
	Known              bool
}

// CountsOf returns the counts carried by a decoded status.
func CountsOf(s Status) Counts {
	return Counts{Cells: s.Cells, TemperatureSensors: s.TemperatureSensors, Known: true}
}

// Entry describes how to exchange and decode one command.
type Entry struct {
	Name string
	// Frames is the number of 13-byte frames the device answers with.
	Frames func(c Counts, addr Address) (int, error)
	Decode func(frames []Frame, c Counts) (Result, error)
}

var Catalog = map[Command]Entry{
	ReadSOC:              {Name: "soc", Frames: oneFrame, Decode: decodeSOC},
	ReadCellVoltageRange: {Name: "voltage-range", Frames: oneFrame, Decode: decodeCellVoltageRange},
	ReadTemperatureRange: {Name: "temperature-range", Frames: oneFrame, Decode: decodeTemperatureRange},
	ReadMosfet:           {Name: "mosfet", Frames: oneFrame, Decode: decodeMosfetStatus},
	ReadStatus:           {Name: "status", Frames: oneFrame, Decode: decodeStatus},
	ReadCellVoltages:     {Name: "cell-voltages", Frames: cellVoltageFrames, Decode: decodeCellVoltages},
	ReadCellTemperatures: {Name: "cell-temperatures", Frames: temperatureFrames, Decode: decodeCellTemperatures},
	ReadBalancingStatus:  {Name: "balancing", Frames: balancingFrames, Decode: decodeBalancingStatus},
	ReadErrors:           {Name: "errors", Frames: oneFrame, Decode: decodeFaults},
	WriteSOC:             {Name: "set-soc", Frames: oneFrame, Decode: decodeAck},
	WriteDischargeMosfet: {Name: "set-discharge-mosfet", Frames: oneFrame, Decode: decodeAck},
	WriteChargeMosfet:    {Name: "set-charge-mosfet", Frames: oneFrame, Decode: decodeAck},
	Reset:                {Name: "reset", Frames: oneFrame, Decode: decodeAck},
}

func oneFrame(Counts, Address) (int, error) {
	return 1, nil
}

func framesFor(items, perFrame int) int {
	n := (items + perFrame - 1) / perFrame
	if n < 1 {
		n = 1
	}
	return n
}

func cellVoltageFrames(c Counts, addr Address) (int, error) {
	if !c.Known {
		return 0, ErrInsufficientContext
	}
	if addr == HostBluetooth {
		return bluetoothCellFrames, nil
	}
	return framesFor(c.Cells, cellsPerFrame), nil
}

func temperatureFrames(c Counts, addr Address) (int, error) {
	if !c.Known {
		return 0, ErrInsufficientContext
	}
	if addr == HostBluetooth {
		return bluetoothSensorFrames, nil
	}
	return framesFor(c.TemperatureSensors, sensorsPerFrame), nil
}

func balancingFrames(c Counts, _ Address) (int, error) {
	if !c.Known {
		return 0, ErrInsufficientContext
	}
	return 1, nil
}

// SOCPayload encodes a state of charge in percent (0..100) as tenths.
func SOCPayload(percent float64) []byte {
	raw := math.Round(percent * 10)
	if raw > 1000 {
		raw = 1000
	}
	if raw < 0 || math.IsNaN(raw) {
		raw = 0
	}
	p := make([]byte, DataLength)
	binary.BigEndian.PutUint16(p[6:8], uint16(raw))
	return p
}

// MosfetPayload encodes the on/off switch of a MOSFET command.
func MosfetPayload(on bool) []byte {
	p := make([]byte, DataLength)
	if on {
		p[0] = 0x01
	}
	return p
}
