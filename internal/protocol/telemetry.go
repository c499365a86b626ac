package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Result is implemented by every decoded response type.
type Result interface {
	isResult()
}

const temperatureOffset = 40

// State of charge, total voltage and current
type SOC struct {
	TotalVoltage float64 `json:"total_voltage"`
	Current      float64 `json:"current"` // negative while charging
	SOCPercent   float64 `json:"soc_percent"`
}

type CellVoltageRange struct {
	HighestVoltage float64 `json:"highest_voltage"`
	HighestCell    int     `json:"highest_cell"`
	LowestVoltage  float64 `json:"lowest_voltage"`
	LowestCell     int     `json:"lowest_cell"`
}

type TemperatureRange struct {
	HighestTemperature int `json:"highest_temperature"`
	HighestSensor      int `json:"highest_sensor"`
	LowestTemperature  int `json:"lowest_temperature"`
	LowestSensor       int `json:"lowest_sensor"`
}

type MosfetMode int

const (
	Stationary MosfetMode = iota
	Charging
	Discharging
	UnknownMode
)

func (m MosfetMode) String() string {
	switch m {
	case Stationary:
		return "stationary"
	case Charging:
		return "charging"
	case Discharging:
		return "discharging"
	default:
		return "unknown"
	}
}

func (m MosfetMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type MosfetStatus struct {
	Mode              MosfetMode `json:"mode"`
	ChargingMosfet    bool       `json:"charging_mosfet"`
	DischargingMosfet bool       `json:"discharging_mosfet"`
	BMSCycles         int        `json:"bms_cycles"`
	CapacityAh        float64    `json:"capacity_ah"`
}

// Digital inputs and outputs reported by the status command
type IOState struct {
	DI1 bool `json:"di1"`
	DI2 bool `json:"di2"`
	DI3 bool `json:"di3"`
	DI4 bool `json:"di4"`
	DO1 bool `json:"do1"`
	DO2 bool `json:"do2"`
	DO3 bool `json:"do3"`
	DO4 bool `json:"do4"`
}

// BMS status query
type Status struct {
	Cells              int     `json:"cells"`
	TemperatureSensors int     `json:"temperature_sensors"`
	ChargerRunning     bool    `json:"charger_running"`
	LoadRunning        bool    `json:"load_running"`
	States             IOState `json:"states"`
	CycleCount         int     `json:"cycles"`
}

// CellVoltages holds one reading per cell, in millivolts.
type CellVoltages []uint16

// Volts converts the readings to volts.
func (v CellVoltages) Volts() []float64 {
	out := make([]float64, len(v))
	for i, mv := range v {
		out[i] = float64(mv) / 1000.0
	}
	return out
}

// CellTemperatures holds one reading per sensor, in degrees Celsius.
type CellTemperatures []int

// BalancingStatus reports whether each cell is being balanced.
type BalancingStatus []bool

type Faults []FaultCode

// Ack is returned by write commands once the device echoed the command.
type Ack struct {
	Command Command `json:"-"`
}

func (SOC) isResult()              {}
func (CellVoltageRange) isResult() {}
func (TemperatureRange) isResult() {}
func (MosfetStatus) isResult()     {}
func (Status) isResult()           {}
func (CellVoltages) isResult()     {}
func (CellTemperatures) isResult() {}
func (BalancingStatus) isResult()  {}
func (Faults) isResult()           {}
func (Ack) isResult()              {}

func readBE(f Frame, v any) error {
	if err := binary.Read(bytes.NewReader(f.Payload[:]), binary.BigEndian, v); err != nil {
		return fmt.Errorf("unpack %s payload: %w", f.Command, err)
	}
	return nil
}

func decodeSOC(frames []Frame, _ Counts) (Result, error) {
	var raw struct {
		TotalVoltage  uint16
		GatherVoltage uint16
		Current       uint16
		SOC           uint16
	}
	if err := readBE(frames[0], &raw); err != nil {
		return nil, err
	}
	return SOC{
		TotalVoltage: float64(raw.TotalVoltage) / 10.0,
		Current:      float64(int(raw.Current)-30000) / 10.0,
		SOCPercent:   float64(raw.SOC) / 10.0,
	}, nil
}

func decodeCellVoltageRange(frames []Frame, _ Counts) (Result, error) {
	var raw struct {
		HighestVoltage uint16
		HighestCell    uint8
		LowestVoltage  uint16
		LowestCell     uint8
		_              [2]byte
	}
	if err := readBE(frames[0], &raw); err != nil {
		return nil, err
	}
	return CellVoltageRange{
		HighestVoltage: float64(raw.HighestVoltage) / 1000.0,
		HighestCell:    int(raw.HighestCell),
		LowestVoltage:  float64(raw.LowestVoltage) / 1000.0,
		LowestCell:     int(raw.LowestCell),
	}, nil
}

func decodeTemperatureRange(frames []Frame, _ Counts) (Result, error) {
	p := frames[0].Payload
	return TemperatureRange{
		HighestTemperature: int(p[0]) - temperatureOffset,
		HighestSensor:      int(p[1]),
		LowestTemperature:  int(p[2]) - temperatureOffset,
		LowestSensor:       int(p[3]),
	}, nil
}

func decodeMosfetStatus(frames []Frame, _ Counts) (Result, error) {
	var raw struct {
		Mode        uint8
		Charging    uint8
		Discharging uint8
		Cycles      uint8
		CapacityMAh uint32
	}
	if err := readBE(frames[0], &raw); err != nil {
		return nil, err
	}

	mode := MosfetMode(raw.Mode)
	if raw.Mode > uint8(Discharging) {
		mode = UnknownMode
	}
	return MosfetStatus{
		Mode:              mode,
		ChargingMosfet:    raw.Charging != 0,
		DischargingMosfet: raw.Discharging != 0,
		BMSCycles:         int(raw.Cycles),
		CapacityAh:        float64(raw.CapacityMAh) / 1000.0,
	}, nil
}

func decodeStatus(frames []Frame, _ Counts) (Result, error) {
	var raw struct {
		Cells              uint8
		TemperatureSensors uint8
		ChargerRunning     uint8
		LoadRunning        uint8
		StateBits          uint8
		CycleCount         uint16
		_                  byte
	}
	if err := readBE(frames[0], &raw); err != nil {
		return nil, err
	}

	bit := func(n uint) bool { return raw.StateBits>>n&1 == 1 }
	return Status{
		Cells:              int(raw.Cells),
		TemperatureSensors: int(raw.TemperatureSensors),
		ChargerRunning:     raw.ChargerRunning != 0,
		LoadRunning:        raw.LoadRunning != 0,
		States: IOState{
			DI1: bit(0), DI2: bit(1), DI3: bit(2), DI4: bit(3),
			DO1: bit(4), DO2: bit(5), DO3: bit(6), DO4: bit(7),
		},
		CycleCount: int(raw.CycleCount),
	}, nil
}

// checkSequence makes sure multi-frame replies arrive numbered 1..n.
func checkSequence(frames []Frame, n int) error {
	for i := 0; i < n; i++ {
		if int(frames[i].Payload[0]) != i+1 {
			return &FrameError{Reason: ReasonSequence, Raw: frames[i].Payload[:]}
		}
	}
	return nil
}

func decodeCellVoltages(frames []Frame, c Counts) (Result, error) {
	needed := framesFor(c.Cells, cellsPerFrame)
	if len(frames) < needed {
		return nil, &FrameError{Reason: ReasonLength}
	}
	if err := checkSequence(frames, needed); err != nil {
		return nil, err
	}

	voltages := make(CellVoltages, 0, c.Cells)
	for _, f := range frames[:needed] {
		for i := 0; i < cellsPerFrame && len(voltages) < c.Cells; i++ {
			voltages = append(voltages, binary.BigEndian.Uint16(f.Payload[1+2*i:3+2*i]))
		}
	}
	return voltages, nil
}

func decodeCellTemperatures(frames []Frame, c Counts) (Result, error) {
	needed := framesFor(c.TemperatureSensors, sensorsPerFrame)
	if len(frames) < needed {
		return nil, &FrameError{Reason: ReasonLength}
	}
	if err := checkSequence(frames, needed); err != nil {
		return nil, err
	}

	temps := make(CellTemperatures, 0, c.TemperatureSensors)
	for _, f := range frames[:needed] {
		for i := 0; i < sensorsPerFrame && len(temps) < c.TemperatureSensors; i++ {
			temps = append(temps, int(f.Payload[1+i])-temperatureOffset)
		}
	}
	return temps, nil
}

func decodeBalancingStatus(frames []Frame, c Counts) (Result, error) {
	p := frames[0].Payload
	cells := c.Cells
	if cells > 48 {
		cells = 48
	}
	status := make(BalancingStatus, cells)
	for i := range status {
		status[i] = p[i/8]>>(i%8)&1 == 1
	}
	return status, nil
}

func decodeAck(frames []Frame, _ Counts) (Result, error) {
	return Ack{Command: frames[0].Command}, nil
}
