package dalybms

import (
	"context"
	"fmt"

	"github.com/jonamat/go-daly-bms/internal/protocol"
)

func (bms *DalyBMS) execute(ctx context.Context, cmd protocol.Command, payload []byte) (protocol.Result, error) {
	if bms.transport == nil {
		return nil, ErrNotConnected
	}
	return Execute(ctx, bms.transport, bms.address, Request{Command: cmd, Payload: payload}, bms.counts, bms.policy)
}

func query[T protocol.Result](ctx context.Context, bms *DalyBMS, cmd protocol.Command, payload []byte) (T, error) {
	var zero T
	res, err := bms.execute(ctx, cmd, payload)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected result type %T", cmd, res)
	}
	return v, nil
}

// GetStatus reads the BMS status and caches the cell and sensor counts
// needed by GetCellVoltages, GetCellTemperatures and GetBalancingStatus.
func (bms *DalyBMS) GetStatus(ctx context.Context) (*protocol.Status, error) {
	status, err := query[protocol.Status](ctx, bms, protocol.ReadStatus, nil)
	if err != nil {
		return nil, err
	}
	bms.counts = protocol.CountsOf(status)
	return &status, nil
}

// Get State of Charge
func (bms *DalyBMS) GetSOC(ctx context.Context) (*protocol.SOC, error) {
	soc, err := query[protocol.SOC](ctx, bms, protocol.ReadSOC, nil)
	if err != nil {
		return nil, err
	}
	return &soc, nil
}

// Get highest/lowest cell voltages
func (bms *DalyBMS) GetCellVoltageRange(ctx context.Context) (*protocol.CellVoltageRange, error) {
	r, err := query[protocol.CellVoltageRange](ctx, bms, protocol.ReadCellVoltageRange, nil)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get overall highest/lowest temperature info
func (bms *DalyBMS) GetTemperatureRange(ctx context.Context) (*protocol.TemperatureRange, error) {
	r, err := query[protocol.TemperatureRange](ctx, bms, protocol.ReadTemperatureRange, nil)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (bms *DalyBMS) GetMosfetStatus(ctx context.Context) (*protocol.MosfetStatus, error) {
	m, err := query[protocol.MosfetStatus](ctx, bms, protocol.ReadMosfet, nil)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetCellVoltages returns one voltage per cell, in mV.
func (bms *DalyBMS) GetCellVoltages(ctx context.Context) (protocol.CellVoltages, error) {
	return query[protocol.CellVoltages](ctx, bms, protocol.ReadCellVoltages, nil)
}

// GetCellTemperatures returns one temperature per sensor, in °C.
func (bms *DalyBMS) GetCellTemperatures(ctx context.Context) (protocol.CellTemperatures, error) {
	return query[protocol.CellTemperatures](ctx, bms, protocol.ReadCellTemperatures, nil)
}

func (bms *DalyBMS) GetBalancingStatus(ctx context.Context) (protocol.BalancingStatus, error) {
	return query[protocol.BalancingStatus](ctx, bms, protocol.ReadBalancingStatus, nil)
}

// GetErrors returns the active fault flags, empty when healthy.
func (bms *DalyBMS) GetErrors(ctx context.Context) (protocol.Faults, error) {
	return query[protocol.Faults](ctx, bms, protocol.ReadErrors, nil)
}

// SetSOC sets the state of charge in percent, clamped to 0..100.
func (bms *DalyBMS) SetSOC(ctx context.Context, percent float64) error {
	_, err := query[protocol.Ack](ctx, bms, protocol.WriteSOC, protocol.SOCPayload(percent))
	return err
}

// Enable charge MOSFET switch (if on, the BMS will allow charging)
func (bms *DalyBMS) SetChargeMosfet(ctx context.Context, enable bool) error {
	_, err := query[protocol.Ack](ctx, bms, protocol.WriteChargeMosfet, protocol.MosfetPayload(enable))
	return err
}

// Enable discharge MOSFET switch (if on, the BMS will allow discharging)
func (bms *DalyBMS) SetDischargeMosfet(ctx context.Context, enable bool) error {
	_, err := query[protocol.Ack](ctx, bms, protocol.WriteDischargeMosfet, protocol.MosfetPayload(enable))
	return err
}

// Reset restarts the BMS.
func (bms *DalyBMS) Reset(ctx context.Context) error {
	_, err := query[protocol.Ack](ctx, bms, protocol.Reset, nil)
	return err
}

type AllData struct {
	Status           *protocol.Status           `json:"status"`
	SOC              *protocol.SOC              `json:"soc"`
	CellVoltageRange *protocol.CellVoltageRange `json:"cell_voltage_range"`
	TemperatureRange *protocol.TemperatureRange `json:"temperature_range"`
	MosfetStatus     *protocol.MosfetStatus     `json:"mosfet_status"`
	CellVoltages     protocol.CellVoltages      `json:"cell_voltages"`
	CellTemperatures protocol.CellTemperatures  `json:"cell_temperatures"`
	BalancingStatus  protocol.BalancingStatus   `json:"balancing_status"`
	Errors           protocol.Faults            `json:"errors"`
}

// Get all data in one call. Status is read first so the count dependent
// reads always run with fresh counts.
func (bms *DalyBMS) FetchAllData(ctx context.Context) (*AllData, error) {
	var (
		data AllData
		err  error
	)

	if data.Status, err = bms.GetStatus(ctx); err != nil {
		return nil, err
	}
	if data.SOC, err = bms.GetSOC(ctx); err != nil {
		return nil, err
	}
	if data.CellVoltageRange, err = bms.GetCellVoltageRange(ctx); err != nil {
		return nil, err
	}
	if data.TemperatureRange, err = bms.GetTemperatureRange(ctx); err != nil {
		return nil, err
	}
	if data.MosfetStatus, err = bms.GetMosfetStatus(ctx); err != nil {
		return nil, err
	}
	if data.CellVoltages, err = bms.GetCellVoltages(ctx); err != nil {
		return nil, err
	}
	if data.CellTemperatures, err = bms.GetCellTemperatures(ctx); err != nil {
		return nil, err
	}
	if data.BalancingStatus, err = bms.GetBalancingStatus(ctx); err != nil {
		return nil, err
	}
	if data.Errors, err = bms.GetErrors(ctx); err != nil {
		return nil, err
	}
	return &data, nil
}
