// Package bms names the readings a DalyBMS can produce and collects them in
// one pass, resolving the status read that count dependent readings need.
package bms

import (
	"context"
	"fmt"

	dalybms "github.com/jonamat/go-daly-bms/internal/bms"
	"github.com/jonamat/go-daly-bms/internal/protocol"
)

// Client is the part of *dalybms.DalyBMS used to fetch metrics.
type Client interface {
	GetStatus(ctx context.Context) (*protocol.Status, error)
	GetSOC(ctx context.Context) (*protocol.SOC, error)
	GetMosfetStatus(ctx context.Context) (*protocol.MosfetStatus, error)
	GetCellVoltageRange(ctx context.Context) (*protocol.CellVoltageRange, error)
	GetTemperatureRange(ctx context.Context) (*protocol.TemperatureRange, error)
	GetCellVoltages(ctx context.Context) (protocol.CellVoltages, error)
	GetCellTemperatures(ctx context.Context) (protocol.CellTemperatures, error)
	GetBalancingStatus(ctx context.Context) (protocol.BalancingStatus, error)
	GetErrors(ctx context.Context) (protocol.Faults, error)
}

var _ Client = (*dalybms.DalyBMS)(nil)

// All selects every metric.
const All = "all"

type Metric struct {
	Name         string
	Dependencies []string
	Fetch        func(ctx context.Context, c Client) (any, error)
}

func fetch[T any](get func(Client, context.Context) (T, error)) func(context.Context, Client) (any, error) {
	return func(ctx context.Context, c Client) (any, error) {
		v, err := get(c, ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

var onStatus = []string{"status"}

// registry is ordered so that dependencies come first.
var registry = []Metric{
	{Name: "status", Fetch: fetch(Client.GetStatus)},
	{Name: "soc", Fetch: fetch(Client.GetSOC)},
	{Name: "mosfet", Fetch: fetch(Client.GetMosfetStatus)},
	{Name: "voltage-range", Fetch: fetch(Client.GetCellVoltageRange)},
	{Name: "temperature-range", Fetch: fetch(Client.GetTemperatureRange)},
	{Name: "cell-voltages", Dependencies: onStatus, Fetch: fetch(Client.GetCellVoltages)},
	{Name: "cell-temperatures", Dependencies: onStatus, Fetch: fetch(Client.GetCellTemperatures)},
	{Name: "balancing", Dependencies: onStatus, Fetch: fetch(Client.GetBalancingStatus)},
	{Name: "errors", Fetch: fetch(Client.GetErrors)},
}

// Names lists the known metric names in fetch order, without All.
func Names() []string {
	names := make([]string, len(registry))
	for i, m := range registry {
		names[i] = m.Name
	}
	return names
}

func Lookup(name string) (Metric, bool) {
	for _, m := range registry {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// Resolve expands All, adds missing dependencies and returns the metrics
// in fetch order, each once.
func Resolve(names []string) ([]Metric, error) {
	want := make(map[string]bool)
	var add func(name string) error
	add = func(name string) error {
		if name == All {
			for _, m := range registry {
				want[m.Name] = true
			}
			return nil
		}
		m, ok := Lookup(name)
		if !ok {
			return fmt.Errorf("unknown metric name %q", name)
		}
		want[name] = true
		for _, dep := range m.Dependencies {
			if err := add(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range names {
		if err := add(name); err != nil {
			return nil, err
		}
	}

	var out []Metric
	for _, m := range registry {
		if want[m.Name] {
			out = append(out, m)
		}
	}
	return out, nil
}
