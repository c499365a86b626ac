package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	dalybms "github.com/jonamat/go-daly-bms/internal/bms"
	cfgpkg "github.com/jonamat/go-daly-bms/internal/config"
	"github.com/jonamat/go-daly-bms/internal/daemon"
	"github.com/jonamat/go-daly-bms/internal/metrics"
	"github.com/jonamat/go-daly-bms/pkg/bms"
)

type env struct {
	cfg     *cfgpkg.Config
	log     *zap.Logger
	client  *dalybms.DalyBMS
	out     io.Writer
	format  string
	metrics *metrics.BMSMetrics
	reg     *prometheus.Registry
}

type command struct {
	name  string
	usage string
	help  string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands []command

func init() {
	for _, name := range bms.Names() {
		commands = append(commands, command{
			name:  name,
			usage: name,
			help:  "read " + name,
			run:   readMetric(name),
		})
	}
	commands = append(commands,
		command{"all", "all", "read every metric", readMetric(bms.All)},
		command{"set-soc", "set-soc <percent>", "set the state of charge", setSOC},
		command{"set-charge-mosfet", "set-charge-mosfet on|off", "switch the charge MOSFET", setMosfet((*dalybms.DalyBMS).SetChargeMosfet)},
		command{"set-discharge-mosfet", "set-discharge-mosfet on|off", "switch the discharge MOSFET", setMosfet((*dalybms.DalyBMS).SetDischargeMosfet)},
		command{"reset", "reset", "restart the BMS", reset},
		command{"daemon", "daemon", "poll --metrics every --interval to --output", runDaemon},
	)
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func readMetric(name string) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, _ []string) error {
		return printMetric(ctx, e.client, e.out, e.format, name)
	}
}

// printMetric collects name, along with the status read it may depend on,
// and prints it. Only the requested metric is printed unless name is All.
func printMetric(ctx context.Context, c bms.Client, out io.Writer, format, name string) error {
	snap, err := bms.Collect(ctx, c, []string{name})
	if err != nil {
		return err
	}
	if name == bms.All {
		if snap.Len() == 0 {
			return fmt.Errorf("no metric could be read")
		}
		for _, n := range bms.Names() {
			if merr, failed := snap.Errors[n]; failed {
				fmt.Fprintf(os.Stderr, "%s: %v\n", n, merr)
			}
		}
		return daemon.NewConsoleSink(out, format).Write(ctx, snap)
	}

	if merr, failed := snap.Errors[name]; failed {
		return merr
	}
	only := &bms.Snapshot{
		Time:   snap.Time,
		Names:  []string{name},
		Values: map[string]any{name: snap.Values[name]},
	}
	return daemon.NewConsoleSink(out, format).Write(ctx, only)
}

func setSOC(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("set-soc takes one argument, the percentage")
	}
	pct, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid percentage %q: %w", args[0], err)
	}
	if err := e.client.SetSOC(ctx, pct); err != nil {
		return err
	}
	e.log.Info("soc set", zap.Float64("percent", pct))
	return nil
}

func setMosfet(set func(*dalybms.DalyBMS, context.Context, bool) error) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected on or off")
		}
		on, err := parseSwitch(args[0])
		if err != nil {
			return err
		}
		if err := set(e.client, ctx, on); err != nil {
			return err
		}
		e.log.Info("mosfet switched", zap.Bool("on", on))
		return nil
	}
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "enable":
		return true, nil
	case "off", "false", "0", "disable":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func reset(ctx context.Context, e *env, _ []string) error {
	if err := e.client.Reset(ctx); err != nil {
		return err
	}
	e.log.Info("bms reset")
	return nil
}

func runDaemon(ctx context.Context, e *env, _ []string) error {
	dcfg := e.cfg.Daemon
	sink, err := daemon.NewSink(dcfg, e.out, e.metrics, e.reg, e.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			e.log.Warn("close output", zap.Error(err))
		}
	}()

	d, err := daemon.New(e.client, dcfg.Metrics, dcfg.Interval, sink, e.log)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
