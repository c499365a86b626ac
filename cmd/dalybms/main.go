package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	dalybms "github.com/jonamat/go-daly-bms/internal/bms"
	cfgpkg "github.com/jonamat/go-daly-bms/internal/config"
	"github.com/jonamat/go-daly-bms/internal/logging"
	"github.com/jonamat/go-daly-bms/internal/metrics"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "dalybms:", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("dalybms", pflag.ContinueOnError)
	cfgpkg.RegisterFlags(fs)
	cfgpkg.RegisterDaemonFlags(fs)
	jsonOut := fs.Bool("json", false, "print results as JSON")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		usage(fs)
		return errors.New("missing command")
	}
	cmd, ok := lookup(fs.Arg(0))
	if !ok {
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	cfg, err := cfgpkg.Load("", fs)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	bm := metrics.NewBMSMetrics(reg)

	client, err := connect(cfg, func(a dalybms.Attempt) {
		bm.ObserveAttempt(a)
		if a.Err != nil {
			logger.Debug("attempt failed",
				zap.Stringer("command", a.Command),
				zap.Int("attempt", a.Number),
				zap.Duration("elapsed", a.Elapsed),
				zap.Error(a.Err))
			return
		}
		logger.Debug("attempt ok",
			zap.Stringer("command", a.Command),
			zap.Int("attempt", a.Number),
			zap.Duration("elapsed", a.Elapsed))
	})
	if err != nil {
		logger.Error("connect", zap.String("device", cfg.Serial.Device), zap.Error(err))
		return err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			logger.Warn("disconnect", zap.Error(err))
		}
	}()

	e := &env{
		cfg:     cfg,
		log:     logger,
		client:  client,
		out:     stdout,
		format:  cfgpkg.FormatSimple,
		metrics: bm,
		reg:     reg,
	}
	if *jsonOut {
		e.format = cfgpkg.FormatJSON
	}

	if err := cmd.run(ctx, e, fs.Args()[1:]); err != nil {
		logger.Error(cmd.name+" failed", zap.Error(err))
		return err
	}
	return nil
}

func connect(cfg *cfgpkg.Config, obs dalybms.Observer) (*dalybms.DalyBMS, error) {
	addr, err := cfg.Protocol.HostAddress()
	if err != nil {
		return nil, err
	}
	opts := []dalybms.Option{
		dalybms.WithAddress(addr),
		dalybms.WithTimeout(cfg.Protocol.Timeout),
		dalybms.WithDelay(cfg.Protocol.Delay),
		dalybms.WithRetries(cfg.Protocol.Retries),
		dalybms.WithObserver(obs),
		dalybms.WithPortReadTimeout(cfg.Serial.ReadTimeout),
	}
	if cfg.Serial.Backend == cfgpkg.BackendAsync {
		return dalybms.ConnectAsync(cfg.Serial.Device, opts...)
	}
	return dalybms.Connect(cfg.Serial.Device, opts...)
}

func usage(fs *pflag.FlagSet) {
	out := os.Stderr
	fmt.Fprintln(out, "Usage: dalybms [flags] <command> [args]")
	fmt.Fprintln(out, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-30s %s\n", c.usage, c.help)
	}
	fmt.Fprintln(out, "\nFlags:")
	fs.PrintDefaults()
}
