// Package daemon polls a BMS at a fixed cadence and hands every snapshot to
// a sink.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jonamat/go-daly-bms/pkg/bms"
)

// Sink receives the snapshots produced by the polling loop.
type Sink interface {
	Write(ctx context.Context, snap *bms.Snapshot) error
	Close() error
}

type Daemon struct {
	client   bms.Client
	metrics  []string
	interval time.Duration
	sink     Sink
	limiter  *rate.Limiter
	log      *zap.Logger
}

// New checks the metric names up front so a typo fails at startup and not
// on every poll.
func New(client bms.Client, metrics []string, interval time.Duration, sink Sink, log *zap.Logger) (*Daemon, error) {
	if interval <= 0 {
		return nil, errors.New("daemon: interval must be positive")
	}
	if _, err := bms.Resolve(metrics); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Daemon{
		client:   client,
		metrics:  metrics,
		interval: interval,
		sink:     sink,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		log:      log,
	}, nil
}

// Run polls until ctx is done. The first poll happens immediately. Failed
// polls are logged and the loop carries on; Run returns nil on cancellation.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("daemon started",
		zap.Strings("metrics", d.metrics),
		zap.Duration("interval", d.interval))
	defer d.log.Info("daemon stopped")

	for {
		if err := d.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := d.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Warn("poll failed", zap.Error(err))
		}
	}
}

// Poll runs one collection pass and writes it to the sink. Per metric
// failures are logged; a pass with no values is not written.
func (d *Daemon) Poll(ctx context.Context) error {
	start := time.Now()
	snap, err := bms.Collect(ctx, d.client, d.metrics)
	if err != nil {
		return err
	}
	for name, merr := range snap.Errors {
		d.log.Warn("metric failed", zap.String("metric", name), zap.Error(merr))
	}
	if snap.Len() == 0 {
		return errors.New("no metric could be read")
	}
	if err := d.sink.Write(ctx, snap); err != nil {
		return err
	}
	d.log.Debug("poll done",
		zap.Int("values", snap.Len()),
		zap.Int("errors", len(snap.Errors)),
		zap.Duration("took", time.Since(start)))
	return nil
}
