package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	cfgpkg "github.com/jonamat/go-daly-bms/internal/config"
	"github.com/jonamat/go-daly-bms/internal/metrics"
	"github.com/jonamat/go-daly-bms/internal/mqtt"
	"github.com/jonamat/go-daly-bms/pkg/bms"
)

// NewSink builds the sink selected by cfg.Output. bm and reg are only used
// by the prometheus output.
func NewSink(cfg cfgpkg.DaemonConfig, out io.Writer, bm *metrics.BMSMetrics, reg *prometheus.Registry, log *zap.Logger) (Sink, error) {
	switch cfg.Output {
	case cfgpkg.OutputConsole:
		return NewConsoleSink(out, cfg.Format), nil
	case cfgpkg.OutputMQTT:
		mcfg, err := mqtt.LoadConfig(cfg.MQTTConfig)
		if err != nil {
			return nil, err
		}
		pub, err := mqtt.NewPublisher(mcfg, log)
		if err != nil {
			return nil, err
		}
		return NewMQTTSink(pub, cfg.Format), nil
	case cfgpkg.OutputPrometheus:
		return NewPrometheusSink(bm, reg, cfg.Listen, cfg.Path, log), nil
	}
	return nil, fmt.Errorf("unknown output %q", cfg.Output)
}

// ConsoleSink prints "metric/field: value" lines, or one JSON document per
// snapshot with the json format.
type ConsoleSink struct {
	w      io.Writer
	format string
}

func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	return &ConsoleSink{w: w, format: format}
}

func (s *ConsoleSink) Write(_ context.Context, snap *bms.Snapshot) error {
	if s.format == cfgpkg.FormatJSON {
		return json.NewEncoder(s.w).Encode(snap)
	}
	msgs, err := bms.FlattenSnapshot("", snap)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", strings.TrimPrefix(m.Topic, "/"), m.Payload)
	}
	_, err = io.WriteString(s.w, b.String())
	return err
}

func (s *ConsoleSink) Close() error { return nil }

type publisher interface {
	Topic() string
	Publish(topic string, payload []byte) error
	Close() error
}

// MQTTSink publishes one message per field under <topic>/<metric>/... with
// the simple format, or the whole snapshot to <topic> with the json format.
type MQTTSink struct {
	pub    publisher
	format string
}

func NewMQTTSink(pub publisher, format string) *MQTTSink {
	return &MQTTSink{pub: pub, format: format}
}

func (s *MQTTSink) Write(ctx context.Context, snap *bms.Snapshot) error {
	if s.format == cfgpkg.FormatJSON {
		b, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return s.pub.Publish(s.pub.Topic(), b)
	}

	msgs, err := bms.FlattenSnapshot(s.pub.Topic(), snap)
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.pub.Publish(m.Topic, []byte(m.Payload)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MQTTSink) Close() error { return s.pub.Close() }

// PrometheusSink mirrors snapshots into gauges served over HTTP.
type PrometheusSink struct {
	metrics *metrics.BMSMetrics
	srv     *http.Server
}

// NewPrometheusSink starts serving reg on listen at path.
func NewPrometheusSink(bm *metrics.BMSMetrics, reg *prometheus.Registry, listen, path string, log *zap.Logger) *PrometheusSink {
	s := &PrometheusSink{
		metrics: bm,
		srv: &http.Server{
			Addr:              listen,
			Handler:           newMux(path, metrics.Handler(reg)),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		log.Info("metrics listening", zap.String("addr", listen), zap.String("path", path))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	return s
}

func newMux(path string, h http.Handler) *http.ServeMux {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

func (s *PrometheusSink) Write(_ context.Context, snap *bms.Snapshot) error {
	for _, name := range snap.Names {
		s.metrics.Record(snap.Values[name])
	}
	return nil
}

func (s *PrometheusSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
