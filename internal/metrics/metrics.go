package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dalybms "github.com/jonamat/go-daly-bms/internal/bms"
	"github.com/jonamat/go-daly-bms/internal/protocol"
)

const namespace = "dalybms"

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// BMSMetrics mirrors the latest telemetry as gauges and counts transaction
// attempts.
type BMSMetrics struct {
	SOCPercent    prometheus.Gauge
	TotalVoltage  prometheus.Gauge
	Current       prometheus.Gauge
	CapacityAh    prometheus.Gauge
	Cycles        prometheus.Gauge
	Mosfet        *prometheus.GaugeVec   // labels: mosfet=charge|discharge
	CellVoltage   *prometheus.GaugeVec   // labels: cell
	Temperature   *prometheus.GaugeVec   // labels: sensor
	Balancing     *prometheus.GaugeVec   // labels: cell
	FaultActive   *prometheus.GaugeVec   // labels: code
	AttemptsTotal *prometheus.CounterVec // labels: command, result
}

func NewBMSMetrics(reg prometheus.Registerer) *BMSMetrics {
	m := &BMSMetrics{
		SOCPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "soc_percent",
			Help: "State of charge in percent.",
		}),
		TotalVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "total_voltage",
			Help: "Pack voltage in volts.",
		}),
		Current: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "current",
			Help: "Pack current in amperes, negative while charging.",
		}),
		CapacityAh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "capacity",
			Help: "Remaining capacity in Ah.",
		}),
		Cycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cycles",
			Help: "Charge cycles reported by the status command.",
		}),
		Mosfet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "mosfet_enabled",
			Help: "1 when the MOSFET is on.",
		}, []string{"mosfet"}),
		CellVoltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cell_voltage",
			Help: "Cell voltage in volts.",
		}, []string{"cell"}),
		Temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "temperature",
			Help: "Sensor temperature in degrees Celsius.",
		}, []string{"sensor"}),
		Balancing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cell_balancing",
			Help: "1 while the cell is being balanced.",
		}, []string{"cell"}),
		FaultActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fault_active",
			Help: "1 while the fault flag is raised.",
		}, []string{"code"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transaction_attempts_total",
			Help: "Request/reply attempts by command and outcome.",
		}, []string{"command", "result"}),
	}
	reg.MustRegister(m.SOCPercent, m.TotalVoltage, m.Current, m.CapacityAh, m.Cycles, m.Mosfet,
		m.CellVoltage, m.Temperature, m.Balancing, m.FaultActive, m.AttemptsTotal)
	return m
}

// ObserveAttempt is meant to be chained into the client's observer.
func (m *BMSMetrics) ObserveAttempt(a dalybms.Attempt) {
	m.AttemptsTotal.WithLabelValues(a.Command.String(), AttemptResult(a.Err)).Inc()
}

// AttemptResult classifies an attempt error into a short label value.
func AttemptResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dalybms.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrFrameInvalid):
		return "frame_invalid"
	case errors.Is(err, dalybms.ErrUnexpectedResponse):
		return "unexpected_response"
	case errors.Is(err, dalybms.ErrTransportFailure):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

// Record updates the gauges from a decoded result or from *dalybms.AllData.
// Other values are ignored.
func (m *BMSMetrics) Record(v any) {
	switch r := v.(type) {
	case *dalybms.AllData:
		if r == nil {
			return
		}
		for _, part := range []any{r.Status, r.SOC, r.MosfetStatus, r.CellVoltages, r.CellTemperatures, r.BalancingStatus, r.Errors} {
			m.Record(part)
		}
	case *protocol.Status:
		if r != nil {
			m.Record(*r)
		}
	case *protocol.SOC:
		if r != nil {
			m.Record(*r)
		}
	case *protocol.MosfetStatus:
		if r != nil {
			m.Record(*r)
		}
	case protocol.Status:
		m.Cycles.Set(float64(r.CycleCount))
	case protocol.SOC:
		m.SOCPercent.Set(r.SOCPercent)
		m.TotalVoltage.Set(r.TotalVoltage)
		m.Current.Set(r.Current)
	case protocol.MosfetStatus:
		m.CapacityAh.Set(r.CapacityAh)
		m.Mosfet.WithLabelValues("charge").Set(boolGauge(r.ChargingMosfet))
		m.Mosfet.WithLabelValues("discharge").Set(boolGauge(r.DischargingMosfet))
	case protocol.CellVoltages:
		for i, volts := range r.Volts() {
			m.CellVoltage.WithLabelValues(strconv.Itoa(i + 1)).Set(volts)
		}
	case protocol.CellTemperatures:
		for i, temp := range r {
			m.Temperature.WithLabelValues(strconv.Itoa(i + 1)).Set(float64(temp))
		}
	case protocol.BalancingStatus:
		for i, on := range r {
			m.Balancing.WithLabelValues(strconv.Itoa(i + 1)).Set(boolGauge(on))
		}
	case protocol.Faults:
		active := make(map[protocol.FaultCode]bool, len(r))
		for _, code := range r {
			active[code] = true
		}
		for _, code := range protocol.FaultCodes() {
			m.FaultActive.WithLabelValues(code.Key()).Set(boolGauge(active[code]))
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
