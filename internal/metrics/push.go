// Package metrics publishes run observations to a Prometheus Pushgateway.
// Metrics are best-effort: a push failure degrades to a log line, never to a
// run failure.
package metrics

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/rjzaar/nwp/internal/pipeline"
)

// Pusher implements pipeline.Recorder over a Pushgateway.
type Pusher struct {
	pusher       *push.Pusher
	logger       *slog.Logger
	stepDuration *prometheus.GaugeVec
	stepFailed   *prometheus.GaugeVec
	runDuration  prometheus.Gauge
	runState     *prometheus.GaugeVec
}

// New builds a Pusher for one target environment. gatewayURL must be
// non-empty; callers with no gateway configured pass a nil Recorder to the
// orchestrator instead.
func New(gatewayURL, target string, logger *slog.Logger) *Pusher {
	reg := prometheus.NewRegistry()
	p := &Pusher{
		pusher: push.New(gatewayURL, "nwp_deploy").Gatherer(reg).Grouping("target", target),
		logger: logger,
		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nwp_step_duration_seconds",
			Help: "Wall time of each executed pipeline step.",
		}, []string{"step", "index"}),
		stepFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nwp_step_failed",
			Help: "1 when the step failed (before policy handling), else 0.",
		}, []string{"step", "index"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nwp_run_duration_seconds",
			Help: "Wall time of the whole deployment run.",
		}),
		runState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nwp_run_state",
			Help: "1 for the terminal state the run reached.",
		}, []string{"state"}),
	}
	reg.MustRegister(p.stepDuration, p.stepFailed, p.runDuration, p.runState)
	return p
}

// ObserveStep records one executed step.
func (p *Pusher) ObserveStep(name string, index int, d time.Duration, failed bool) {
	idx := strconv.Itoa(index)
	p.stepDuration.WithLabelValues(name, idx).Set(d.Seconds())
	v := 0.0
	if failed {
		v = 1
	}
	p.stepFailed.WithLabelValues(name, idx).Set(v)
}

// ObserveRun records the terminal state and pushes everything gathered so
// far to the gateway.
func (p *Pusher) ObserveRun(state pipeline.TerminalState, d time.Duration) {
	p.runDuration.Set(d.Seconds())
	p.runState.WithLabelValues(state.String()).Set(1)
	if err := p.pusher.Add(); err != nil {
		p.logger.Warn("metrics push failed", "error", err)
	}
}
