package review

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts scan outcomes and gate transitions. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	scans       *prometheus.CounterVec
	stale       prometheus.Counter
	ocrDuration prometheus.Histogram
	transitions *prometheus.CounterVec
}

// NewMetrics creates the gate metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expense_tracker",
			Subsystem: "scan",
			Name:      "outcomes_total",
			Help:      "Receipt scan sessions by outcome.",
		}, []string{"outcome"}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "expense_tracker",
			Subsystem: "scan",
			Name:      "stale_completions_total",
			Help:      "OCR completions dropped because their session was cancelled or superseded.",
		}),
		ocrDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "expense_tracker",
			Subsystem: "scan",
			Name:      "ocr_duration_seconds",
			Help:      "Time spent in text recognition.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expense_tracker",
			Subsystem: "scan",
			Name:      "transitions_total",
			Help:      "Gate state transitions.",
		}, []string{"from", "to"}),
	}
	reg.MustRegister(m.scans, m.stale, m.ocrDuration, m.transitions)
	return m
}

const (
	outcomeRejected  = "rejected"
	outcomeExtracted = "extracted"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeDiscarded = "discarded"
	outcomeConfirmed = "confirmed"
)

func (m *Metrics) scan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) staleCompletion() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

func (m *Metrics) observeOCR(d time.Duration) {
	if m == nil {
		return
	}
	m.ocrDuration.Observe(d.Seconds())
}

func (m *Metrics) transition(from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}
