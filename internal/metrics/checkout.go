package metrics

import (
	"context"
	"io"

	"autocheckout/internal/checkout"
)

// CheckoutMetrics counts checkout attempts. It implements checkout.Reporter
// so it can sit next to the other report sinks.
type CheckoutMetrics struct {
	registry *Registry

	Succeeded       *Counter
	AlreadyEditable *Counter
	Failed          *Counter
	Timeouts        *Counter
	InFlight        *Gauge
	BackendDuration *Histogram
}

var _ checkout.Reporter = (*CheckoutMetrics)(nil)

// NewCheckoutMetrics creates and registers the checkout metrics for backend.
func NewCheckoutMetrics(registry *Registry, backend string) *CheckoutMetrics {
	if registry == nil {
		registry = NewRegistry("autocheckout")
	}
	attempts := func(status checkout.Status) *Counter {
		return registry.RegisterCounter(
			"checkouts_total",
			"Open-for-edit attempts by outcome",
			Labels{"backend": backend, "status": status.String()},
		)
	}

	return &CheckoutMetrics{
		registry:        registry,
		Succeeded:       attempts(checkout.Succeeded),
		AlreadyEditable: attempts(checkout.AlreadyEditable),
		Failed:          attempts(checkout.Failed),
		Timeouts: registry.RegisterCounter(
			"checkout_timeouts_total",
			"Backend calls cut short by the dispatcher timeout",
			Labels{"backend": backend},
		),
		InFlight: registry.RegisterGauge(
			"checkouts_in_flight",
			"Backend calls currently running",
			nil,
		),
		BackendDuration: registry.RegisterHistogram(
			"backend_duration_seconds",
			"Duration of backend open-for-edit calls",
			Labels{"backend": backend},
			DurationBuckets,
		),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *CheckoutMetrics) Registry() *Registry {
	return m.registry
}

// Snapshot returns the registry snapshot.
func (m *CheckoutMetrics) Snapshot() map[string]float64 {
	return m.registry.Snapshot()
}

// WritePrometheus writes the registry in Prometheus text format.
func (m *CheckoutMetrics) WritePrometheus(w io.Writer) error {
	return m.registry.WritePrometheus(w)
}

// CheckingOut implements checkout.Reporter.
func (m *CheckoutMetrics) CheckingOut(context.Context, checkout.Request) {
	m.InFlight.Inc()
}

// Completed implements checkout.Reporter.
func (m *CheckoutMetrics) Completed(_ context.Context, res checkout.Result) {
	m.InFlight.Dec()
	m.BackendDuration.ObserveDuration(res.Duration)

	switch res.Status {
	case checkout.Succeeded:
		m.Succeeded.Inc()
	case checkout.AlreadyEditable:
		m.AlreadyEditable.Inc()
	default:
		m.Failed.Inc()
		if res.Reason == checkout.ReasonTimeout {
			m.Timeouts.Inc()
		}
	}
}
