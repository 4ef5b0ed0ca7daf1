package background

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/entrhq/devbridge/pkg/fx"
)

const metricsNamespace = "devbridge"

// Metrics counts dispatched actions and executed effects. It implements
// fx.Observer.
type Metrics struct {
	actions *prometheus.CounterVec
	effects *prometheus.CounterVec
}

// NewMetrics registers the counters with reg. Counters already registered
// by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "actions_total",
		Help:      "Actions handled by the background dispatch loop.",
	}, []string{"tag"})
	effects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "effects_total",
		Help:      "Effects executed by the background host, by outcome.",
	}, []string{"tag", "result"})

	var err error
	if actions, err = register(reg, actions); err != nil {
		return nil, err
	}
	if effects, err = register(reg, effects); err != nil {
		return nil, err
	}
	return &Metrics{actions: actions, effects: effects}, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register background metric: %w", err)
	}
	return c, nil
}

// ObserveAction implements fx.Observer.
func (m *Metrics) ObserveAction(a fx.Action) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(a.Tag)).Inc()
}

// ObserveEffect implements fx.Observer. Await effects count under their
// inner tag.
func (m *Metrics) ObserveEffect(e fx.Effect, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, fx.ErrUnhandledEffect):
		result = "unhandled"
	case err != nil:
		result = "error"
	}
	m.effects.WithLabelValues(string(fx.Unwrap(e).Tag), result).Inc()
}
