// Package metrics exposes the Prometheus instruments of the engine.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pdfcp/internal/domain"
)

var (
	// commands counts engine commands by outcome.
	// Labels: command, outcome (ok, validation, locked, conflict, forbidden, not_found, transport, error)
	commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdfcp",
		Name:      "commands_total",
		Help:      "Engine commands by outcome",
	}, []string{"command", "outcome"})

	// transitions counts accepted workflow moves.
	// Labels: from, to, action (status_change, unlocked, cancellation)
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdfcp",
		Name:      "transitions_total",
		Help:      "Accepted validation workflow transitions",
	}, []string{"from", "to", "action"})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pdfcp",
		Name:      "reconcile_duration_seconds",
		Help:      "Time to load and reconcile a program",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)

// Outcome classifies a command error into a low-cardinality label.
func Outcome(err error) string {
	var (
		verr      *domain.ValidationError
		locked    *domain.LockedError
		conflict  *domain.ConflictError
		forbidden *domain.ForbiddenError
		transport *domain.TransportError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &locked):
		return "locked"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &forbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.As(err, &transport):
		return "transport"
	}
	return "error"
}

func ObserveCommand(command string, err error) {
	commands.WithLabelValues(command, Outcome(err)).Inc()
}

// ObserveTransition records an accepted workflow move. The action label
// drops the status suffix of the history tag.
func ObserveTransition(from, to domain.ValidationStatus, action domain.HistoryAction) {
	transitions.WithLabelValues(string(from), string(to), action.Kind()).Inc()
}

func ObserveReconcile(start time.Time) {
	reconcileDuration.Observe(time.Since(start).Seconds())
}
