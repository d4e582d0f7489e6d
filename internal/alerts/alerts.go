// Package alerts links externally owned field alerts to aggregated rows.
package alerts

import (
	"context"
	"slices"

	"pdfcp/internal/domain"
)

// Filter narrows the alerts a provider returns.
type Filter struct {
	CommuneIDs []string
	YearFrom   int
	YearTo     int
}

// Provider reads alerts from the subsystem that owns them. Implementations
// return only alerts whose status is not resolved.
type Provider interface {
	ListOpenAlerts(ctx context.Context, f Filter) ([]domain.Alert, error)
}

// Location is what an aggregated row covers. A row built from several lines
// carries every commune, perimetre and site it spans.
type Location struct {
	Communes   []string
	Perimetres []string
	Sites      []string
	ActionKey  domain.ActionKey
	Year       int
}

// Match reports whether a covers loc. Every field present on the alert must
// equal the row's; absent fields match anything. Resolved alerts never match.
func Match(a domain.Alert, loc Location) bool {
	if !a.Status.IsOpen() {
		return false
	}
	if a.CommuneID != "" && !slices.Contains(loc.Communes, a.CommuneID) {
		return false
	}
	if a.PerimetreID != "" && !slices.Contains(loc.Perimetres, a.PerimetreID) {
		return false
	}
	if a.SiteID != "" && !slices.Contains(loc.Sites, a.SiteID) {
		return false
	}
	if a.ActionType != "" && a.ActionType != loc.ActionKey {
		return false
	}
	if a.Year != nil && *a.Year != loc.Year {
		return false
	}
	return true
}

// Link returns the ids of the alerts matching loc, in input order.
func Link(open []domain.Alert, loc Location) []string {
	var ids []string
	for _, a := range open {
		if Match(a, loc) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
