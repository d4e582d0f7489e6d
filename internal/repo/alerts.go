package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"

	"pdfcp/internal/alerts"
	"pdfcp/internal/domain"
)

// InsertAlert records a field alert. The table stands in for the conflict
// subsystem that owns alerts when both share one database.
func (r Repo) InsertAlert(ctx context.Context, a domain.Alert) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO field_alerts(id,commune_id,perimetre_id,site_id,action_type,year,status,kind,title,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, nullable(a.CommuneID), nullable(a.PerimetreID), nullable(a.SiteID), nullable(string(a.ActionType)),
		nullableInt(a.Year), string(a.Status), nullable(a.Kind), nullable(a.Title), a.CreatedAt)
	return eris.Wrap(err, "repo: insert alert")
}

// UpdateAlertStatus moves an alert through its lifecycle.
func (r Repo) UpdateAlertStatus(ctx context.Context, id string, status domain.AlertStatus) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE field_alerts SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return eris.Wrap(err, "repo: update alert")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOpenAlerts implements alerts.Provider.
func (r Repo) ListOpenAlerts(ctx context.Context, f alerts.Filter) ([]domain.Alert, error) {
	return r.listAlerts(ctx, f, true)
}

// ListAlerts returns every alert matching f, resolved ones included.
func (r Repo) ListAlerts(ctx context.Context, f alerts.Filter) ([]domain.Alert, error) {
	return r.listAlerts(ctx, f, false)
}

func (r Repo) listAlerts(ctx context.Context, f alerts.Filter, openOnly bool) ([]domain.Alert, error) {
	var (
		where []string
		args  []any
	)
	if openOnly {
		where = append(where, "status<>?")
		args = append(args, string(domain.AlertResolved))
	}
	if len(f.CommuneIDs) > 0 {
		// Alerts without a commune apply everywhere.
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.CommuneIDs)), ",")
		where = append(where, "(commune_id IS NULL OR commune_id IN ("+marks+"))")
		for _, c := range f.CommuneIDs {
			args = append(args, c)
		}
	}
	if f.YearFrom > 0 {
		where = append(where, "(year IS NULL OR year>=?)")
		args = append(args, f.YearFrom)
	}
	if f.YearTo > 0 {
		where = append(where, "(year IS NULL OR year<=?)")
		args = append(args, f.YearTo)
	}
	query := `SELECT id,COALESCE(commune_id,''),COALESCE(perimetre_id,''),COALESCE(site_id,''),COALESCE(action_type,''),year,status,
COALESCE(kind,''),COALESCE(title,''),created_at FROM field_alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list alerts")
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		var (
			a              domain.Alert
			action, status string
			year           sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.CommuneID, &a.PerimetreID, &a.SiteID, &action, &year, &status, &a.Kind, &a.Title, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "repo: scan alert")
		}
		a.ActionType = domain.ActionKey(action)
		a.Status = domain.AlertStatus(status)
		if year.Valid {
			y := int(year.Int64)
			a.Year = &y
		}
		res = append(res, a)
	}
	return res, eris.Wrap(rows.Err(), "repo: list alerts")
}
