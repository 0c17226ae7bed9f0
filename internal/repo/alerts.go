package repo

import (
	"context"
	"database/sql"

	"visionline/internal/domain"
)

const alertColumns = `id,detector_id,image_query_id,status,message,channel,created_at,resolved_at`

func scanAlert(row rowScanner) (domain.Alert, error) {
	var a domain.Alert
	var createdAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&a.ID, &a.DetectorID, &a.ImageQueryID, &a.Status, &a.Message, &a.Channel, &createdAt, &resolvedAt); err != nil {
		return domain.Alert{}, notFound(err)
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Alert{}, err
	}
	if a.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return domain.Alert{}, err
	}
	return a, nil
}

func (r Repo) InsertAlert(ctx context.Context, a domain.Alert) error {
	_, err := r.exec(ctx, `INSERT INTO alerts(`+alertColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.DetectorID, a.ImageQueryID, string(a.Status), a.Message, string(a.Channel),
		formatTime(a.CreatedAt), formatTimePtr(a.ResolvedAt))
	return err
}

func (r Repo) GetAlert(ctx context.Context, id string) (domain.Alert, error) {
	if !domain.ValidID(domain.PrefixAlert, id) {
		return domain.Alert{}, ErrNotFound
	}
	return scanAlert(r.queryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id))
}

// RecentAlerts returns the newest alerts first.
func (r Repo) RecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	return r.listAlerts(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY created_at DESC, id LIMIT ?`, limit)
}

func (r Repo) AlertsForImageQuery(ctx context.Context, imageQueryID string) ([]domain.Alert, error) {
	return r.listAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE image_query_id=? ORDER BY created_at`, imageQueryID)
}

func (r Repo) listAlerts(ctx context.Context, query string, args ...any) ([]domain.Alert, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
