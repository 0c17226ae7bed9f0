package repo

import (
	"context"
	"database/sql"

	"visionline/internal/domain"
)

const detectorColumns = `id,name,mode,query,confidence_threshold,is_active,patience_seconds,model_id,created_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDetector(row rowScanner) (domain.Detector, error) {
	var d domain.Detector
	var modelID sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&d.ID, &d.Name, &d.Mode, &d.Query, &d.ConfidenceThreshold, &d.IsActive,
		&d.PatienceSeconds, &modelID, &d.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return domain.Detector{}, notFound(err)
	}
	d.ModelID = modelID.String
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Detector{}, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Detector{}, err
	}
	return d, nil
}

func (r Repo) InsertDetector(ctx context.Context, d domain.Detector) error {
	_, err := r.exec(ctx, `INSERT INTO detectors(`+detectorColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Name, string(d.Mode), d.Query, d.ConfidenceThreshold, d.IsActive, d.PatienceSeconds,
		nullable(d.ModelID), d.CreatedBy, formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	return err
}

// GetDetector returns ErrNotFound for unknown or malformed ids.
func (r Repo) GetDetector(ctx context.Context, id string) (domain.Detector, error) {
	if !domain.ValidID(domain.PrefixDetector, id) {
		return domain.Detector{}, ErrNotFound
	}
	return scanDetector(r.queryRow(ctx, `SELECT `+detectorColumns+` FROM detectors WHERE id=?`, id))
}

func (r Repo) ListDetectors(ctx context.Context, limit int) ([]domain.Detector, error) {
	rows, err := r.query(ctx, `SELECT `+detectorColumns+` FROM detectors ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Detector
	for rows.Next() {
		d, err := scanDetector(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
