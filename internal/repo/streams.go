package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"visionline/internal/domain"
)

const streamColumns = `id,name,rtsp_url,zone_masks_json,is_active,created_at,updated_at`

// StreamUpdate holds the fields of a partial stream update. Nil fields are left unchanged.
type StreamUpdate struct {
	Name      *string
	RTSPURL   *string
	ZoneMasks map[string]any
	IsActive  *bool
	UpdatedAt time.Time
}

func scanStream(row rowScanner) (domain.Stream, error) {
	var s domain.Stream
	var masks sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&s.ID, &s.Name, &s.RTSPURL, &masks, &s.IsActive, &createdAt, &updatedAt); err != nil {
		return domain.Stream{}, notFound(err)
	}
	if masks.Valid && masks.String != "" {
		if err := json.Unmarshal([]byte(masks.String), &s.ZoneMasks); err != nil {
			return domain.Stream{}, fmt.Errorf("decode zone masks for %s: %w", s.ID, err)
		}
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Stream{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Stream{}, err
	}
	return s, nil
}

func encodeMasks(masks map[string]any) (any, error) {
	if masks == nil {
		return nil, nil
	}
	b, err := json.Marshal(masks)
	if err != nil {
		return nil, fmt.Errorf("encode zone masks: %w", err)
	}
	return string(b), nil
}

func (r Repo) InsertStream(ctx context.Context, s domain.Stream) error {
	masks, err := encodeMasks(s.ZoneMasks)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO streams(`+streamColumns+`) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.RTSPURL, masks, s.IsActive, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	return err
}

func (r Repo) GetStream(ctx context.Context, id string) (domain.Stream, error) {
	if !domain.ValidID(domain.PrefixStream, id) {
		return domain.Stream{}, ErrNotFound
	}
	return scanStream(r.queryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id=?`, id))
}

func (r Repo) ListStreams(ctx context.Context, limit int) ([]domain.Stream, error) {
	rows, err := r.query(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateStream applies the non-nil fields of upd and returns the stored row.
func (r Repo) UpdateStream(ctx context.Context, id string, upd StreamUpdate) (domain.Stream, error) {
	if !domain.ValidID(domain.PrefixStream, id) {
		return domain.Stream{}, ErrNotFound
	}
	sets := []string{"updated_at=?"}
	args := []any{formatTime(upd.UpdatedAt)}
	if upd.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.RTSPURL != nil {
		sets = append(sets, "rtsp_url=?")
		args = append(args, *upd.RTSPURL)
	}
	if upd.ZoneMasks != nil {
		masks, err := encodeMasks(upd.ZoneMasks)
		if err != nil {
			return domain.Stream{}, err
		}
		sets = append(sets, "zone_masks_json=?")
		args = append(args, masks)
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active=?")
		args = append(args, *upd.IsActive)
	}
	args = append(args, id)
	res, err := r.exec(ctx, `UPDATE streams SET `+strings.Join(sets, ",")+` WHERE id=?`, args...)
	if err != nil {
		return domain.Stream{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Stream{}, ErrNotFound
	}
	return r.GetStream(ctx, id)
}
