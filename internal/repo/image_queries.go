package repo

import (
	"context"
	"database/sql"
	"time"

	"visionline/internal/domain"
)

const imageQueryColumns = `id,detector_id,stream_id,snapshot_url,answer,answer_score,created_at,processed_at`

func scanImageQuery(row rowScanner) (domain.ImageQuery, error) {
	var q domain.ImageQuery
	var streamID, answer, processedAt sql.NullString
	var score sql.NullFloat64
	var createdAt string
	if err := row.Scan(&q.ID, &q.DetectorID, &streamID, &q.SnapshotURL, &answer, &score, &createdAt, &processedAt); err != nil {
		return domain.ImageQuery{}, notFound(err)
	}
	q.StreamID = optionalString(streamID)
	if answer.Valid {
		a := domain.Answer(answer.String)
		q.Answer = &a
	}
	if score.Valid {
		v := score.Float64
		q.AnswerScore = &v
	}
	var err error
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.ImageQuery{}, err
	}
	if q.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return domain.ImageQuery{}, err
	}
	return q, nil
}

// InsertImageQuery stores a new pending query.
func (r Repo) InsertImageQuery(ctx context.Context, q domain.ImageQuery) error {
	var streamID any
	if q.StreamID != nil {
		streamID = *q.StreamID
	}
	_, err := r.exec(ctx, `INSERT INTO image_queries(id,detector_id,stream_id,snapshot_url,created_at) VALUES (?,?,?,?,?)`,
		q.ID, q.DetectorID, streamID, q.SnapshotURL, formatTime(q.CreatedAt))
	return err
}

// GetImageQuery reads the current row straight from the database.
func (r Repo) GetImageQuery(ctx context.Context, id string) (domain.ImageQuery, error) {
	if !domain.ValidID(domain.PrefixImageQuery, id) {
		return domain.ImageQuery{}, ErrNotFound
	}
	return scanImageQuery(r.queryRow(ctx, `SELECT `+imageQueryColumns+` FROM image_queries WHERE id=?`, id))
}

// GetImageQueryFresh is GetImageQuery under the name the wait loop depends on.
func (r Repo) GetImageQueryFresh(ctx context.Context, id string) (domain.ImageQuery, error) {
	return r.GetImageQuery(ctx, id)
}

// CompleteImageQuery records an answer only if the query is still pending.
// It reports false when another writer got there first.
func (r Repo) CompleteImageQuery(ctx context.Context, id string, answer domain.Answer, score float64, processedAt time.Time) (bool, error) {
	res, err := r.exec(ctx, `UPDATE image_queries SET answer=?, answer_score=?, processed_at=? WHERE id=? AND answer IS NULL`,
		string(answer), score, formatTime(processedAt), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ListImageQueries(ctx context.Context, detectorID string, limit int) ([]domain.ImageQuery, error) {
	query := `SELECT ` + imageQueryColumns + ` FROM image_queries`
	var args []any
	if detectorID != "" {
		query += ` WHERE detector_id=?`
		args = append(args, detectorID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ImageQuery
	for rows.Next() {
		q, err := scanImageQuery(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}
