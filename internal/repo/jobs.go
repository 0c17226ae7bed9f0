package repo

import (
	"context"
	"database/sql"
	"time"
)

// JobLink maps a published job back to the image query it answers.
type JobLink struct {
	JobID        string
	ImageQueryID string
	Deadline     *time.Time
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

func (r Repo) InsertJobLink(ctx context.Context, l JobLink) error {
	_, err := r.exec(ctx, `INSERT INTO inference_jobs(job_id,image_query_id,deadline,created_at,resolved_at) VALUES (?,?,?,?,?)`,
		l.JobID, l.ImageQueryID, formatTimePtr(l.Deadline), formatTime(l.CreatedAt), formatTimePtr(l.ResolvedAt))
	return err
}

func (r Repo) GetJobLink(ctx context.Context, jobID string) (JobLink, error) {
	var l JobLink
	var deadline, resolvedAt sql.NullString
	var createdAt string
	err := r.queryRow(ctx, `SELECT job_id,image_query_id,deadline,created_at,resolved_at FROM inference_jobs WHERE job_id=?`, jobID).
		Scan(&l.JobID, &l.ImageQueryID, &deadline, &createdAt, &resolvedAt)
	if err != nil {
		return JobLink{}, notFound(err)
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return JobLink{}, err
	}
	if l.Deadline, err = parseNullTime(deadline); err != nil {
		return JobLink{}, err
	}
	if l.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return JobLink{}, err
	}
	return l, nil
}

func (r Repo) ResolveJobLink(ctx context.Context, jobID string, at time.Time) error {
	_, err := r.exec(ctx, `UPDATE inference_jobs SET resolved_at=? WHERE job_id=? AND resolved_at IS NULL`, formatTime(at), jobID)
	return err
}

func (r Repo) DeleteJobLink(ctx context.Context, jobID string) error {
	_, err := r.exec(ctx, `DELETE FROM inference_jobs WHERE job_id=?`, jobID)
	return err
}

// PruneJobLinks removes links resolved before resolvedBefore, links whose
// deadline passed before expiredBefore, and undated links created before
// createdBefore. RFC 3339 UTC strings compare in time order.
func (r Repo) PruneJobLinks(ctx context.Context, resolvedBefore, expiredBefore, createdBefore time.Time) (int, error) {
	res, err := r.exec(ctx, `DELETE FROM inference_jobs
WHERE (resolved_at IS NOT NULL AND resolved_at < ?)
   OR (resolved_at IS NULL AND deadline IS NOT NULL AND deadline < ?)
   OR (resolved_at IS NULL AND deadline IS NULL AND created_at < ?)`,
		formatTime(resolvedBefore), formatTime(expiredBefore), formatTime(createdBefore))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
