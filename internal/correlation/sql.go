package correlation

import (
	"context"
	"errors"
	"time"

	"visionline/internal/repo"
)

// SQLTable keeps correlations in the inference_jobs table so they survive
// restarts and are shared by every API replica on the same database.
type SQLTable struct {
	Repo      repo.Repo
	Retention Retention
}

func (t SQLTable) Bind(ctx context.Context, e Entry) error {
	if _, err := t.Repo.GetJobLink(ctx, e.JobID); err == nil {
		return ErrDuplicateJob
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return t.Repo.InsertJobLink(ctx, repo.JobLink{
		JobID:        e.JobID,
		ImageQueryID: e.ImageQueryID,
		Deadline:     e.Deadline,
		CreatedAt:    e.CreatedAt,
		ResolvedAt:   e.ResolvedAt,
	})
}

func (t SQLTable) Lookup(ctx context.Context, jobID string) (Entry, bool, error) {
	l, err := t.Repo.GetJobLink(ctx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{
		JobID:        l.JobID,
		ImageQueryID: l.ImageQueryID,
		Deadline:     l.Deadline,
		CreatedAt:    l.CreatedAt,
		ResolvedAt:   l.ResolvedAt,
	}, true, nil
}

func (t SQLTable) Resolve(ctx context.Context, jobID string, at time.Time) error {
	return t.Repo.ResolveJobLink(ctx, jobID, at)
}

func (t SQLTable) Forget(ctx context.Context, jobID string) error {
	return t.Repo.DeleteJobLink(ctx, jobID)
}

func (t SQLTable) Sweep(ctx context.Context, now time.Time) (int, error) {
	created := time.Time{}
	if t.Retention.Unbounded > 0 {
		created = now.Add(-t.Retention.Unbounded)
	}
	return t.Repo.PruneJobLinks(ctx, now.Add(-t.Retention.Resolved), now.Add(-t.Retention.Expired), created)
}
