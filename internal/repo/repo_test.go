package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"visionline/internal/db"
	"visionline/internal/domain"
	"visionline/internal/migrate"
	"visionline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.New(conn, db.DriverSQLite)
}

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func seedDetector(t *testing.T, r repo.Repo) domain.Detector {
	t.Helper()
	d := domain.Detector{
		ID:                  domain.NewID(domain.PrefixDetector),
		Name:                "Forklift",
		Mode:                domain.ModeBinary,
		Query:               "Is a forklift in the aisle?",
		ConfidenceThreshold: 0.8,
		IsActive:            true,
		CreatedBy:           "tester",
		CreatedAt:           t0,
		UpdatedAt:           t0,
	}
	if err := r.InsertDetector(context.Background(), d); err != nil {
		t.Fatalf("insert detector: %v", err)
	}
	return d
}

func seedQuery(t *testing.T, r repo.Repo, detectorID string) domain.ImageQuery {
	t.Helper()
	q := domain.ImageQuery{
		ID:          domain.NewID(domain.PrefixImageQuery),
		DetectorID:  detectorID,
		SnapshotURL: "https://cdn.example.com/frame.jpg",
		CreatedAt:   t0,
	}
	if err := r.InsertImageQuery(context.Background(), q); err != nil {
		t.Fatalf("insert image query: %v", err)
	}
	return q
}

func TestCompleteImageQueryOnlyOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	d := seedDetector(t, r)
	q := seedQuery(t, r, d.ID)

	got, err := r.GetImageQuery(ctx, q.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Complete() || got.Answer != nil || got.ProcessedAt != nil {
		t.Fatalf("new query should be pending: %+v", got)
	}

	applied, err := r.CompleteImageQuery(ctx, q.ID, domain.AnswerYes, 0.91, t0.Add(time.Second))
	if err != nil || !applied {
		t.Fatalf("first completion applied=%v err=%v", applied, err)
	}
	applied, err = r.CompleteImageQuery(ctx, q.ID, domain.AnswerNo, 0.2, t0.Add(2*time.Second))
	if err != nil || applied {
		t.Fatalf("second completion applied=%v err=%v", applied, err)
	}

	got, err = r.GetImageQueryFresh(ctx, q.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if !got.Complete() || *got.Answer != domain.AnswerYes || *got.AnswerScore != 0.91 {
		t.Fatalf("unexpected stored answer: %+v", got)
	}
	if !got.ProcessedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("processed_at = %v", got.ProcessedAt)
	}
}

func TestGetByWrongPrefixIsNotFound(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	d := seedDetector(t, r)
	q := seedQuery(t, r, d.ID)

	if _, err := r.GetImageQuery(ctx, "det-"+q.ID[len("iq-"):]); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("wrong prefix: %v", err)
	}
	if _, err := r.GetImageQuery(ctx, "iq-not-a-uuid"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bad uuid: %v", err)
	}
	if _, err := r.GetImageQuery(ctx, domain.NewID(domain.PrefixImageQuery)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
	if _, err := r.GetDetector(ctx, q.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("query id as detector id: %v", err)
	}
}

func TestUpdateStreamPartial(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	s := domain.Stream{
		ID:        domain.NewID(domain.PrefixStream),
		Name:      "Dock 4",
		RTSPURL:   "rtsp://cam-4/live",
		ZoneMasks: map[string]any{"door": []any{1.0, 2.0}},
		IsActive:  true,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	if err := r.InsertStream(ctx, s); err != nil {
		t.Fatalf("insert stream: %v", err)
	}
	inactive := false
	updated, err := r.UpdateStream(ctx, s.ID, repo.StreamUpdate{IsActive: &inactive, UpdatedAt: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IsActive || updated.Name != "Dock 4" || updated.RTSPURL != s.RTSPURL {
		t.Fatalf("unexpected stream after update: %+v", updated)
	}
	if _, ok := updated.ZoneMasks["door"]; !ok {
		t.Fatalf("zone masks lost: %+v", updated.ZoneMasks)
	}
	if _, err := r.UpdateStream(ctx, domain.NewID(domain.PrefixStream), repo.StreamUpdate{UpdatedAt: t0}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("update unknown stream: %v", err)
	}
}

func TestPruneJobLinks(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	resolved := t0.Add(time.Minute)
	deadline := t0.Add(30 * time.Second)
	links := []repo.JobLink{
		{JobID: "job-resolved", ImageQueryID: "iq-1", CreatedAt: t0, ResolvedAt: &resolved},
		{JobID: "job-expired", ImageQueryID: "iq-2", CreatedAt: t0, Deadline: &deadline},
		{JobID: "job-open", ImageQueryID: "iq-3", CreatedAt: t0.Add(time.Hour)},
	}
	for _, l := range links {
		if err := r.InsertJobLink(ctx, l); err != nil {
			t.Fatalf("insert %s: %v", l.JobID, err)
		}
	}
	cutoff := t0.Add(10 * time.Minute)
	n, err := r.PruneJobLinks(ctx, cutoff, cutoff, t0)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d links, want 2", n)
	}
	if _, err := r.GetJobLink(ctx, "job-open"); err != nil {
		t.Fatalf("open link pruned: %v", err)
	}
	if _, err := r.GetJobLink(ctx, "job-expired"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expired link kept: %v", err)
	}
}
