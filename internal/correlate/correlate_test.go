package correlate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visionline/internal/alerting"
	"visionline/internal/bus"
	"visionline/internal/correlate"
	"visionline/internal/correlation"
	"visionline/internal/db"
	"visionline/internal/domain"
	"visionline/internal/messages"
	"visionline/internal/migrate"
	"visionline/internal/repo"
)

var t0 = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	repo       repo.Repo
	table      *correlation.MemoryTable
	correlator correlate.Correlator
	notifier   *fakeNotifier
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, a domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return f.err
}

func newEnv(t *testing.T) env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.New(conn, db.DriverSQLite)
	table := correlation.NewMemory(correlation.DefaultRetention())
	n := &fakeNotifier{}
	return env{
		repo:     r,
		table:    table,
		notifier: n,
		correlator: correlate.Correlator{
			Store:        r,
			Correlations: table,
			Alerts:       alerting.DefaultPolicy(),
			Notifier:     n,
			Now:          func() time.Time { return t0.Add(time.Minute) },
		},
	}
}

// pendingJob stores a detector and a pending query and binds a job to it.
func (e env) pendingJob(t *testing.T, mode domain.DetectorMode, threshold float64) (string, domain.ImageQuery) {
	t.Helper()
	ctx := context.Background()
	det := domain.Detector{
		ID:                  domain.NewID(domain.PrefixDetector),
		Name:                "Forklift",
		Mode:                mode,
		Query:               "Is a forklift present?",
		ConfidenceThreshold: threshold,
		IsActive:            true,
		CreatedBy:           "tester",
		CreatedAt:           t0,
		UpdatedAt:           t0,
	}
	require.NoError(t, e.repo.InsertDetector(ctx, det))
	iq := domain.ImageQuery{
		ID:          domain.NewID(domain.PrefixImageQuery),
		DetectorID:  det.ID,
		SnapshotURL: "https://cdn.example.com/f.jpg",
		CreatedAt:   t0,
	}
	require.NoError(t, e.repo.InsertImageQuery(ctx, iq))
	jobID := domain.NewID(domain.PrefixJob)
	require.NoError(t, e.table.Bind(ctx, correlation.Entry{JobID: jobID, ImageQueryID: iq.ID, CreatedAt: t0}))
	return jobID, iq
}

func TestApplyYesAboveThresholdRaisesAlert(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jobID, iq := e.pendingJob(t, domain.ModeBinary, 0.8)

	out, err := e.correlator.Apply(ctx, messages.ResultMessage{JobID: jobID, Answer: domain.AnswerYes, Score: 0.92})
	require.NoError(t, err)
	assert.Equal(t, correlate.Applied, out.Kind)
	require.NotNil(t, out.Alert)
	assert.NoError(t, out.AlertErr)

	stored, err := e.repo.GetImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	require.True(t, stored.Complete())
	assert.Equal(t, domain.AnswerYes, *stored.Answer)
	assert.Equal(t, 0.92, *stored.AnswerScore)
	assert.True(t, t0.Add(time.Minute).Equal(*stored.ProcessedAt))

	alerts, err := e.repo.AlertsForImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertOpen, alerts[0].Status)
	assert.Equal(t, out.Alert.ID, alerts[0].ID)
	assert.Len(t, e.notifier.alerts, 1)

	entry, ok, _ := e.table.Lookup(ctx, jobID)
	require.True(t, ok)
	assert.NotNil(t, entry.ResolvedAt)
}

func TestApplyNoAnswerRaisesNoAlert(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jobID, iq := e.pendingJob(t, domain.ModeBinary, 0.5)
	processed := time.Date(2025, 7, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	out, err := e.correlator.Apply(ctx, messages.ResultMessage{JobID: jobID, Answer: domain.AnswerNo, Score: 0.3, ProcessedAt: &processed})
	require.NoError(t, err)
	assert.Equal(t, correlate.Applied, out.Kind)
	assert.Nil(t, out.Alert)

	stored, err := e.repo.GetImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerNo, *stored.Answer)
	assert.True(t, processed.Equal(*stored.ProcessedAt))
	alerts, err := e.repo.AlertsForImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestApplyNonBinaryNeverAlerts(t *testing.T) {
	e := newEnv(t)
	jobID, _ := e.pendingJob(t, domain.ModeCounting, 0.1)
	out, err := e.correlator.Apply(context.Background(), messages.ResultMessage{JobID: jobID, Answer: domain.AnswerYes, Score: 0.99})
	require.NoError(t, err)
	assert.Equal(t, correlate.Applied, out.Kind)
	assert.Nil(t, out.Alert)
	assert.Empty(t, e.notifier.alerts)
}

func TestApplyIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jobID, iq := e.pendingJob(t, domain.ModeBinary, 0.8)
	msg := messages.ResultMessage{JobID: jobID, Answer: domain.AnswerYes, Score: 0.92}

	first, err := e.correlator.Apply(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, correlate.Applied, first.Kind)
	after, err := e.repo.GetImageQuery(ctx, iq.ID)
	require.NoError(t, err)

	second, err := e.correlator.Apply(ctx, messages.ResultMessage{JobID: jobID, Answer: domain.AnswerNo, Score: 0.1})
	require.NoError(t, err)
	assert.Equal(t, correlate.Ignored, second.Kind)
	assert.Equal(t, correlate.ReasonAlreadyProcessed, second.Reason)

	again, err := e.repo.GetImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	assert.Equal(t, after, again)
	alerts, err := e.repo.AlertsForImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestApplyConcurrentDuplicatesApplyOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jobID, iq := e.pendingJob(t, domain.ModeBinary, 0.8)

	const n = 8
	outcomes := make([]correlate.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.correlator.Apply(ctx, messages.ResultMessage{JobID: jobID, Answer: domain.AnswerYes, Score: 0.9})
			if err != nil {
				t.Errorf("apply: %v", err)
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()
	applied := 0
	for _, out := range outcomes {
		if out.Kind == correlate.Applied {
			applied++
		} else {
			assert.Equal(t, correlate.Ignored, out.Kind)
		}
	}
	assert.Equal(t, 1, applied)
	alerts, err := e.repo.AlertsForImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestApplyRejectsUnknownJob(t *testing.T) {
	e := newEnv(t)
	out, err := e.correlator.Apply(context.Background(), messages.ResultMessage{JobID: "job-nobody", Answer: domain.AnswerYes, Score: 1})
	require.NoError(t, err)
	assert.Equal(t, correlate.Rejected, out.Kind)
	assert.Equal(t, correlate.ReasonUnknownJob, out.Reason)
}

func TestApplyRejectsUnknownImageQuery(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jobID := domain.NewID(domain.PrefixJob)
	require.NoError(t, e.table.Bind(ctx, correlation.Entry{JobID: jobID, ImageQueryID: domain.NewID(domain.PrefixImageQuery), CreatedAt: t0}))
	out, err := e.correlator.Apply(ctx, messages.ResultMessage{JobID: jobID, Answer: domain.AnswerYes, Score: 1})
	require.NoError(t, err)
	assert.Equal(t, correlate.Rejected, out.Kind)
	assert.Equal(t, correlate.ReasonUnknownImageQuery, out.Reason)
}

func TestApplyKeepsAnswerWhenNotifyFails(t *testing.T) {
	e := newEnv(t)
	e.notifier.err = errors.New("webhook down")
	ctx := context.Background()
	jobID, iq := e.pendingJob(t, domain.ModeBinary, 0.5)

	out, err := e.correlator.Apply(ctx, messages.ResultMessage{JobID: jobID, Answer: domain.AnswerYes, Score: 0.7})
	require.NoError(t, err)
	assert.Equal(t, correlate.Applied, out.Kind)
	require.NotNil(t, out.Alert)
	assert.Error(t, out.AlertErr)

	stored, err := e.repo.GetImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	assert.True(t, stored.Complete())
}

func TestApplyOutOfRangeScoreStillApplied(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	jobID, iq := e.pendingJob(t, domain.ModeBinary, 0.5)
	out, err := e.correlator.Apply(ctx, messages.ResultMessage{JobID: jobID, Answer: domain.AnswerUnknown, Score: 1.4})
	require.NoError(t, err)
	assert.Equal(t, correlate.Applied, out.Kind)
	stored, err := e.repo.GetImageQuery(ctx, iq.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.4, *stored.AnswerScore)
}

func TestConsumerAppliesResultsAndDeadLetters(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.NewMemory()
	defer b.Close()

	dead := make(chan bus.Message, 1)
	_, err := b.Subscribe("inference.results.dead", func(_ context.Context, m bus.Message) { dead <- m })
	require.NoError(t, err)

	consumer := correlate.Consumer{Bus: b, DeadLetterSubject: "inference.results.dead", Correlator: e.correlator}
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	jobID, iq := e.pendingJob(t, domain.ModeBinary, 0.8)
	payload, err := messages.EncodeResult(messages.ResultMessage{JobID: jobID, Answer: domain.AnswerYes, Score: 0.95})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		// The subscription may not exist on the first attempt.
		_ = b.Publish(ctx, correlate.DefaultSubject, payload)
		stored, err := e.repo.GetImageQuery(context.Background(), iq.ID)
		return err == nil && stored.Complete()
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Publish(ctx, correlate.DefaultSubject, []byte(`{"job_id":"x","answer":"PERHAPS","score":1}`)))
	select {
	case m := <-dead:
		assert.Contains(t, string(m.Data), "PERHAPS")
	case <-time.After(2 * time.Second):
		t.Fatal("no dead-letter delivery")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
