package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visionline/internal/correlation"
	"visionline/internal/domain"
	"visionline/internal/messages"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

var now = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

func fixtures() (domain.ImageQuery, domain.Detector) {
	det := domain.Detector{
		ID:                  domain.NewID(domain.PrefixDetector),
		Name:                "Door",
		Mode:                domain.ModeBinary,
		Query:               "Is the door open?",
		ConfidenceThreshold: 0.5,
		PatienceSeconds:     30,
	}
	iq := domain.ImageQuery{
		ID:          domain.NewID(domain.PrefixImageQuery),
		DetectorID:  det.ID,
		SnapshotURL: "https://cdn.example.com/door.jpg",
		CreatedAt:   now,
	}
	return iq, det
}

func newDispatcher(pub *recordingPublisher) (Dispatcher, *correlation.MemoryTable) {
	table := correlation.NewMemory(correlation.DefaultRetention())
	return Dispatcher{
		Bus:            pub,
		Correlations:   table,
		DefaultModelID: "default-model",
		Now:            func() time.Time { return now },
	}, table
}

func TestDispatchPublishesJobAndBindsCorrelation(t *testing.T) {
	pub := &recordingPublisher{}
	d, table := newDispatcher(pub)
	iq, det := fixtures()
	ctx := WithRequestID(context.Background(), "req-42")

	jobID, err := d.Dispatch(ctx, iq, det, "alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(jobID, "job-"))
	assert.True(t, domain.ValidID(domain.PrefixJob, jobID))

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, DefaultSubject, pub.subjects[0])
	msg, err := messages.DecodeJob(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, "default-model", msg.ModelID)
	assert.Equal(t, det.ID, msg.DetectorID)
	assert.Equal(t, "alice", msg.RequestedBy)
	require.NotNil(t, msg.ImageBlobURL)
	assert.Equal(t, iq.SnapshotURL, *msg.ImageBlobURL)
	assert.Nil(t, msg.RTSPRef)
	require.NotNil(t, msg.Deadline)
	assert.True(t, now.Add(30*time.Second).Equal(*msg.Deadline))
	assert.Equal(t, iq.ID, msg.Trace["image_query_id"])
	assert.Equal(t, "req-42", msg.Trace["request_id"])

	entry, ok, err := table.Lookup(ctx, jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, iq.ID, entry.ImageQueryID)
}

func TestDispatchStreamQueryUsesRTSPRef(t *testing.T) {
	pub := &recordingPublisher{}
	d, _ := newDispatcher(pub)
	iq, det := fixtures()
	streamID := domain.NewID(domain.PrefixStream)
	iq.StreamID = &streamID
	det.PatienceSeconds = 0
	det.ModelID = "door-v2"

	_, err := d.Dispatch(context.Background(), iq, det, "")
	require.NoError(t, err)
	msg, err := messages.DecodeJob(pub.payloads[0])
	require.NoError(t, err)
	require.NotNil(t, msg.RTSPRef)
	assert.Equal(t, streamID, *msg.RTSPRef)
	assert.Nil(t, msg.ImageBlobURL)
	assert.Nil(t, msg.Deadline)
	assert.Equal(t, "door-v2", msg.ModelID)
	assert.Equal(t, "anonymous", msg.RequestedBy)
}

func TestDispatchFreshJobIDs(t *testing.T) {
	pub := &recordingPublisher{}
	d, table := newDispatcher(pub)
	iq, det := fixtures()
	first, err := d.Dispatch(context.Background(), iq, det, "a")
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), iq, det, "a")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, table.Len())
}

func TestDispatchRejectsAnsweredQuery(t *testing.T) {
	pub := &recordingPublisher{}
	d, table := newDispatcher(pub)
	iq, det := fixtures()
	answer := domain.AnswerNo
	processed := now
	iq.Answer = &answer
	iq.ProcessedAt = &processed

	_, err := d.Dispatch(context.Background(), iq, det, "a")
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Empty(t, pub.payloads)
	assert.Zero(t, table.Len())
}

func TestDispatchPublishFailureDropsCorrelation(t *testing.T) {
	cause := errors.New("broker down")
	pub := &recordingPublisher{err: cause}
	d, table := newDispatcher(pub)
	iq, det := fixtures()

	_, err := d.Dispatch(context.Background(), iq, det, "a")
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.ErrorIs(t, err, cause)
	assert.Zero(t, table.Len())
}
