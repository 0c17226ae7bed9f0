package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visionline/internal/domain"
)

var now = time.Date(2025, 4, 5, 6, 7, 8, 0, time.UTC)

func answered(answer domain.Answer, score float64) domain.ImageQuery {
	processed := now
	return domain.ImageQuery{
		ID:          domain.NewID(domain.PrefixImageQuery),
		DetectorID:  "det-x",
		SnapshotURL: "https://x/y.jpg",
		Answer:      &answer,
		AnswerScore: &score,
		CreatedAt:   now,
		ProcessedAt: &processed,
	}
}

func detector(mode domain.DetectorMode) domain.Detector {
	return domain.Detector{
		ID:                  domain.NewID(domain.PrefixDetector),
		Name:                "Forklift",
		Mode:                mode,
		Query:               "Is a forklift present?",
		ConfidenceThreshold: 0.8,
	}
}

func TestMaybeAlert(t *testing.T) {
	policy := DefaultPolicy()
	cases := []struct {
		name  string
		mode  domain.DetectorMode
		iq    domain.ImageQuery
		alert bool
	}{
		{"yes above threshold", domain.ModeBinary, answered(domain.AnswerYes, 0.92), true},
		{"yes at threshold", domain.ModeBinary, answered(domain.AnswerYes, 0.8), true},
		{"yes below threshold", domain.ModeBinary, answered(domain.AnswerYes, 0.5), false},
		{"no", domain.ModeBinary, answered(domain.AnswerNo, 0.99), false},
		{"unknown", domain.ModeBinary, answered(domain.AnswerUnknown, 0.99), false},
		{"counting never alerts", domain.ModeCounting, answered(domain.AnswerYes, 0.99), false},
		{"multiclass never alerts", domain.ModeMulticlass, answered(domain.AnswerYes, 0.99), false},
		{"pending", domain.ModeBinary, domain.ImageQuery{ID: "iq-p"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			det := detector(tc.mode)
			a, ok := MaybeAlert(tc.iq, det, policy, now)
			assert.Equal(t, tc.alert, ok)
			if !ok {
				return
			}
			assert.True(t, domain.ValidID(domain.PrefixAlert, a.ID))
			assert.Equal(t, det.ID, a.DetectorID)
			assert.Equal(t, tc.iq.ID, a.ImageQueryID)
			assert.Equal(t, domain.AlertOpen, a.Status)
			assert.Equal(t, domain.ChannelWebhook, a.Channel)
			assert.Nil(t, a.ResolvedAt)
		})
	}
}

func TestMaybeAlertMessage(t *testing.T) {
	a, ok := MaybeAlert(answered(domain.AnswerYes, 0.92), detector(domain.ModeBinary), DefaultPolicy(), now)
	require.True(t, ok)
	assert.Equal(t, "Forklift: Is a forklift present? answered YES (score 0.92)", a.Message)

	custom, err := NewPolicy(domain.ChannelEmail, `ALERT {{.Detector.Name}} {{.ImageQuery.SnapshotURL}}`)
	require.NoError(t, err)
	a, ok = MaybeAlert(answered(domain.AnswerYes, 0.92), detector(domain.ModeBinary), custom, now)
	require.True(t, ok)
	assert.Equal(t, "ALERT Forklift https://x/y.jpg", a.Message)
	assert.Equal(t, domain.ChannelEmail, a.Channel)

	_, err = NewPolicy("pager", "")
	assert.Error(t, err)
	_, err = NewPolicy(domain.ChannelSMS, "{{.Broken")
	assert.Error(t, err)
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookEvent
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a, ok := MaybeAlert(answered(domain.AnswerYes, 0.95), detector(domain.ModeBinary), DefaultPolicy(), now)
	require.True(t, ok)
	n := WebhookNotifier{URL: srv.URL, Secret: "s3cret"}
	require.NoError(t, n.Notify(context.Background(), a))
	assert.Equal(t, "alert.raised", got.Type)
	assert.Equal(t, a.ID, got.Alert.ID)
	assert.Equal(t, "s3cret", headers.Get("X-Visionline-Secret"))
	assert.Equal(t, a.ID, headers.Get("X-Visionline-Delivery"))
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := WebhookNotifier{URL: srv.URL}.Notify(context.Background(), domain.Alert{ID: "alrt-1"})
	assert.ErrorContains(t, err, "status 502")
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, domain.Alert) error { c.n++; return nil }

func TestRouterSkipsUnconfiguredChannels(t *testing.T) {
	webhook := &countingNotifier{}
	r := Router{Channels: map[domain.AlertChannel]Notifier{domain.ChannelWebhook: webhook}}
	require.NoError(t, r.Notify(context.Background(), domain.Alert{Channel: domain.ChannelWebhook}))
	require.NoError(t, r.Notify(context.Background(), domain.Alert{Channel: domain.ChannelSMS}))
	assert.Equal(t, 1, webhook.n)
}
