package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"visionline/internal/dispatch"
	"visionline/internal/domain"
	"visionline/internal/events"
	"visionline/internal/repo"
	"visionline/internal/wait"
)

const (
	maxNameLength       = 255
	defaultThreshold    = 0.5
	defaultListLimit    = 50
	maxListLimit        = 500
	defaultRecentAlerts = 20
	maxRecentAlerts     = 100
)

type DetectorCreateOptions struct {
	Name                string
	Mode                string
	Query               string
	ConfidenceThreshold *float64
	PatienceSeconds     float64
	ModelID             string
	ActorID             string
}

func (e Engine) CreateDetector(ctx context.Context, opts DetectorCreateOptions) (domain.Detector, error) {
	name := strings.TrimSpace(opts.Name)
	if err := checkName(name); err != nil {
		return domain.Detector{}, err
	}
	if strings.TrimSpace(opts.Query) == "" {
		return domain.Detector{}, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	mode := domain.ModeBinary
	if opts.Mode != "" {
		m, ok := domain.ParseDetectorMode(opts.Mode)
		if !ok {
			return domain.Detector{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, opts.Mode)
		}
		mode = m
	}
	threshold := defaultThreshold
	if opts.ConfidenceThreshold != nil {
		threshold = *opts.ConfidenceThreshold
	}
	if threshold < 0 || threshold > 1 {
		return domain.Detector{}, fmt.Errorf("%w: confidence_threshold must be within [0,1]", ErrInvalidInput)
	}
	if opts.PatienceSeconds < 0 {
		return domain.Detector{}, fmt.Errorf("%w: patience_seconds must be non-negative", ErrInvalidInput)
	}
	actor := actorOrAnonymous(opts.ActorID)
	now := e.now().UTC()
	d := domain.Detector{
		ID:                  domain.NewID(domain.PrefixDetector),
		Name:                name,
		Mode:                mode,
		Query:               opts.Query,
		ConfidenceThreshold: threshold,
		IsActive:            true,
		PatienceSeconds:     opts.PatienceSeconds,
		ModelID:             opts.ModelID,
		CreatedBy:           actor,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.Repo.InsertDetector(ctx, d); err != nil {
		return domain.Detector{}, err
	}
	e.record(ctx, events.DetectorCreated, "detector", d.ID, actor, events.EventPayload{"name": d.Name, "mode": string(d.Mode)})
	return d, nil
}

func (e Engine) GetDetector(ctx context.Context, id string) (domain.Detector, error) {
	return e.Repo.GetDetector(ctx, id)
}

func (e Engine) ListDetectors(ctx context.Context, limit int) ([]domain.Detector, error) {
	return e.Repo.ListDetectors(ctx, clampLimit(limit, defaultListLimit, maxListLimit))
}

type StreamCreateOptions struct {
	Name      string
	RTSPURL   string
	ZoneMasks map[string]any
	ActorID   string
}

func (e Engine) CreateStream(ctx context.Context, opts StreamCreateOptions) (domain.Stream, error) {
	name := strings.TrimSpace(opts.Name)
	if err := checkName(name); err != nil {
		return domain.Stream{}, err
	}
	if strings.TrimSpace(opts.RTSPURL) == "" {
		return domain.Stream{}, fmt.Errorf("%w: rtsp_url is required", ErrInvalidInput)
	}
	now := e.now().UTC()
	s := domain.Stream{
		ID:        domain.NewID(domain.PrefixStream),
		Name:      name,
		RTSPURL:   opts.RTSPURL,
		ZoneMasks: opts.ZoneMasks,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertStream(ctx, s); err != nil {
		return domain.Stream{}, err
	}
	e.record(ctx, events.StreamCreated, "stream", s.ID, actorOrAnonymous(opts.ActorID), events.EventPayload{"name": s.Name})
	return s, nil
}

// StreamUpdateOptions is a partial update; nil fields are left unchanged.
type StreamUpdateOptions struct {
	Name      *string
	RTSPURL   *string
	ZoneMasks map[string]any
	IsActive  *bool
	ActorID   string
}

func (e Engine) UpdateStream(ctx context.Context, id string, opts StreamUpdateOptions) (domain.Stream, error) {
	upd := repo.StreamUpdate{ZoneMasks: opts.ZoneMasks, IsActive: opts.IsActive, UpdatedAt: e.now().UTC()}
	changed := []string{}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if err := checkName(name); err != nil {
			return domain.Stream{}, err
		}
		upd.Name = &name
		changed = append(changed, "name")
	}
	if opts.RTSPURL != nil {
		if strings.TrimSpace(*opts.RTSPURL) == "" {
			return domain.Stream{}, fmt.Errorf("%w: rtsp_url must not be empty", ErrInvalidInput)
		}
		upd.RTSPURL = opts.RTSPURL
		changed = append(changed, "rtsp_url")
	}
	if opts.ZoneMasks != nil {
		changed = append(changed, "zone_masks")
	}
	if opts.IsActive != nil {
		changed = append(changed, "is_active")
	}
	s, err := e.Repo.UpdateStream(ctx, id, upd)
	if err != nil {
		return domain.Stream{}, err
	}
	e.record(ctx, events.StreamUpdated, "stream", s.ID, actorOrAnonymous(opts.ActorID), events.EventPayload{"fields": changed})
	return s, nil
}

func (e Engine) GetStream(ctx context.Context, id string) (domain.Stream, error) {
	return e.Repo.GetStream(ctx, id)
}

func (e Engine) ListStreams(ctx context.Context, limit int) ([]domain.Stream, error) {
	return e.Repo.ListStreams(ctx, clampLimit(limit, defaultListLimit, maxListLimit))
}

type SubmitOptions struct {
	DetectorID  string
	StreamID    string
	SnapshotURL string
	RequestedBy string
}

// SubmitImageQuery stores a pending image query and dispatches one job for it.
// When dispatch fails the stored query is returned together with an error
// wrapping dispatch.ErrDispatchFailed; it stays pending.
func (e Engine) SubmitImageQuery(ctx context.Context, opts SubmitOptions) (domain.ImageQuery, error) {
	if !domain.ValidID(domain.PrefixDetector, opts.DetectorID) {
		return domain.ImageQuery{}, fmt.Errorf("%w: malformed detector_id %q", ErrInvalidInput, opts.DetectorID)
	}
	if opts.StreamID != "" && !domain.ValidID(domain.PrefixStream, opts.StreamID) {
		return domain.ImageQuery{}, fmt.Errorf("%w: malformed rtsp_source_id %q", ErrInvalidInput, opts.StreamID)
	}
	if err := checkSnapshotURL(opts.SnapshotURL); err != nil {
		return domain.ImageQuery{}, err
	}
	det, err := e.Repo.GetDetector(ctx, opts.DetectorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ImageQuery{}, fmt.Errorf("%w: %s", ErrDetectorNotFound, opts.DetectorID)
		}
		return domain.ImageQuery{}, err
	}
	var streamID *string
	if opts.StreamID != "" {
		s, err := e.Repo.GetStream(ctx, opts.StreamID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.ImageQuery{}, fmt.Errorf("%w: %s", ErrStreamNotFound, opts.StreamID)
			}
			return domain.ImageQuery{}, err
		}
		streamID = &s.ID
	}
	actor := actorOrAnonymous(opts.RequestedBy)
	iq := domain.ImageQuery{
		ID:          domain.NewID(domain.PrefixImageQuery),
		DetectorID:  det.ID,
		StreamID:    streamID,
		SnapshotURL: opts.SnapshotURL,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.Repo.InsertImageQuery(ctx, iq); err != nil {
		return domain.ImageQuery{}, err
	}
	e.record(ctx, events.ImageQueryCreated, "image_query", iq.ID, actor, events.EventPayload{"detector_id": det.ID})

	jobID, err := e.Dispatcher.Dispatch(ctx, iq, det, actor)
	if err != nil {
		e.record(ctx, events.DispatchFailed, "image_query", iq.ID, actor, events.EventPayload{"error": err.Error()})
		return iq, err
	}
	e.record(ctx, events.JobDispatched, "image_query", iq.ID, actor, events.EventPayload{"job_id": jobID})
	return iq, nil
}

func (e Engine) GetImageQuery(ctx context.Context, id string) (domain.ImageQuery, error) {
	return e.Repo.GetImageQuery(ctx, id)
}

func (e Engine) ListImageQueries(ctx context.Context, detectorID string, limit int) ([]domain.ImageQuery, error) {
	return e.Repo.ListImageQueries(ctx, detectorID, clampLimit(limit, defaultListLimit, maxListLimit))
}

// WaitImageQuery blocks until the query is answered or the timeout elapses.
// Nil timeout or poll take the configured defaults.
func (e Engine) WaitImageQuery(ctx context.Context, id string, timeout, poll *time.Duration) (wait.Outcome, error) {
	return e.Waiter.Wait(ctx, id, timeout, poll)
}

func (e Engine) GetAlert(ctx context.Context, id string) (domain.Alert, error) {
	return e.Repo.GetAlert(ctx, id)
}

// RecentAlerts returns the newest alerts. limit is clamped to [1,100]; zero means 20.
func (e Engine) RecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	return e.Repo.RecentAlerts(ctx, clampLimit(limit, defaultRecentAlerts, maxRecentAlerts))
}

func (e Engine) LatestEvents(ctx context.Context, limit int, filter repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, clampLimit(limit, defaultListLimit, maxListLimit), filter)
}

// IsDispatchFailure reports whether err came from a failed publish after the
// image query was stored.
func IsDispatchFailure(err error) bool {
	return errors.Is(err, dispatch.ErrDispatchFailed)
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLength)
	}
	return nil
}

func checkSnapshotURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: snapshot_url is required", ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: snapshot_url must be an http(s) url", ErrInvalidInput)
	}
	return nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func actorOrAnonymous(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "anonymous"
	}
	return actor
}
