package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"visionline/internal/db"
)

// Event types recorded by the engine.
const (
	DetectorCreated    = "detector.created"
	StreamCreated      = "stream.created"
	StreamUpdated      = "stream.updated"
	ImageQueryCreated  = "image_query.created"
	ImageQueryAnswered = "image_query.answered"
	JobDispatched      = "job.dispatched"
	DispatchFailed     = "job.dispatch_failed"
	AlertRaised        = "alert.raised"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB     *sql.DB
	Driver string
	Now    func() time.Time
}

type EventPayload map[string]any

// Append records one event. A nil ex writes through w.DB.
func (w Writer) Append(ctx context.Context, ex Execer, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if ex == nil {
		ex = w.DB
	}
	ts := w.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = ex.ExecContext(ctx, db.Rebind(w.Driver, `INSERT INTO events(id,ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		uuid.NewString(), ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
