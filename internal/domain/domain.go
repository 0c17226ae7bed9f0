package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an entity does not exist or its id cannot be parsed.
var ErrNotFound = errors.New("not found")

// Public id prefixes.
const (
	PrefixDetector   = "det"
	PrefixImageQuery = "iq"
	PrefixStream     = "str"
	PrefixAlert      = "alrt"
	PrefixJob        = "job"
)

// NewID mints a public id of the form <prefix>-<uuid>.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// ParseID checks that id is <prefix>-<uuid> and returns the uuid part.
// A wrong prefix or malformed uuid yields ErrNotFound.
func ParseID(prefix, id string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return u, nil
}

// ValidID reports whether id carries prefix and a well-formed uuid.
func ValidID(prefix, id string) bool {
	_, err := ParseID(prefix, id)
	return err == nil
}

type Answer string

const (
	AnswerYes     Answer = "YES"
	AnswerNo      Answer = "NO"
	AnswerUnknown Answer = "UNKNOWN"
)

// ParseAnswer accepts the exact wire values only.
func ParseAnswer(s string) (Answer, bool) {
	switch Answer(s) {
	case AnswerYes, AnswerNo, AnswerUnknown:
		return Answer(s), true
	}
	return "", false
}

type DetectorMode string

const (
	ModeBinary      DetectorMode = "binary"
	ModeMulticlass  DetectorMode = "multiclass"
	ModeCounting    DetectorMode = "counting"
	ModeBoundingBox DetectorMode = "bounding_box"
)

func ParseDetectorMode(s string) (DetectorMode, bool) {
	switch DetectorMode(s) {
	case ModeBinary, ModeMulticlass, ModeCounting, ModeBoundingBox:
		return DetectorMode(s), true
	}
	return "", false
}

type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertAck      AlertStatus = "ack"
	AlertResolved AlertStatus = "resolved"
)

type AlertChannel string

const (
	ChannelEmail   AlertChannel = "email"
	ChannelSMS     AlertChannel = "sms"
	ChannelWebhook AlertChannel = "webhook"
)

func ParseAlertChannel(s string) (AlertChannel, bool) {
	switch AlertChannel(s) {
	case ChannelEmail, ChannelSMS, ChannelWebhook:
		return AlertChannel(s), true
	}
	return "", false
}

type Detector struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Mode                DetectorMode `json:"mode"`
	Query               string       `json:"query"`
	ConfidenceThreshold float64      `json:"confidence_threshold"`
	IsActive            bool         `json:"is_active"`
	PatienceSeconds     float64      `json:"patience_seconds"`
	ModelID             string       `json:"model_id,omitempty"`
	CreatedBy           string       `json:"created_by"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type Stream struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	RTSPURL   string         `json:"rtsp_url"`
	ZoneMasks map[string]any `json:"zone_masks,omitempty"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ImageQuery is a single inference request. It is pending until a result
// sets Answer, AnswerScore and ProcessedAt together.
type ImageQuery struct {
	ID          string     `json:"id"`
	DetectorID  string     `json:"detector_id"`
	StreamID    *string    `json:"rtsp_source_id"`
	SnapshotURL string     `json:"snapshot_url"`
	Answer      *Answer    `json:"answer"`
	AnswerScore *float64   `json:"answer_score"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// Complete reports whether the query has been answered.
func (q ImageQuery) Complete() bool {
	return q.Answer != nil && q.ProcessedAt != nil
}

type Alert struct {
	ID           string       `json:"id"`
	DetectorID   string       `json:"detector_id"`
	ImageQueryID string       `json:"image_query_id"`
	Status       AlertStatus  `json:"status"`
	Message      string       `json:"message"`
	Channel      AlertChannel `json:"channel"`
	CreatedAt    time.Time    `json:"created_at"`
	ResolvedAt   *time.Time   `json:"resolved_at"`
}

// Event is an append-only audit record of a state change.
type Event struct {
	ID         string `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}
