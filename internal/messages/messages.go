// Package messages defines the wire contracts exchanged with inference
// workers: the job published on dispatch and the result consumed back.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"visionline/internal/domain"
)

const (
	JobSchema    = "visionline.inference-job/v1"
	ResultSchema = "visionline.inference-result/v1"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrInvalidEnumValue = errors.New("invalid enum value")
)

// JobMessage asks a worker to run a model over one image or stream frame.
// Exactly one of ImageBlobURL and RTSPRef is set by the dispatcher; a job
// carrying neither is still well formed.
type JobMessage struct {
	JobID        string
	ModelID      string
	DetectorID   string
	RequestedBy  string
	ImageBlobURL *string
	RTSPRef      *string
	Deadline     *time.Time
	Trace        map[string]any
}

// ResultMessage is a worker's answer for a previously published job.
type ResultMessage struct {
	JobID       string
	Answer      domain.Answer
	Score       float64
	ModelRev    *string
	ProcessedAt *time.Time
}

// ScoreInRange reports whether Score lies in [0, 1].
func (m ResultMessage) ScoreInRange() bool {
	return !math.IsNaN(m.Score) && m.Score >= 0 && m.Score <= 1
}

type jobWire struct {
	Schema       string         `json:"schema"`
	JobID        string         `json:"job_id"`
	ModelID      string         `json:"model_id"`
	DetectorID   string         `json:"detector_id"`
	RequestedBy  string         `json:"requested_by"`
	ImageBlobURL *string        `json:"image_blob_url"`
	RTSPRef      *string        `json:"rtsp_ref"`
	Deadline     *string        `json:"deadline"`
	Trace        map[string]any `json:"trace"`
}

type resultWire struct {
	Schema      string  `json:"schema"`
	JobID       string  `json:"job_id"`
	Answer      string  `json:"answer"`
	Score       float64 `json:"score"`
	ModelRev    *string `json:"model_rev"`
	ProcessedAt *string `json:"processed_at"`
}

// EncodeJob renders a job in its wire form.
func EncodeJob(m JobMessage) ([]byte, error) {
	if m.ImageBlobURL != nil && m.RTSPRef != nil {
		return nil, fmt.Errorf("%w: image_blob_url and rtsp_ref are mutually exclusive", ErrMalformedMessage)
	}
	w := jobWire{
		Schema:       JobSchema,
		JobID:        m.JobID,
		ModelID:      m.ModelID,
		DetectorID:   m.DetectorID,
		RequestedBy:  m.RequestedBy,
		ImageBlobURL: m.ImageBlobURL,
		RTSPRef:      m.RTSPRef,
		Deadline:     formatTime(m.Deadline),
	}
	if len(m.Trace) > 0 {
		w.Trace = m.Trace
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

// DecodeJob parses and validates a job.
func DecodeJob(data []byte) (JobMessage, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return JobMessage{}, err
	}
	if err := checkSchema(fields, JobSchema); err != nil {
		return JobMessage{}, err
	}
	var m JobMessage
	if m.JobID, err = requiredString(fields, "job_id"); err != nil {
		return JobMessage{}, err
	}
	if m.ModelID, err = requiredString(fields, "model_id"); err != nil {
		return JobMessage{}, err
	}
	if m.DetectorID, err = requiredString(fields, "detector_id"); err != nil {
		return JobMessage{}, err
	}
	if m.RequestedBy, err = requiredString(fields, "requested_by"); err != nil {
		return JobMessage{}, err
	}
	if m.ImageBlobURL, err = optionalString(fields, "image_blob_url"); err != nil {
		return JobMessage{}, err
	}
	if m.RTSPRef, err = optionalString(fields, "rtsp_ref"); err != nil {
		return JobMessage{}, err
	}
	if m.ImageBlobURL != nil && m.RTSPRef != nil {
		return JobMessage{}, fmt.Errorf("%w: image_blob_url and rtsp_ref are mutually exclusive", ErrMalformedMessage)
	}
	if m.Deadline, err = optionalTime(fields, "deadline"); err != nil {
		return JobMessage{}, err
	}
	if raw, ok := fields["trace"]; ok && !isNull(raw) {
		var trace map[string]any
		if err := json.Unmarshal(raw, &trace); err != nil {
			return JobMessage{}, fmt.Errorf("%w: trace must be an object", ErrMalformedMessage)
		}
		if len(trace) > 0 {
			m.Trace = trace
		}
	}
	return m, nil
}

// EncodeResult renders a result in its wire form.
func EncodeResult(m ResultMessage) ([]byte, error) {
	w := resultWire{
		Schema:      ResultSchema,
		JobID:       m.JobID,
		Answer:      string(m.Answer),
		Score:       m.Score,
		ModelRev:    m.ModelRev,
		ProcessedAt: formatTime(m.ProcessedAt),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

// DecodeResult parses and validates a result. Scores outside [0, 1] are
// accepted; callers inspect ScoreInRange.
func DecodeResult(data []byte) (ResultMessage, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return ResultMessage{}, err
	}
	if err := checkSchema(fields, ResultSchema); err != nil {
		return ResultMessage{}, err
	}
	var m ResultMessage
	if m.JobID, err = requiredString(fields, "job_id"); err != nil {
		return ResultMessage{}, err
	}
	answer, err := requiredString(fields, "answer")
	if err != nil {
		return ResultMessage{}, err
	}
	parsed, ok := domain.ParseAnswer(answer)
	if !ok {
		return ResultMessage{}, fmt.Errorf("%w: answer %q", ErrInvalidEnumValue, answer)
	}
	m.Answer = parsed
	raw, ok := fields["score"]
	if !ok || isNull(raw) {
		return ResultMessage{}, fmt.Errorf("%w: score is required", ErrMalformedMessage)
	}
	if err := json.Unmarshal(raw, &m.Score); err != nil {
		return ResultMessage{}, fmt.Errorf("%w: score must be a number", ErrMalformedMessage)
	}
	if m.ModelRev, err = optionalString(fields, "model_rev"); err != nil {
		return ResultMessage{}, err
	}
	if m.ProcessedAt, err = optionalTime(fields, "processed_at"); err != nil {
		return ResultMessage{}, err
	}
	return m, nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected an object", ErrMalformedMessage)
	}
	return fields, nil
}

// checkSchema accepts a missing envelope as v1.
func checkSchema(fields map[string]json.RawMessage, want string) error {
	schema, err := optionalString(fields, "schema")
	if err != nil {
		return err
	}
	if schema != nil && *schema != want {
		return fmt.Errorf("%w: unsupported schema %q", ErrMalformedMessage, *schema)
	}
	return nil
}

func requiredString(fields map[string]json.RawMessage, name string) (string, error) {
	v, err := optionalString(fields, name)
	if err != nil {
		return "", err
	}
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", fmt.Errorf("%w: %s is required", ErrMalformedMessage, name)
	}
	return *v, nil
}

func optionalString(fields map[string]json.RawMessage, name string) (*string, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %s must be a string", ErrMalformedMessage, name)
	}
	return &s, nil
}

func optionalTime(fields map[string]json.RawMessage, name string) (*time.Time, error) {
	s, err := optionalString(fields, name)
	if err != nil || s == nil || *s == "" {
		return nil, err
	}
	ts, err := ParseTime(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, name, err)
	}
	return &ts, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
