package server

import (
	"time"

	"visionline/internal/domain"
	"visionline/internal/wait"
)

// Request payloads

type CreateDetectorRequest struct {
	Name                string   `json:"name" minLength:"1" maxLength:"255"`
	Mode                string   `json:"mode,omitempty" enum:"binary,multiclass,counting,bounding_box"`
	Query               string   `json:"query" minLength:"1"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" minimum:"0" maximum:"1"`
	PatienceSeconds     float64  `json:"patience_seconds,omitempty" minimum:"0"`
	ModelID             string   `json:"model_id,omitempty"`
}

type CreateStreamRequest struct {
	Name      string         `json:"name" minLength:"1" maxLength:"255"`
	RTSPURL   string         `json:"rtsp_url" minLength:"1"`
	ZoneMasks map[string]any `json:"zone_masks,omitempty"`
}

type UpdateStreamRequest struct {
	Name      *string        `json:"name,omitempty" minLength:"1" maxLength:"255"`
	RTSPURL   *string        `json:"rtsp_url,omitempty" minLength:"1"`
	ZoneMasks map[string]any `json:"zone_masks,omitempty"`
	IsActive  *bool          `json:"is_active,omitempty"`
}

type SubmitImageQueryRequest struct {
	DetectorID   string  `json:"detector_id"`
	RTSPSourceID *string `json:"rtsp_source_id,omitempty" nullable:"true"`
	SnapshotURL  string  `json:"snapshot_url"`
}

// Responses

type HealthResponse struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	SchemaVersion int       `json:"schema_version,omitempty"`
}

type DetectorList struct {
	Items []domain.Detector `json:"items"`
}

type StreamList struct {
	Items []domain.Stream `json:"items"`
}

type AlertList struct {
	Items []domain.Alert `json:"items"`
}

type WaitResponse struct {
	Status wait.Status        `json:"status" enum:"pending,complete"`
	Result *domain.ImageQuery `json:"result"`
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
