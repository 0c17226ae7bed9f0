package visionlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// serverWaitDefault is the server's wait timeout when none is sent.
const serverWaitDefault = 10 * time.Second

// Client is a minimal visionline HTTP API client. Timeout bounds each
// request; the wait long poll gets its own wait timeout on top of it.
// A Client is safe for concurrent use once configured.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		BasePath:   "/v1",
		HTTPClient: &http.Client{},
		Timeout:    30 * time.Second,
	}
}

type Detector struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Mode                string    `json:"mode"`
	Query               string    `json:"query"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	IsActive            bool      `json:"is_active"`
	PatienceSeconds     float64   `json:"patience_seconds"`
	ModelID             string    `json:"model_id,omitempty"`
	CreatedBy           string    `json:"created_by"`
	CreatedAt           time.Time `json:"created_at"`
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

// ImageQuery is pending while Answer is nil.
type ImageQuery struct {
	ID           string     `json:"id"`
	DetectorID   string     `json:"detector_id"`
	RTSPSourceID *string    `json:"rtsp_source_id"`
	SnapshotURL  string     `json:"snapshot_url"`
	Answer       *string    `json:"answer"`
	AnswerScore  *float64   `json:"answer_score"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
}

func (q ImageQuery) Complete() bool { return q.Answer != nil && q.ProcessedAt != nil }

type Alert struct {
	ID           string     `json:"id"`
	DetectorID   string     `json:"detector_id"`
	ImageQueryID string     `json:"image_query_id"`
	Status       string     `json:"status"`
	Message      string     `json:"message"`
	Channel      string     `json:"channel"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at"`
}

// WaitResult is the body of the wait endpoint.
type WaitResult struct {
	Status string      `json:"status"`
	Result *ImageQuery `json:"result"`
}

type Health struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

type CreateDetectorInput struct {
	Name                string   `json:"name"`
	Mode                string   `json:"mode,omitempty"`
	Query               string   `json:"query"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	PatienceSeconds     float64  `json:"patience_seconds,omitempty"`
	ModelID             string   `json:"model_id,omitempty"`
}

type SubmitInput struct {
	DetectorID   string  `json:"detector_id"`
	RTSPSourceID *string `json:"rtsp_source_id,omitempty"`
	SnapshotURL  string  `json:"snapshot_url"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

func (c *Client) CreateDetector(ctx context.Context, in CreateDetectorInput) (Detector, error) {
	var resp Detector
	err := c.do(ctx, http.MethodPost, c.apiPath("detectors"), in, &resp)
	return resp, err
}

func (c *Client) GetDetector(ctx context.Context, id string) (Detector, error) {
	var resp Detector
	err := c.do(ctx, http.MethodGet, c.apiPath("detectors/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) ListDetectors(ctx context.Context, limit int) ([]Detector, error) {
	var resp struct {
		Items []Detector `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withLimit(c.apiPath("detectors"), limit), nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateStream(ctx context.Context, name, rtspURL string, zoneMasks map[string]any) (Stream, error) {
	body := map[string]any{"name": name, "rtsp_url": rtspURL}
	if zoneMasks != nil {
		body["zone_masks"] = zoneMasks
	}
	var resp Stream
	err := c.do(ctx, http.MethodPost, c.apiPath("streams"), body, &resp)
	return resp, err
}

// SubmitImageQuery creates a pending image query. A 502 means the query was
// stored but its job could not be published.
func (c *Client) SubmitImageQuery(ctx context.Context, in SubmitInput) (ImageQuery, error) {
	var resp ImageQuery
	err := c.do(ctx, http.MethodPost, c.apiPath("image-queries"), in, &resp)
	return resp, err
}

func (c *Client) GetImageQuery(ctx context.Context, id string) (ImageQuery, error) {
	var resp ImageQuery
	err := c.do(ctx, http.MethodGet, c.apiPath("image-queries/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// WaitImageQuery uses the server-side long poll. Nil durations take the
// server defaults.
func (c *Client) WaitImageQuery(ctx context.Context, id string, timeout, poll *time.Duration) (WaitResult, error) {
	q := url.Values{}
	if timeout != nil {
		q.Set("timeout", seconds(*timeout))
	}
	if poll != nil {
		q.Set("poll", seconds(*poll))
	}
	endpoint := c.apiPath("image-queries/" + url.PathEscape(id) + "/wait")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	budget := serverWaitDefault
	if timeout != nil {
		budget = max(*timeout, 0)
	}
	if poll != nil {
		budget += max(*poll, 0)
	}
	var resp WaitResult
	err := c.doWithin(ctx, c.Timeout+budget, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WaitForImageQuery polls GetImageQuery until the query is answered or
// timeout elapses. On timeout it returns the last pending copy and a nil error.
func (c *Client) WaitForImageQuery(ctx context.Context, id string, timeout, poll time.Duration) (ImageQuery, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		iq, err := c.GetImageQuery(ctx, id)
		if err != nil {
			return ImageQuery{}, err
		}
		remaining := time.Until(deadline)
		if iq.Complete() || remaining <= 0 {
			return iq, nil
		}
		timer := time.NewTimer(min(poll, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return iq, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	var resp struct {
		Items []Alert `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withLimit(c.apiPath("alerts/events/recent"), limit), nil, &resp)
	return resp.Items, err
}

func (c *Client) GetAlert(ctx context.Context, id string) (Alert, error) {
	var resp Alert
	err := c.do(ctx, http.MethodGet, c.apiPath("alerts/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.doWithin(ctx, c.Timeout, method, endpoint, body, out)
}

// doWithin performs one request bounded by limit (no bound when limit <= 0).
func (c *Client) doWithin(ctx context.Context, limit time.Duration, method, endpoint string, body any, out any) error {
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	return c.root() + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) root() string {
	bp := strings.Trim(c.BasePath, "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withLimit(endpoint string, limit int) string {
	if limit <= 0 {
		return endpoint
	}
	return endpoint + "?limit=" + strconv.Itoa(limit)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
