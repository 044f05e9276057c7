// Package sora provides an HTTP client for the Sora video generation API
// exposed by the grsai gateways.
package sora

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Status represents the normalized status of a remote generation job.
type Status string

// Normalized job statuses. The remote service reports several spellings;
// normalizeStatus folds them into these four.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// DefaultModel is the model requested when none is configured.
const DefaultModel = "sora-2"

// DefaultFailureReason is reported for failed jobs that carry no reason.
const DefaultFailureReason = "unknown"

// CreateRequest is the request body for the video creation endpoint.
type CreateRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	AspectRatio  string `json:"aspectRatio"`
	Duration     int    `json:"duration"`
	Size         string `json:"size"`
	ShutProgress bool   `json:"shutProgress"`
	URL          string `json:"url,omitempty"` // Reference image as a data URI
}

// createResponse covers both the flat {id} and the enveloped {data:{id}} shapes.
type createResponse struct {
	ID    string          `json:"id"`
	Msg   string          `json:"msg,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
	Data  *struct {
		ID string `json:"id"`
	} `json:"data,omitempty"`
}

// message returns the gateway's explanation, if it sent one.
func (r createResponse) message() string {
	return firstNonEmpty(strings.TrimSpace(r.Msg), errorText(r.Error))
}

func (r createResponse) jobID() string {
	if r.ID != "" {
		return r.ID
	}
	if r.Data != nil {
		return r.Data.ID
	}
	return ""
}

// resultRequest is the request body for the result endpoint.
type resultRequest struct {
	ID string `json:"id"`
}

// resultFields holds the job fields that may appear either at the top level
// or nested under "data".
type resultFields struct {
	Status        string          `json:"status"`
	Progress      json.RawMessage `json:"progress"`
	Results       []resultVideo   `json:"results"`
	FailureReason string          `json:"failure_reason"`
	Error         json.RawMessage `json:"error"`
}

// resultResponse is the raw response from the result endpoint.
type resultResponse struct {
	resultFields
	Data *resultFields `json:"data,omitempty"`
}

type resultVideo struct {
	URL string `json:"url"`
}

// PollResult is the canonical snapshot of a remote job produced by Poll.
type PollResult struct {
	Status        Status
	Progress      int    // Percentage in [0,100]
	ResultURL     string // First result URL (only set when Status is StatusSucceeded)
	FailureReason string // Human readable reason (only set when Status is StatusFailed)
}

// normalize maps either response shape into a PollResult.
// Values nested under "data" take precedence over top-level ones.
func (r resultResponse) normalize() PollResult {
	flat := r.resultFields
	nested := resultFields{}
	if r.Data != nil {
		nested = *r.Data
	}

	status := normalizeStatus(firstNonEmpty(nested.Status, flat.Status))
	result := PollResult{
		Status:   status,
		Progress: parseProgress(nested.Progress, flat.Progress),
	}

	switch status {
	case StatusSucceeded:
		result.Progress = 100
		results := nested.Results
		if len(results) == 0 {
			results = flat.Results
		}
		if len(results) > 0 {
			result.ResultURL = results[0].URL
		}
	case StatusFailed:
		result.FailureReason = firstNonEmpty(
			nested.FailureReason,
			flat.FailureReason,
			errorText(nested.Error),
			errorText(flat.Error),
			DefaultFailureReason,
		)
	}

	return result
}

func normalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "success", "completed":
		return StatusSucceeded
	case "failed", "error", "cancelled", "canceled":
		return StatusFailed
	case "", "pending", "queued", "submitted":
		return StatusPending
	default:
		return StatusRunning
	}
}

// parseProgress returns the first parsable progress value, clamped to [0,100].
// Values may be numbers or strings such as "40" or "40%"; anything else is skipped.
func parseProgress(values ...json.RawMessage) int {
	for _, raw := range values {
		v := strings.TrimSpace(string(raw))
		if v == "" || v == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		p := int(math.Round(f))
		return max(0, min(100, p))
	}
	return 0
}

// errorText extracts a message from an "error" field that may be a string or an object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
