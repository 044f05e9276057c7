// Package server provides the HTTP surface of the generator.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"strings"
	"time"
)

// CreateGenerationRequest is the HTTP request body for starting a generation.
type CreateGenerationRequest struct {
	// Prompt is the text description of the video.
	Prompt string `json:"prompt" validate:"required"`
	// AspectRatio is one of 16:9, 9:16, 1:1, 4:3. Empty selects 16:9.
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,oneof=16:9 9:16 1:1 4:3"`
	// Duration is the clip length in seconds. Zero selects 10.
	Duration int `json:"duration" validate:"omitempty,oneof=5 10 15"`
	// Resolution is 1080p, 720p or small. Empty selects 720p.
	Resolution string `json:"resolution" validate:"omitempty,oneof=1080p 720p small"`
	// ReferenceImage is an optional image as a data URI.
	ReferenceImage string `json:"reference_image" validate:"omitempty,datauri"`
	// Archive copies the finished video into storage.
	Archive bool `json:"archive"`
}

// normalize applies the same folding as generator.Request.Normalize so the
// tags below accept what the domain accepts, e.g. "1080P".
func (r *CreateGenerationRequest) normalize() {
	r.AspectRatio = strings.TrimSpace(r.AspectRatio)
	r.Resolution = strings.ToLower(strings.TrimSpace(r.Resolution))
}

// CreateGenerationResponse is the HTTP response after accepting a generation.
type CreateGenerationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GenerationResponse describes one generation job.
type GenerationResponse struct {
	ID                 string     `json:"id"`
	RemoteID           string     `json:"remote_id,omitempty"`
	Status             string     `json:"status"`
	Prompt             string     `json:"prompt"`
	AspectRatio        string     `json:"aspect_ratio"`
	Duration           int        `json:"duration"`
	Resolution         string     `json:"resolution"`
	UsedReferenceImage bool       `json:"used_reference_image"`
	Progress           int        `json:"progress"`
	ResultURL          string     `json:"result_url,omitempty"`
	ArchivedURL        string     `json:"archived_url,omitempty"`
	Warning            string     `json:"warning,omitempty"`
	Error              string     `json:"error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// GenerationListResponse is the HTTP response for listing generations.
type GenerationListResponse struct {
	Generations []GenerationResponse `json:"generations"`
	Count       int                  `json:"count"`
}

// HistoryRecordResponse is one successful generation.
type HistoryRecordResponse struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Prompt             string    `json:"prompt"`
	ResultURL          string    `json:"result_url"`
	UsedReferenceImage bool      `json:"used_reference_image"`
}

// HistoryResponse lists successful generations, newest first.
type HistoryResponse struct {
	Records []HistoryRecordResponse `json:"records"`
	Count   int                     `json:"count"`
}

// EndpointResponse names one known API gateway.
type EndpointResponse struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// EndpointsResponse lists the known gateways and the one in use.
type EndpointsResponse struct {
	Active    string             `json:"active"`
	Endpoints []EndpointResponse `json:"endpoints"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
