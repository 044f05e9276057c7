package generator

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// Supported request values.
const (
	DefaultAspectRatio = "16:9"
	DefaultDuration    = 10
	DefaultResolution  = "720p"
)

// Request describes a desired video.
type Request struct {
	// Prompt is the text description of the video.
	Prompt string `validate:"required"`
	// AspectRatio is one of 16:9, 9:16, 1:1, 4:3.
	AspectRatio string `validate:"oneof=16:9 9:16 1:1 4:3"`
	// Duration is the clip length in seconds.
	Duration int `validate:"oneof=5 10 15"`
	// Resolution is one of 1080p, 720p, small.
	Resolution string `validate:"oneof=1080p 720p small"`
	// ReferenceImage is an optional data URI used to condition the output.
	ReferenceImage string `validate:"omitempty,datauri"`
}

var validate = validator.New()

// Normalize trims the prompt and fills unset fields with defaults.
func (r Request) Normalize() Request {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.AspectRatio = strings.TrimSpace(r.AspectRatio)
	r.Resolution = strings.ToLower(strings.TrimSpace(r.Resolution))
	if r.AspectRatio == "" {
		r.AspectRatio = DefaultAspectRatio
	}
	if r.Duration == 0 {
		r.Duration = DefaultDuration
	}
	if r.Resolution == "" {
		r.Resolution = DefaultResolution
	}
	return r
}

// HasReferenceImage reports whether a reference image is attached.
func (r Request) HasReferenceImage() bool {
	return r.ReferenceImage != ""
}

// Validate checks the request. An empty prompt yields ErrEmptyPrompt,
// any other violation yields ErrInvalidRequest.
func (r Request) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Field() == "Prompt" {
			return ErrEmptyPrompt
		}
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
}

// EncodeDataURI encodes raw image bytes as a base64 data URI.
// The media type is sniffed from the content.
func EncodeDataURI(data []byte) string {
	mediaType, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
