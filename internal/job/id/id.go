// Package id provides unique identifier generation for generation jobs.
package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: gen-<timestamp>-<uuid>
// Example: gen-1701432000-5f0c6c7e-0a55-4b8e-9d3f-2f1b7f0b9a11
func Generate() string {
	return fmt.Sprintf("gen-%d-%s", time.Now().Unix(), uuid.NewString())
}
