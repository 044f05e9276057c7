// Package history keeps the in-memory list of finished generations.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record describes one successful generation.
type Record struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Prompt             string    `json:"prompt"`
	ResultURL          string    `json:"result_url"`
	UsedReferenceImage bool      `json:"used_reference_image"`
}

// NewRecord creates a Record stamped with the current time.
func NewRecord(prompt, resultURL string, usedReferenceImage bool) Record {
	return Record{
		ID:                 uuid.NewString(),
		Timestamp:          time.Now(),
		Prompt:             prompt,
		ResultURL:          resultURL,
		UsedReferenceImage: usedReferenceImage,
	}
}

// Store is an ordered, newest-first list of records.
// It lives for the lifetime of the owning process and is never persisted.
type Store struct {
	mu      sync.RWMutex
	records []Record
	limit   int
}

// Option configures a Store.
type Option func(*Store)

// WithLimit caps the number of records kept; older records are dropped.
// Zero keeps everything.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.limit = n
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add prepends a record.
func (s *Store) Add(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]Record{r}, s.records...)
	if s.limit > 0 && len(s.records) > s.limit {
		s.records = s.records[:s.limit]
	}
}

// List returns a copy of the records, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
