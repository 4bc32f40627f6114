// Package storage archives documents that could not be processed.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reference does not name a stored dead letter.
var ErrNotFound = errors.New("dead letter not found")

// Kind classifies why a document was dead-lettered.
type Kind string

const (
	// KindUnexpected is an unexpected pipeline failure.
	KindUnexpected Kind = "unexpected"
	// KindFailed is a controlled failure that was not recovered.
	KindFailed Kind = "failed"
	// KindMalformed is a payload that could not be decoded into a document.
	KindMalformed Kind = "malformed"
)

// DeadLetter is an archived document together with the reason it failed.
type DeadLetter struct {
	TrackingID string    `json:"trackingId"`
	PipelineID string    `json:"pipelineId"`
	Kind       Kind      `json:"kind"`
	Step       string    `json:"step,omitempty"`
	Reason     string    `json:"reason"`
	Subject    string    `json:"subject,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	// Payload is the raw message body as received.
	Payload []byte `json:"payload"`
}

// DeadLetterStore persists dead letters.
type DeadLetterStore interface {
	// Put stores dl and returns a reference that Get accepts.
	Put(ctx context.Context, dl DeadLetter) (string, error)
	Get(ctx context.Context, ref string) (*DeadLetter, error)
}

// BlobPath returns the storage key of dl:
// <pipeline>/<kind>/<yyyy>/<mm>/<dd>/<tracking id>.json
func BlobPath(dl DeadLetter) string {
	pipelineID := dl.PipelineID
	if pipelineID == "" {
		pipelineID = "unknown"
	}
	kind := string(dl.Kind)
	if kind == "" {
		kind = string(KindUnexpected)
	}
	return fmt.Sprintf("%s/%s/%s/%s.json",
		sanitize(pipelineID), kind, dl.CreatedAt.UTC().Format("2006/01/02"), sanitize(dl.TrackingID))
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "?", "_", "#", "_").Replace(s)
}

// normalize fills the tracking id and timestamp when absent.
func normalize(dl DeadLetter) DeadLetter {
	if dl.TrackingID == "" {
		dl.TrackingID = uuid.NewString()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	return dl
}

func encode(dl DeadLetter) ([]byte, error) {
	data, err := json.Marshal(dl)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dead letter: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return nil, fmt.Errorf("failed to decode dead letter: %w", err)
	}
	return &dl, nil
}

// MemoryStore keeps dead letters in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	letters map[string][]byte
}

var _ DeadLetterStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{letters: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, dl DeadLetter) (string, error) {
	dl = normalize(dl)
	data, err := encode(dl)
	if err != nil {
		return "", err
	}
	ref := BlobPath(dl)
	m.mu.Lock()
	m.letters[ref] = data
	m.mu.Unlock()
	return ref, nil
}

func (m *MemoryStore) Get(_ context.Context, ref string) (*DeadLetter, error) {
	m.mu.RLock()
	data, ok := m.letters[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return decode(data)
}

// Refs returns the stored references in sorted order.
func (m *MemoryStore) Refs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]string, 0, len(m.letters))
	for ref := range m.letters {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Len returns the number of stored dead letters.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.letters)
}
