// Package artifact holds downloaded videos in memory and hands out short-lived
// local locators for them, much like a browser object URL. A buffer lives
// until it is released, superseded by its owner, or swept after the TTL.
package artifact

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoutePrefix is the path under which the HTTP shell serves artifacts.
const RoutePrefix = "/v1/artifacts/"

var ErrEmptyArtifact = errors.New("artifact: no data to publish")

// Reference is the caller-owned handle to a published artifact.
type Reference struct {
	ID        string    `json:"id"`
	Locator   string    `json:"locator"`
	MimeType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Blob is the stored payload behind a Reference.
type Blob struct {
	Data      []byte
	MimeType  string
	CreatedAt time.Time
}

// Publisher turns downloaded bytes into a locally dereferenceable reference.
type Publisher interface {
	Publish(data []byte, mimeType string) (*Reference, error)
}

// Releaser frees the buffer behind a reference.
type Releaser interface {
	Release(id string) bool
}

// Registry is an in-memory Publisher. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	baseURL string
	ttl     time.Duration
	now     func() time.Time
	blobs   map[string]Blob
}

// NewRegistry creates a registry whose locators are rooted at baseURL. A zero
// ttl keeps artifacts until they are released.
func NewRegistry(baseURL string, ttl time.Duration) *Registry {
	return &Registry{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		blobs:   make(map[string]Blob),
	}
}

// Publish stores data and returns its reference. Ownership of data passes to
// the registry; callers must not modify it afterwards.
func (r *Registry) Publish(data []byte, mimeType string) (*Reference, error) {
	if len(data) == 0 {
		return nil, ErrEmptyArtifact
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	id := uuid.NewString()
	r.blobs[id] = Blob{Data: data, MimeType: mimeType, CreatedAt: now}
	return &Reference{
		ID:        id,
		Locator:   r.Locator(id),
		MimeType:  mimeType,
		Size:      len(data),
		CreatedAt: now,
	}, nil
}

// Locator builds the local address for id.
func (r *Registry) Locator(id string) string {
	return r.baseURL + RoutePrefix + id
}

// Open returns the blob for id if it is still held.
func (r *Registry) Open(id string) (Blob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(r.now())
	blob, ok := r.blobs[id]
	return blob, ok
}

// Release drops the blob for id. It reports whether anything was held.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[id]; !ok {
		return false
	}
	delete(r.blobs, id)
	return true
}

// Len reports how many artifacts are currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

func (r *Registry) sweepLocked(now time.Time) {
	if r.ttl <= 0 {
		return
	}
	for id, blob := range r.blobs {
		if now.Sub(blob.CreatedAt) > r.ttl {
			delete(r.blobs, id)
		}
	}
}

var (
	_ Publisher = (*Registry)(nil)
	_ Releaser  = (*Registry)(nil)
)
