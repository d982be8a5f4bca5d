package media

import (
	"sync"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/google/uuid"
)

// Handle is an opaque, revocable reference to fetched media bytes. The page
// layer loads it from URL.
type Handle struct {
	ID          string           `json:"id"`
	RecordID    int64            `json:"recordId"`
	FileID      int64            `json:"fileId"`
	Kind        entity.MediaKind `json:"kind"`
	ContentType string           `json:"contentType"`
	Size        int              `json:"size"`
	URL         string           `json:"url"`
}

type entry struct {
	handle Handle
	data   []byte
}

// Registry 媒体句柄注册表
type Registry struct {
	urlPrefix string

	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates a registry whose handles resolve under urlPrefix,
// e.g. "/api/media/".
func NewRegistry(urlPrefix string) *Registry {
	return &Registry{
		urlPrefix: urlPrefix,
		entries:   make(map[string]entry),
	}
}

// Register stores data and returns its handle.
func (r *Registry) Register(recordID int64, ref entity.FileRef, contentType string, data []byte) Handle {
	id := uuid.New().String()
	h := Handle{
		ID:          id,
		RecordID:    recordID,
		FileID:      ref.ID,
		Kind:        ref.Kind,
		ContentType: contentType,
		Size:        len(data),
		URL:         r.urlPrefix + id,
	}
	r.mu.Lock()
	r.entries[id] = entry{handle: h, data: data}
	r.mu.Unlock()
	return h
}

// Open returns the bytes behind a live handle.
func (r *Registry) Open(id string) (Handle, []byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Handle{}, nil, false
	}
	return e.handle, e.data, true
}

// Release revokes handles. Unknown or already revoked handles are ignored.
func (r *Registry) Release(handles ...Handle) {
	r.mu.Lock()
	for _, h := range handles {
		delete(r.entries, h.ID)
	}
	r.mu.Unlock()
}

// Outstanding is the number of live handles.
func (r *Registry) Outstanding() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
