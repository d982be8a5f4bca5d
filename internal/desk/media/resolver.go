// Package media turns a record's authenticated file references into
// short-lived handles the browser can load, and revokes them when the
// viewer closes.
package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const fetchConcurrency = 4

// FileFetcher reads one media file with the caller's credentials.
type FileFetcher interface {
	HasToken() bool
	FetchFile(ctx context.Context, recordID, fileID int64) (*backend.File, error)
}

// Resolver 媒体解析
type Resolver struct {
	fetcher  FileFetcher
	registry *Registry
	logger   *zap.Logger
}

func NewResolver(fetcher FileFetcher, registry *Registry, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, registry: registry, logger: logger}
}

// Resolve fetches every ref and returns handles in input order. The batch is
// all-or-nothing: if any fetch fails, the handles already created are
// revoked and the first error is returned.
func (r *Resolver) Resolve(ctx context.Context, recordID int64, refs []entity.FileRef) ([]Handle, error) {
	if !r.fetcher.HasToken() {
		return nil, backend.ErrAuthRequired
	}
	if len(refs) == 0 {
		return []Handle{}, nil
	}

	handles := make([]Handle, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			f, err := r.fetcher.FetchFile(gctx, recordID, ref.ID)
			if err != nil {
				return fmt.Errorf("fetch %s %d: %w", ref.Kind, ref.ID, err)
			}
			handles[i] = r.registry.Register(recordID, ref, f.ContentType, f.Data)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		created := make([]Handle, 0, len(handles))
		for _, h := range handles {
			if h.ID != "" {
				created = append(created, h)
			}
		}
		r.registry.Release(created...)
		r.logger.Warn("media resolution failed",
			zap.Int64("record_id", recordID),
			zap.Int("requested", len(refs)),
			zap.Int("revoked", len(created)),
			zap.Error(err),
		)
		return nil, err
	}
	return handles, nil
}

// Acquire resolves refs into a Scope that owns the handles.
func (r *Resolver) Acquire(ctx context.Context, recordID int64, refs []entity.FileRef) (*Scope, error) {
	handles, err := r.Resolve(ctx, recordID, refs)
	if err != nil {
		return nil, err
	}
	return &Scope{RecordID: recordID, registry: r.registry, handles: handles}, nil
}

// Scope owns one batch of handles. Close revokes them exactly once.
type Scope struct {
	RecordID int64

	registry *Registry
	handles  []Handle
	once     sync.Once
}

func (s *Scope) Handles() []Handle {
	return s.handles
}

func (s *Scope) Close() {
	s.once.Do(func() {
		s.registry.Release(s.handles...)
	})
}

// Slot holds at most one open scope. Putting a new scope closes the old one.
// After Seal every scope put into the slot is closed on arrival.
type Slot struct {
	mu      sync.Mutex
	current *Scope
	sealed  bool
}

// Put installs scope and reports whether the slot kept it.
func (s *Slot) Put(scope *Scope) bool {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		if scope != nil {
			scope.Close()
		}
		return false
	}
	prev := s.current
	s.current = scope
	s.mu.Unlock()
	if prev != nil && prev != scope {
		prev.Close()
	}
	return true
}

// Current returns the open scope, or nil.
func (s *Slot) Current() *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close closes the open scope, if any. The slot stays usable.
func (s *Slot) Close() {
	s.Put(nil)
}

// Seal closes the open scope and refuses later ones.
func (s *Slot) Seal() {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.sealed = true
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}
