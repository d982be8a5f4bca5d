package media

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/testutil"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
)

type staticCreds string

func (s staticCreds) BearerToken() string { return string(s) }
func (s staticCreds) OnUnauthorized()     {}

func setupResolver(t *testing.T) (*testutil.Backend, *Resolver, *Registry, entity.RepairRecord) {
	t.Helper()
	fb := testutil.NewBackend(t)
	admin := fb.AddUser("Admin", "admin@shop.test", "secret1", entity.RoleAdmin)
	token := fb.IssueToken(admin, time.Hour)

	rec := fb.SeedRecord(entity.RepairRecord{CustomerName: "Jane"})
	fb.AddFile(rec.ID, entity.MediaVideo, "video/mp4", []byte("v1"))
	fb.AddFile(rec.ID, entity.MediaImage, "image/jpeg", []byte("i1"))
	fb.AddFile(rec.ID, entity.MediaImage, "image/png", []byte("i2"))
	rec, _ = fb.Record(rec.ID)

	client := backend.NewClient(fb.URL(), time.Second, nil)
	reg := NewRegistry("/api/media/")
	return fb, NewResolver(client.Bind(staticCreds(token)), reg, nil), reg, rec
}

func TestResolveOrdersImagesThenVideos(t *testing.T) {
	_, res, reg, rec := setupResolver(t)

	handles, err := res.Resolve(context.Background(), rec.ID, rec.MediaRefs())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(handles) != 3 {
		t.Fatalf("expected 3 handles, got %d", len(handles))
	}
	wantKinds := []entity.MediaKind{entity.MediaImage, entity.MediaImage, entity.MediaVideo}
	for i, h := range handles {
		if h.Kind != wantKinds[i] {
			t.Errorf("handle %d kind = %s, want %s", i, h.Kind, wantKinds[i])
		}
		if h.URL != "/api/media/"+h.ID {
			t.Errorf("handle %d url = %s", i, h.URL)
		}
	}

	_, data, ok := reg.Open(handles[2].ID)
	if !ok || string(data) != "v1" {
		t.Errorf("video bytes = %q ok=%v", data, ok)
	}
	if reg.Outstanding() != 3 {
		t.Errorf("outstanding = %d", reg.Outstanding())
	}
}

func TestResolveWithoutTokenFetchesNothing(t *testing.T) {
	fb, _, reg, rec := setupResolver(t)
	client := backend.NewClient(fb.URL(), time.Second, nil)
	res := NewResolver(client.Bind(staticCreds("")), reg, nil)

	_, err := res.Resolve(context.Background(), rec.ID, rec.MediaRefs())
	if !errors.Is(err, backend.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if n := len(fb.RequestsTo(http.MethodGet, "/repair-records/")); n != 0 {
		t.Errorf("expected no file fetches, got %d", n)
	}
}

func TestResolveFailureRevokesBatch(t *testing.T) {
	fb, res, reg, rec := setupResolver(t)
	fb.FailFile(rec.Videos[0].ID)

	_, err := res.Resolve(context.Background(), rec.ID, rec.MediaRefs())
	var se *backend.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if reg.Outstanding() != 0 {
		t.Errorf("outstanding = %d after failed batch, want 0", reg.Outstanding())
	}
}

func TestScopeCloseIsIdempotent(t *testing.T) {
	_, res, reg, rec := setupResolver(t)
	scope, err := res.Acquire(context.Background(), rec.ID, rec.MediaRefs())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	scope.Close()
	scope.Close()
	if reg.Outstanding() != 0 {
		t.Errorf("outstanding = %d", reg.Outstanding())
	}
	if _, _, ok := reg.Open(scope.Handles()[0].ID); ok {
		t.Error("expected revoked handle to be gone")
	}
}

func TestSlotKeepsOutstandingBounded(t *testing.T) {
	_, res, reg, rec := setupResolver(t)
	var slot Slot
	for i := 0; i < 20; i++ {
		scope, err := res.Acquire(context.Background(), rec.ID, rec.MediaRefs())
		if err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
		slot.Put(scope)
		if n := reg.Outstanding(); n != 3 {
			t.Fatalf("after open #%d outstanding = %d, want 3", i, n)
		}
		if i%2 == 0 {
			slot.Close()
			if n := reg.Outstanding(); n != 0 {
				t.Fatalf("after close #%d outstanding = %d, want 0", i, n)
			}
		}
	}
	slot.Close()
	if reg.Outstanding() != 0 {
		t.Errorf("outstanding = %d at end", reg.Outstanding())
	}
}

func TestSealedSlotReleasesLateScope(t *testing.T) {
	_, res, reg, rec := setupResolver(t)
	var slot Slot
	scope, err := res.Acquire(context.Background(), rec.ID, rec.MediaRefs())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	slot.Put(scope)
	slot.Seal()
	if n := reg.Outstanding(); n != 0 {
		t.Fatalf("after seal outstanding = %d", n)
	}

	late, err := res.Acquire(context.Background(), rec.ID, rec.MediaRefs())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Put(late) {
		t.Error("sealed slot accepted a scope")
	}
	if n := reg.Outstanding(); n != 0 {
		t.Errorf("late scope leaked %d handles", n)
	}
	if slot.Current() != nil {
		t.Error("sealed slot has a current scope")
	}
}
