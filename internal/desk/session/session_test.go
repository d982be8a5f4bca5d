package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/testutil"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/redis/go-redis/v9"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewRedisStore(rdb)
}

func setupManager(t *testing.T, store Store) (*testutil.Backend, *Manager) {
	t.Helper()
	fb := testutil.NewBackend(t)
	fb.AddUser("Admin", "admin@shop.test", "secret1", entity.RoleAdmin)
	fb.AddUser("Wendy", "wendy@shop.test", "secret2", entity.RoleWorker)
	client := backend.NewClient(fb.URL(), time.Second, nil)
	return fb, NewManager(store, client, time.Hour, nil)
}

func TestRedisStoreRoundTripAndTTL(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	sess := &Session{
		ID:        "abc",
		User:      entity.User{ID: 7, Name: "Admin", Role: entity.RoleAdmin},
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Minute).UTC().Truncate(time.Second),
	}
	if err := store.Save(ctx, sess, time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("repairdesk:session:abc") {
		t.Fatalf("expected redis key to exist")
	}
	if ttl := mr.TTL("repairdesk:session:abc"); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}

	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Token != "tok" || got.User.ID != 7 || !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("unexpected session: %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after ttl, got %v", err)
	}
}

func TestLoginPersistsSessionWithTokenExpiry(t *testing.T) {
	mr, store := setupRedisStore(t)
	_, mgr := setupManager(t, store)

	sess, err := mgr.Login(context.Background(), "admin@shop.test", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.User.Role != entity.RoleAdmin || sess.BearerToken() == "" {
		t.Errorf("unexpected session: %+v", sess)
	}
	// The fake backend issues one-hour tokens.
	ttl := mr.TTL("repairdesk:session:" + sess.ID)
	if ttl < 59*time.Minute || ttl > time.Hour {
		t.Errorf("ttl = %v, want about 1h", ttl)
	}

	loaded, err := mgr.Load(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Token != sess.Token {
		t.Errorf("token mismatch")
	}
}

func TestLoginValidation(t *testing.T) {
	_, mgr := setupManager(t, NewMemoryStore())
	_, err := mgr.Login(context.Background(), "", "")
	var ve *validate.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	_, mgr := setupManager(t, NewMemoryStore())
	_, err := mgr.Login(context.Background(), "admin@shop.test", "nope")
	if backend.Message(err) != "Invalid credentials" {
		t.Errorf("message = %q", backend.Message(err))
	}
}

func TestLoadExpiredTearsDown(t *testing.T) {
	store := NewMemoryStore()
	_, mgr := setupManager(t, store)
	var torn []string
	mgr.OnTeardown(func(id string) { torn = append(torn, id) })

	sess := &Session{ID: "old", Token: "t", ExpiresAt: time.Now().Add(-time.Minute)}
	store.Save(context.Background(), sess, time.Hour)

	if _, err := mgr.Load(context.Background(), "old"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if len(torn) != 1 || torn[0] != "old" {
		t.Errorf("teardown hooks = %v", torn)
	}
	if _, err := store.Get(context.Background(), "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected session removed, got %v", err)
	}
}

func TestUnauthorizedTearsDownOnce(t *testing.T) {
	store := NewMemoryStore()
	fb, mgr := setupManager(t, store)
	calls := 0
	mgr.OnTeardown(func(string) { calls++ })

	sess, err := mgr.Login(context.Background(), "wendy@shop.test", "secret2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	fb.RevokeToken(sess.Token)

	client := backend.NewClient(fb.URL(), time.Second, nil)
	for i := 0; i < 2; i++ {
		_, err := client.ListMyJobs(context.Background(), sess, backend.ListFilter{Limit: 10})
		if !errors.Is(err, backend.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("teardown ran %d times, want 1", calls)
	}
	if _, err := mgr.Load(context.Background(), sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected session gone, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	user := entity.User{ID: 1, Role: entity.RoleWorker}

	exp, err := TokenExpiry(testutil.GenerateTestToken(user, time.Hour))
	if err != nil {
		t.Fatalf("TokenExpiry: %v", err)
	}
	if d := time.Until(exp); d < 59*time.Minute || d > time.Hour {
		t.Errorf("expiry in %v, want about 1h", d)
	}

	exp, err = TokenExpiry(testutil.GenerateTestToken(user, 0))
	if err != nil || !exp.IsZero() {
		t.Errorf("expected zero expiry for token without exp, got %v %v", exp, err)
	}

	if _, err := TokenExpiry("not-a-token"); err == nil {
		t.Errorf("expected error for malformed token")
	}
}

func TestLogout(t *testing.T) {
	store := NewMemoryStore()
	_, mgr := setupManager(t, store)
	sess, err := mgr.Login(context.Background(), "admin@shop.test", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := mgr.Logout(context.Background(), sess.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := mgr.Load(context.Background(), sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadAfterKeyExpiryRunsTeardownHooks(t *testing.T) {
	mr, store := setupRedisStore(t)
	_, mgr := setupManager(t, store)
	var ended []string
	mgr.OnTeardown(func(id string) { ended = append(ended, id) })
	ctx := context.Background()

	sess, err := mgr.Login(ctx, "admin@shop.test", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	if _, err := mgr.Load(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after expiry: %v", err)
	}
	if len(ended) != 1 || ended[0] != sess.ID {
		t.Errorf("teardown hooks ran for %v, want [%s]", ended, sess.ID)
	}
}
