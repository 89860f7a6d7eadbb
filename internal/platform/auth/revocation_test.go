package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRevocationStore_RevokeAndIsRevoked(t *testing.T) {
	store := NewMemoryRevocationStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	store.Revoke(ctx, "token-abc-123", time.Now().Add(time.Hour))

	revoked, err := store.IsRevoked(ctx, "token-abc-123")
	if err != nil || !revoked {
		t.Errorf("expected token to be revoked, got %v (err %v)", revoked, err)
	}
	revoked, _ = store.IsRevoked(ctx, "unknown-jti")
	if revoked {
		t.Error("expected unknown JTI to not be revoked")
	}
}

func TestMemoryRevocationStore_CleanupRemovesExpired(t *testing.T) {
	store := NewMemoryRevocationStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	store.Revoke(ctx, "expired", time.Now().Add(-time.Minute))
	store.Revoke(ctx, "live", time.Now().Add(time.Hour))
	store.cleanup()

	if store.Count() != 1 {
		t.Fatalf("expected 1 entry after cleanup, got %d", store.Count())
	}
	if revoked, _ := store.IsRevoked(ctx, "live"); !revoked {
		t.Error("expected live token to remain revoked")
	}
}

func TestMemoryRevocationStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryRevocationStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jti := fmt.Sprintf("jti-%d", i)
			store.Revoke(ctx, jti, time.Now().Add(time.Hour))
			store.IsRevoked(ctx, jti)
		}(i)
	}
	wg.Wait()

	if store.Count() != 50 {
		t.Errorf("expected 50 entries, got %d", store.Count())
	}
}

func TestMemoryRevocationStore_CloseTwice(t *testing.T) {
	store := NewMemoryRevocationStore(time.Millisecond)
	store.Close()
	store.Close()
}

func newRedisStore(t *testing.T) (*RedisRevocationStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRevocationStore(client), mr
}

func TestRedisRevocationStore_RevokeAndIsRevoked(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-1", time.Now().Add(30*time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Error("expected jti-1 to be revoked")
	}

	ttl := mr.TTL(revokedKeyPrefix + "jti-1")
	if ttl <= 0 || ttl > 30*time.Minute {
		t.Errorf("expected ttl within token lifetime, got %s", ttl)
	}
}

func TestRedisRevocationStore_ExpiresWithToken(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	store.Revoke(ctx, "jti-2", time.Now().Add(time.Minute))
	mr.FastForward(2 * time.Minute)

	revoked, err := store.IsRevoked(ctx, "jti-2")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Error("expected revocation to lapse with the token")
	}
}

func TestRedisRevocationStore_AlreadyExpiredIsNoop(t *testing.T) {
	store, mr := newRedisStore(t)

	if err := store.Revoke(context.Background(), "jti-3", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if mr.Exists(revokedKeyPrefix + "jti-3") {
		t.Error("expected no key for an already expired token")
	}
}

func TestRedisRevocationStore_ConnectionError(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	if _, err := store.IsRevoked(context.Background(), "jti-4"); err == nil {
		t.Error("expected error when redis is unreachable")
	}
}

func TestNewRedisClient(t *testing.T) {
	if _, err := NewRedisClient("redis://localhost:6379/0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewRedisClient("://bad"); err == nil {
		t.Error("expected parse error")
	}
}
