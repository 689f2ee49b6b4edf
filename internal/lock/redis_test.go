package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestManager(t *testing.T, ttl time.Duration) (*Manager, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewManagerWithClient(client, ttl), s
}

func TestAcquireAndConflict(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	grant, err := m.Acquire(ctx, "ws-1", "SuiteScripts/b.js", "actor-a", "sess-a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if grant.HolderActor != "actor-a" {
		t.Errorf("expected holder actor-a, got %s", grant.HolderActor)
	}

	_, err = m.Acquire(ctx, "ws-1", "SuiteScripts/b.js", "actor-b", "sess-b")
	var conflict *Conflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if conflict.HeldBy != "actor-a" {
		t.Errorf("expected conflict held by actor-a, got %s", conflict.HeldBy)
	}
}

func TestAcquireSameSessionRefreshes(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "a.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	s.FastForward(30 * time.Second)

	grant, err := m.Acquire(ctx, "ws-1", "a.js", "actor-a", "sess-a")
	if err != nil {
		t.Fatalf("re-Acquire by holder failed: %v", err)
	}
	if grant.SessionToken != "sess-a" {
		t.Errorf("expected session sess-a, got %s", grant.SessionToken)
	}
}

func TestDifferentPathsDoNotConflict(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "a.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("Acquire a.js failed: %v", err)
	}
	if _, err := m.Acquire(ctx, "ws-1", "b.js", "actor-b", "sess-b"); err != nil {
		t.Fatalf("Acquire b.js failed: %v", err)
	}
	if _, err := m.Acquire(ctx, "ws-2", "a.js", "actor-b", "sess-b"); err != nil {
		t.Fatalf("Acquire in another workspace failed: %v", err)
	}
}

func TestHeartbeatExtendsLock(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "a.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	s.FastForward(45 * time.Second)
	if _, err := m.Heartbeat(ctx, "ws-1", "a.js", "sess-a"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	// Past the original expiry but within the refreshed TTL.
	s.FastForward(45 * time.Second)
	grant, err := m.Inspect(ctx, "ws-1", "a.js")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if grant == nil {
		t.Fatal("expected lock to still be held after heartbeat")
	}
}

func TestHeartbeatAfterExpiry(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "a.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	_, err := m.Heartbeat(ctx, "ws-1", "a.js", "sess-a")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestExpiredLockCanBeReacquired(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "b.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	grant, err := m.Acquire(ctx, "ws-1", "b.js", "actor-b", "sess-b")
	if err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}
	if grant.HolderActor != "actor-b" {
		t.Errorf("expected new holder actor-b, got %s", grant.HolderActor)
	}
}

func TestReleaseByHolder(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "b.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := m.Release(ctx, "ws-1", "b.js", "sess-a"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Released lock is acquirable by another session.
	if _, err := m.Acquire(ctx, "ws-1", "b.js", "actor-b", "sess-b"); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
}

func TestReleaseByNonHolder(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "a.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	err := m.Release(ctx, "ws-1", "a.js", "sess-b")
	if !errors.Is(err, ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "a.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := m.Release(ctx, "ws-1", "a.js", "sess-a"); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := m.Release(ctx, "ws-1", "a.js", "sess-a"); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}

func TestForceRelease(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "ws-1", "a.js", "actor-a", "sess-a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := m.ForceRelease(ctx, "ws-1", "a.js"); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}
	grant, err := m.Inspect(ctx, "ws-1", "a.js")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if grant != nil {
		t.Error("expected lock gone after ForceRelease")
	}
}

func TestInspectUnlocked(t *testing.T) {
	m, s := setupTestManager(t, time.Minute)
	defer s.Close()

	grant, err := m.Inspect(context.Background(), "ws-1", "never-locked.js")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if grant != nil {
		t.Errorf("expected nil grant, got %+v", grant)
	}
}
