// Package lock implements exclusive, time-bounded editing locks per
// (workspace, file path), backed by Redis. Expiry is lazy: Redis key
// TTL makes an expired lock read as absent on the next touch, so no
// sweeper loop is needed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotHolder is returned when a release is attempted by a session
	// that does not hold the current, unexpired lock.
	ErrNotHolder = errors.New("lock held by another session")
	// ErrExpired is returned by heartbeat when the lock no longer exists.
	ErrExpired = errors.New("lock expired")
)

// Conflict reports an acquire attempt against a lock held by a
// different session. It carries the holder identity for the
// "File locked by another user" surface.
type Conflict struct {
	HeldBy    string
	ExpiresAt time.Time
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("file locked by %s until %s", c.HeldBy, c.ExpiresAt.Format(time.RFC3339))
}

// Grant is an active lock claim.
type Grant struct {
	WorkspaceID  string
	Path         string
	HolderActor  string
	SessionToken string
	AcquiredAt   time.Time
	ExpiresAt    time.Time
}

type Manager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewManager(redisURL string, ttl time.Duration) (*Manager, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewManagerWithClient(client, ttl), nil
}

func NewManagerWithClient(client *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{client: client, prefix: "filelock:", ttl: ttl}
}

func (m *Manager) key(workspaceID, path string) string {
	return m.prefix + workspaceID + ":" + path
}

// Lock value layout: sessionToken|holderActor|acquiredAtUnixMilli.
// Tokens and actor ids are hex ids, so the separator is unambiguous.
func encodeValue(sessionToken, holderActor string, acquiredAt time.Time) string {
	return sessionToken + "|" + holderActor + "|" + strconv.FormatInt(acquiredAt.UnixMilli(), 10)
}

func decodeValue(value string) (sessionToken, holderActor string, acquiredAt time.Time, ok bool) {
	parts := strings.SplitN(value, "|", 3)
	if len(parts) != 3 {
		return "", "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", time.Time{}, false
	}
	return parts[0], parts[1], time.UnixMilli(millis), true
}

// refreshScript extends the TTL only when the stored value belongs to
// the calling session.
var refreshScript = redis.NewScript(`
	local value = redis.call('GET', KEYS[1])
	if not value then
		return 0
	end
	local sep = string.find(value, '|', 1, true)
	if not sep or string.sub(value, 1, sep - 1) ~= ARGV[1] then
		return -1
	end
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
`)

// releaseScript deletes the lock only when held by the calling session.
// A missing key is a successful no-op so UI double-release is harmless.
var releaseScript = redis.NewScript(`
	local value = redis.call('GET', KEYS[1])
	if not value then
		return 2
	end
	local sep = string.find(value, '|', 1, true)
	if not sep or string.sub(value, 1, sep - 1) ~= ARGV[1] then
		return 0
	end
	redis.call('DEL', KEYS[1])
	return 1
`)

// Acquire claims the lock for the session, refreshing the TTL when the
// same session already holds it. A held lock from another session
// yields a *Conflict.
func (m *Manager) Acquire(ctx context.Context, workspaceID, path, actorID, sessionToken string) (Grant, error) {
	key := m.key(workspaceID, path)
	now := time.Now()
	value := encodeValue(sessionToken, actorID, now)

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := m.client.SetNX(ctx, key, value, m.ttl).Result()
		if err != nil {
			return Grant{}, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			return Grant{
				WorkspaceID:  workspaceID,
				Path:         path,
				HolderActor:  actorID,
				SessionToken: sessionToken,
				AcquiredAt:   now,
				ExpiresAt:    now.Add(m.ttl),
			}, nil
		}

		refreshed, err := refreshScript.Run(ctx, m.client, []string{key}, sessionToken, m.ttl.Milliseconds()).Int()
		if err != nil {
			return Grant{}, fmt.Errorf("refresh lock: %w", err)
		}
		switch refreshed {
		case 1:
			grant, err := m.Inspect(ctx, workspaceID, path)
			if err != nil {
				return Grant{}, err
			}
			if grant == nil {
				// Expired between refresh and inspect; retry the SetNX.
				continue
			}
			return *grant, nil
		case -1:
			conflict, err := m.conflict(ctx, workspaceID, path)
			if err != nil {
				return Grant{}, err
			}
			if conflict == nil {
				continue
			}
			return Grant{}, conflict
		default:
			// Key vanished since SetNX failed; retry.
		}
	}

	conflict, err := m.conflict(ctx, workspaceID, path)
	if err != nil {
		return Grant{}, err
	}
	if conflict != nil {
		return Grant{}, conflict
	}
	return Grant{}, fmt.Errorf("acquire lock: contention on %s", path)
}

// Heartbeat extends the lock TTL for the holding session.
func (m *Manager) Heartbeat(ctx context.Context, workspaceID, path, sessionToken string) (time.Time, error) {
	key := m.key(workspaceID, path)
	refreshed, err := refreshScript.Run(ctx, m.client, []string{key}, sessionToken, m.ttl.Milliseconds()).Int()
	if err != nil {
		return time.Time{}, fmt.Errorf("heartbeat lock: %w", err)
	}
	if refreshed != 1 {
		return time.Time{}, ErrExpired
	}
	return time.Now().Add(m.ttl), nil
}

// Release drops the session's lock. Releasing an already-expired or
// already-released lock succeeds; releasing someone else's lock does not.
func (m *Manager) Release(ctx context.Context, workspaceID, path, sessionToken string) error {
	key := m.key(workspaceID, path)
	result, err := releaseScript.Run(ctx, m.client, []string{key}, sessionToken).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if result == 0 {
		return ErrNotHolder
	}
	return nil
}

// ForceRelease unconditionally drops the lock. Reserved for the apply
// path, which releases all locks on a changeset's files.
func (m *Manager) ForceRelease(ctx context.Context, workspaceID, path string) error {
	if err := m.client.Del(ctx, m.key(workspaceID, path)).Err(); err != nil {
		return fmt.Errorf("force release lock: %w", err)
	}
	return nil
}

// Inspect returns the current unexpired lock, or nil when the path is
// unlocked.
func (m *Manager) Inspect(ctx context.Context, workspaceID, path string) (*Grant, error) {
	key := m.key(workspaceID, path)
	value, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inspect lock: %w", err)
	}
	ttl, err := m.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("inspect lock ttl: %w", err)
	}
	token, actor, acquiredAt, ok := decodeValue(value)
	if !ok {
		return nil, fmt.Errorf("inspect lock: malformed record for %s", path)
	}
	grant := &Grant{
		WorkspaceID:  workspaceID,
		Path:         path,
		HolderActor:  actor,
		SessionToken: token,
		AcquiredAt:   acquiredAt,
	}
	if ttl > 0 {
		grant.ExpiresAt = time.Now().Add(ttl)
	}
	return grant, nil
}

func (m *Manager) conflict(ctx context.Context, workspaceID, path string) (*Conflict, error) {
	grant, err := m.Inspect(ctx, workspaceID, path)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, nil
	}
	return &Conflict{HeldBy: grant.HolderActor, ExpiresAt: grant.ExpiresAt}, nil
}

// Ping checks Redis reachability for the readiness probe.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}
