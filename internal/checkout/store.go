package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrStateConflict is returned by Transition when the stored attempt is no
// longer in the state the caller observed.
var ErrStateConflict = errors.New("checkout: attempt state changed concurrently")

// AttemptStore persists per-session payment attempts. A missing session
// yields a fresh Idle attempt.
type AttemptStore interface {
	Get(ctx context.Context, sessionID string) (Attempt, error)
	// Save unconditionally persists an attempt the caller already owns.
	Save(ctx context.Context, attempt Attempt) error
	// Transition persists attempt only while the stored state for the
	// session is still from. A missing record counts as Idle. Losing the
	// race yields ErrStateConflict.
	Transition(ctx context.Context, attempt Attempt, from AttemptState) error
	Reset(ctx context.Context, sessionID string) error
}

func attemptKey(sessionID string) string {
	return "checkout:attempt:" + sessionID
}

// transitionScript swaps the stored attempt only when its state still
// matches the one the caller observed.
var transitionScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local cur = cjson.decode(raw)
if cur["state"] ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// DefaultAttemptTTL bounds how long an abandoned attempt may linger.
const DefaultAttemptTTL = 30 * time.Minute

// RedisStore keeps attempts in Redis with a TTL so abandoned checkouts
// expire on their own.
type RedisStore struct {
	R   *redis.Client
	TTL time.Duration
}

func (s *RedisStore) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultAttemptTTL
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (Attempt, error) {
	raw, err := s.R.Get(ctx, attemptKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Attempt{SessionID: sessionID, State: StateIdle}, nil
	}
	if err != nil {
		return Attempt{}, err
	}
	var attempt Attempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		return Attempt{SessionID: sessionID, State: StateIdle}, nil
	}
	return attempt, nil
}

func (s *RedisStore) Save(ctx context.Context, attempt Attempt) error {
	raw, err := marshalAttempt(attempt)
	if err != nil {
		return err
	}
	return s.R.Set(ctx, attemptKey(attempt.SessionID), raw, s.ttl()).Err()
}

func (s *RedisStore) Transition(ctx context.Context, attempt Attempt, from AttemptState) error {
	raw, err := marshalAttempt(attempt)
	if err != nil {
		return err
	}
	key := attemptKey(attempt.SessionID)

	// Idle is represented by an absent record, so claiming an idle session
	// is a plain SetNX.
	if from == StateIdle {
		ok, err := s.R.SetNX(ctx, key, raw, s.ttl()).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrStateConflict
		}
		return nil
	}

	ok, err := transitionScript.Run(ctx, s.R, []string{key}, string(from), raw, s.ttl().Milliseconds()).Bool()
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateConflict
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, sessionID string) error {
	return s.R.Del(ctx, attemptKey(sessionID)).Err()
}

func marshalAttempt(attempt Attempt) (string, error) {
	attempt.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(attempt)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// MemoryStore is an in-process AttemptStore for the client SDK and tests.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
}

// NewMemoryStore builds an empty in-memory attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]Attempt)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt, ok := s.attempts[sessionID]; ok {
		return attempt, nil
	}
	return Attempt{SessionID: sessionID, State: StateIdle}, nil
}

func (s *MemoryStore) Save(_ context.Context, attempt Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt.UpdatedAt = time.Now().UTC()
	s.attempts[attempt.SessionID] = attempt
	return nil
}

func (s *MemoryStore) Transition(_ context.Context, attempt Attempt, from AttemptState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.attempts[attempt.SessionID]
	if !ok {
		current = Attempt{SessionID: attempt.SessionID, State: StateIdle}
	}
	if current.State != from {
		return ErrStateConflict
	}
	attempt.UpdatedAt = time.Now().UTC()
	s.attempts[attempt.SessionID] = attempt
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, sessionID)
	return nil
}
