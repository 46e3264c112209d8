package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrDegraded is reported by FailOpenStore.Ping while writes are held in
// memory instead of the primary.
var ErrDegraded = errors.New("storage: primary unavailable, serving from memory")

// fallbackPrefix marks versions handed out by the in-memory copy. A primary
// never recognises them, so a write based on a fallback read is rejected with
// ErrConflict once the primary is back and the caller reloads.
const fallbackPrefix = "fallback:"

// FailOpenStore forwards every call to a primary backend. A call that fails
// with a hard error is served from an in-memory copy instead, and the next
// call tries the primary again. Writes that only reached memory are kept as
// pending, together with the primary version they were based on, and pushed
// to the primary on the next successful read of that key or the next healthy
// Ping. A pending write whose base is no longer current is dropped.
type FailOpenStore struct {
	primary  Backend
	fallback *MemoryStore
	degraded atomic.Bool

	mu      sync.Mutex
	pending map[string]string // key -> primary version the memory copy is based on
}

// FailOpen wraps primary.
func FailOpen(primary Backend) *FailOpenStore {
	return &FailOpenStore{
		primary:  primary,
		fallback: NewMemoryStore(),
		pending:  make(map[string]string),
	}
}

// Degraded reports whether the last primary call failed or some writes have
// not reached the primary yet.
func (s *FailOpenStore) Degraded() bool {
	return s.degraded.Load() || s.pendingCount() > 0
}

func (s *FailOpenStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	value, version, err := s.primary.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		if ctx.Err() != nil {
			return nil, "", err
		}
		s.fail("read", key, err)
		return s.fallbackGet(ctx, key)
	}
	s.recovered()
	if base, ok := s.pendingBase(key); ok {
		return s.flush(ctx, key, base, value, version, err)
	}
	return value, version, err
}

func (s *FailOpenStore) Put(ctx context.Context, key string, value []byte, version string) (string, error) {
	next, err := s.primary.Put(ctx, key, value, version)
	if err == nil {
		s.recovered()
		s.clearPending(key)
		return next, nil
	}
	if errors.Is(err, ErrConflict) || ctx.Err() != nil {
		return "", err
	}
	s.fail("write", key, err)
	// Memory writes are unconditional; the comments store serialises writes per key.
	stored := s.fallback.overwrite(key, value)
	s.markPending(key, version)
	return fallbackPrefix + stored, nil
}

// flush pushes the pending memory copy of key to the primary, conditional on
// base. primaryValue, primaryVersion and primaryErr are the result of the read
// that preceded it.
func (s *FailOpenStore) flush(ctx context.Context, key, base string, primaryValue []byte, primaryVersion string, primaryErr error) ([]byte, string, error) {
	value, _, err := s.fallback.Get(ctx, key)
	if err != nil {
		s.clearPending(key)
		return primaryValue, primaryVersion, primaryErr
	}
	next, err := s.primary.Put(ctx, key, value, base)
	switch {
	case err == nil:
		s.clearPending(key)
		log.Printf("storage: saved %s to primary after recovery", key)
		return value, next, nil
	case errors.Is(err, ErrConflict):
		s.clearPending(key)
		log.Printf("storage: %s changed on primary while unavailable, dropping unsaved copy", key)
		return primaryValue, primaryVersion, primaryErr
	case ctx.Err() != nil:
		return nil, "", err
	default:
		s.fail("write", key, err)
		return s.fallbackGet(ctx, key)
	}
}

func (s *FailOpenStore) fallbackGet(ctx context.Context, key string) ([]byte, string, error) {
	value, version, err := s.fallback.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return value, fallbackPrefix + version, nil
}

func (s *FailOpenStore) History(ctx context.Context, key string, limit int) ([]Revision, error) {
	historian, ok := s.primary.(Historian)
	if !ok {
		return nil, fmt.Errorf("history unavailable for %s", key)
	}
	return historian.History(ctx, key, limit)
}

// Ping checks the primary, pushes any pending writes, and returns ErrDegraded
// while some of them still only live in memory.
func (s *FailOpenStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		s.degraded.Store(true)
		return fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	for _, key := range s.pendingKeys() {
		if _, _, err := s.Get(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			break
		}
	}
	if n := s.pendingCount(); n > 0 {
		return fmt.Errorf("%w: %d unsaved keys", ErrDegraded, n)
	}
	s.recovered()
	return nil
}

func (s *FailOpenStore) Close() error {
	return s.primary.Close()
}

// KeepsHistory reports whether History can succeed.
func (s *FailOpenStore) KeepsHistory() bool {
	_, ok := s.primary.(Historian)
	return ok
}

// Unavailable is a Backend whose every call fails with err. main wraps it in
// FailOpen when the configured backend cannot be opened at all.
func Unavailable(err error) Backend {
	return unavailable{err: err}
}

type unavailable struct{ err error }

func (u unavailable) Get(context.Context, string) ([]byte, string, error) { return nil, "", u.err }

func (u unavailable) Put(context.Context, string, []byte, string) (string, error) {
	return "", u.err
}

func (u unavailable) Ping(context.Context) error { return u.err }

func (u unavailable) Close() error { return nil }

func (s *FailOpenStore) fail(op, key string, err error) {
	if s.degraded.CompareAndSwap(false, true) {
		log.Printf("storage: %s %s failed, serving from memory until the primary recovers: %v", op, key, err)
	}
}

func (s *FailOpenStore) recovered() {
	if s.degraded.CompareAndSwap(true, false) {
		log.Printf("storage: primary reachable again")
	}
}

// markPending records base unless key already has a pending write, in which
// case version came from the memory copy and the original base still applies.
func (s *FailOpenStore) markPending(key, base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; !ok {
		s.pending[key] = base
	}
}

func (s *FailOpenStore) clearPending(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	s.fallback.remove(key)
}

func (s *FailOpenStore) pendingBase(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base, ok := s.pending[key]
	return base, ok
}

func (s *FailOpenStore) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *FailOpenStore) pendingKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.pending))
	for key := range s.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
