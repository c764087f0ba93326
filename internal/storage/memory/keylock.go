package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-token-ledger/internal/storage"
)

// keyLock is a one-slot semaphore shared by everyone waiting on a key.
type keyLock struct {
	ch      chan struct{}
	holders int // holders plus waiters; entry is dropped at zero
}

// keyLocks is a refcounted map of per-key exclusive locks. Unlike a
// sync.Mutex, acquisition can be abandoned when the context ends.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[string]*keyLock)}
}

func (l *keyLocks) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.m[key] = kl
	}
	kl.holders++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(key, false)
		return ctx.Err()
	}
}

func (l *keyLocks) release(key string, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl := l.m[key]
	if held {
		<-kl.ch
	}
	kl.holders--
	if kl.holders == 0 {
		delete(l.m, key)
	}
}

// lockAll acquires every key in sorted order, so two transactions over
// overlapping key sets can never deadlock. On failure no lock is held.
// Returns storage.ErrConflict when timeout elapses first.
func (l *keyLocks) lockAll(ctx context.Context, keys []string, timeout time.Duration) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	held := make([]string, 0, len(keys))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i], true)
		}
	}

	for _, key := range keys {
		if err := l.acquire(lockCtx, key); err != nil {
			unlock()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, storage.ErrConflict
		}
		held = append(held, key)
	}

	return unlock, nil
}

// size returns the number of keys currently locked or waited on.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// normalizeKeys returns keys sorted with duplicates and empties removed.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
