package service

import (
	"context"
	"sync"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
)

var (
	_ ports.IdentityGuard = NopGuard{}
	_ ports.IdentityGuard = (*LocalGuard)(nil)
)

// NopGuard performs no concurrency control. Concurrent events touching the same
// identity may interleave their check and write steps.
type NopGuard struct{}

func (NopGuard) Acquire(context.Context, ...string) (func(), error) {
	return func() {}, nil
}

// LocalGuard serialises work per identity key within one process.
type LocalGuard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{locks: make(map[string]*keyLock)}
}

// Acquire locks keys in sorted order and gives up when ctx is done.
func (g *LocalGuard) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = domain.NormalizeKeys(keys)
	held := make([]string, 0, len(keys))

	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			g.unlock(held[i])
		}
	}

	for _, key := range keys {
		if err := g.lock(ctx, key); err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (g *LocalGuard) lock(ctx context.Context, key string) error {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		g.unref(key, l)
		return ctx.Err()
	}
}

func (g *LocalGuard) unlock(key string) {
	g.mu.Lock()
	l := g.locks[key]
	g.mu.Unlock()

	<-l.sem
	g.unref(key, l)
}

// unref drops the entry once nobody holds or waits on it.
func (g *LocalGuard) unref(key string, l *keyLock) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(g.locks, key)
	}
}

func (g *LocalGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
