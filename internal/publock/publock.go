// Package publock serializes publishing per book id so two concurrent
// ingests of the same book cannot race the package swap. The in-process
// locker covers a single node; the redis locker covers a fleet.
package publock

import (
	"context"
	"sync"

	"openshelf/pkg/domain"
)

// Locker acquires an exclusive publish lock for a key. The returned release
// function must be called exactly once. A held lock yields
// domain.ErrPublishConflict instead of blocking.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemory returns an in-process Locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]bool)}
}

// Acquire implements Locker.
func (m *Memory) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrPublishConflict
	}
	m.held[key] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}
	return release, nil
}
