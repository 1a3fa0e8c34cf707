package conversation

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
)

// phoneLocks serialises message handling per phone. Entries are dropped when
// no goroutine holds or waits for them.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: make(map[string]*phoneLock)}
}

// lock waits until the phone is free or ctx is done. On success it returns
// the unlock function.
func (p *phoneLocks) lock(ctx context.Context, phone string) (func(), error) {
	key := textnorm.Digits(phone)

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &phoneLock{sem: semaphore.NewWeighted(1)}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		p.release(key, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		p.release(key, l)
	}, nil
}

func (p *phoneLocks) release(key string, l *phoneLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, key)
	}
}

func (p *phoneLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
