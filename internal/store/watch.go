package store

import (
	"context"
	"sync"

	"github.com/erauner12/syncwatch/internal/model"
)

// broadcaster implements the "close and replace a channel" pattern for
// a lazy, restartable, infinite fan-out signal: every commit that
// changes the task table closes the current generation channel,
// waking every subscriber, then a fresh channel is installed for the
// next generation.
type broadcaster struct {
	mu   sync.Mutex
	gen  chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{gen: make(chan struct{})}
}

func (b *broadcaster) notify() {
	b.mu.Lock()
	close(b.gen)
	b.gen = make(chan struct{})
	b.mu.Unlock()
}

func (b *broadcaster) current() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Watch returns a channel of active-task snapshots. It fires once
// immediately with the current state, then again after every committed
// transaction that changes the task table, until ctx is cancelled.
// Restarting a cancelled Watch is just calling it again — there is no
// per-subscriber state to clean up beyond the goroutine exiting.
func (s *Store) Watch(ctx context.Context) <-chan []model.Task {
	out := make(chan []model.Task, 1)

	go func() {
		defer close(out)
		for {
			gen := s.broadcaster.current()

			tasks, err := Tasks{}.ListActive(ctx, s.Pool)
			if err == nil {
				select {
				case out <- tasks:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-gen:
				// a commit changed the task table; loop and re-query
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
