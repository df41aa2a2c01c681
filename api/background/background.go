// Package background runs fire and forget work that must still finish
// before the server exits.
package background

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

type Background struct {
	log logrus.FieldLogger
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func New(log logrus.FieldLogger) *Background {
	return &Background{log: log}
}

// Go runs fn in its own goroutine. Panics are logged, not propagated. After
// Shutdown started, fn is dropped and false is returned.
func (b *Background) Go(name string, fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.log.WithField("task", name).Warn("background task dropped during shutdown")
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				b.log.WithFields(logrus.Fields{
					"task":  name,
					"trace": string(debug.Stack()),
				}).Error(fmt.Sprintf("background task panicked: %v", rec))
			}
		}()

		fn()
	}()
	return true
}

// Shutdown refuses new tasks and waits for the running ones, or for ctx.
func (b *Background) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
