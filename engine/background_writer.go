package engine

import (
	"context"
	"sync"

	"github.com/ghiac/agentize/log"
)

// WriteTask is one fire-and-forget unit of work submitted to the
// BackgroundWriter (spec 4.15): typically a memory-build batch or a
// relational-store append that the caller does not want to block on.
type WriteTask func(ctx context.Context) error

// BackgroundWriter runs submitted tasks on their own goroutines and logs
// (rather than propagates) failures, since by contract no caller waits on
// the result. It tracks in-flight tasks only so Wait can drain them on
// shutdown.
type BackgroundWriter struct {
	wg sync.WaitGroup
}

// NewBackgroundWriter constructs an empty writer.
func NewBackgroundWriter() *BackgroundWriter {
	return &BackgroundWriter{}
}

// Submit runs task on a new goroutine. label is used only for the log line
// on failure.
func (w *BackgroundWriter) Submit(ctx context.Context, label string, task WriteTask) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := task(ctx); err != nil {
			log.Log.Errorf("[BackgroundWriter] task %q failed: %v", label, err)
		}
	}()
}

// Wait blocks until every submitted task has returned. Intended for use in
// tests and graceful shutdown, not on the request path.
func (w *BackgroundWriter) Wait() {
	w.wg.Wait()
}
