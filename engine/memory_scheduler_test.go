package engine

import "testing"

// TestMemoryScheduler_FlushSession_NoopWithoutPendingWindow covers the
// session_end tool's common case: ending a session that never accumulated a
// partial window must not panic or try to build anything.
func TestMemoryScheduler_FlushSession_NoopWithoutPendingWindow(t *testing.T) {
	writer := NewBackgroundWriter()
	sched := NewMemoryScheduler(nil, writer, 5)

	sched.FlushSession("never-enqueued")
	writer.Wait()
}

func TestNewMemoryScheduler_DefaultsWindowSize(t *testing.T) {
	sched := NewMemoryScheduler(nil, NewBackgroundWriter(), 0)
	if sched.windowSize != 5 {
		t.Errorf("expected a non-positive windowSize to default to 5, got %d", sched.windowSize)
	}
}
