package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ghiac/agentize/log"
	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/vectorstore"
)

// defaultSchedulerTick is how often the Memory Scheduler checks pending
// windows for a flush, independent of any one window's size.
const defaultSchedulerTick = 10 * time.Second

// pendingWindow accumulates dialogues for one tenant/session until either
// the window fills or the ticker fires, at which point it flushes through
// the Memory Builder in window mode (spec 4.6's window build mode).
type pendingWindow struct {
	handle    vectorstore.CollectionHandle
	dialogues []model.Dialogue
}

// MemoryScheduler is the teacher's session-summarization cadence,
// repurposed: instead of periodically summarizing stale sessions, it
// periodically flushes whatever window-mode dialogues have accumulated
// since the last tick, so a session that goes quiet still gets its memories
// built instead of waiting forever for the window to fill.
type MemoryScheduler struct {
	builder    *MemoryBuilder
	writer     *BackgroundWriter
	windowSize int
	tick       time.Duration

	mu      sync.Mutex
	pending map[string]*pendingWindow

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryScheduler wires a scheduler with the default tick interval.
func NewMemoryScheduler(builder *MemoryBuilder, writer *BackgroundWriter, windowSize int) *MemoryScheduler {
	if windowSize <= 0 {
		windowSize = 5
	}
	return &MemoryScheduler{
		builder:    builder,
		writer:     writer,
		windowSize: windowSize,
		tick:       defaultSchedulerTick,
		pending:    make(map[string]*pendingWindow),
	}
}

// Enqueue adds one turn's dialogue to sessionID's pending window. It flushes
// immediately once the window reaches windowSize, matching C6's window
// build mode without waiting for the next tick.
func (m *MemoryScheduler) Enqueue(handle vectorstore.CollectionHandle, sessionID string, d model.Dialogue) {
	m.mu.Lock()
	w, ok := m.pending[sessionID]
	if !ok {
		w = &pendingWindow{handle: handle}
		m.pending[sessionID] = w
	}
	w.dialogues = append(w.dialogues, d)
	full := len(w.dialogues) >= m.windowSize
	if full {
		delete(m.pending, sessionID)
	}
	m.mu.Unlock()

	if full {
		m.flush(sessionID, w)
	}
}

// Start begins the background tick loop that flushes any session's partial
// window even if it never fills.
func (m *MemoryScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.flushAll()
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit.
func (m *MemoryScheduler) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// FlushSession immediately builds and clears sessionID's pending window,
// regardless of whether it has filled or the tick has fired — used by the
// session_end tool so ending a session doesn't leave a partial window
// waiting on the next tick (spec 4.11's session_end contract). It is a
// no-op if the session has no pending dialogues.
func (m *MemoryScheduler) FlushSession(sessionID string) {
	m.mu.Lock()
	w, ok := m.pending[sessionID]
	if ok {
		delete(m.pending, sessionID)
	}
	m.mu.Unlock()

	if ok && len(w.dialogues) > 0 {
		m.flush(sessionID, w)
	}
}

func (m *MemoryScheduler) flushAll() {
	m.mu.Lock()
	due := m.pending
	m.pending = make(map[string]*pendingWindow)
	m.mu.Unlock()

	for sessionID, w := range due {
		if len(w.dialogues) == 0 {
			continue
		}
		m.flush(sessionID, w)
	}
}

func (m *MemoryScheduler) flush(sessionID string, w *pendingWindow) {
	m.writer.Submit(context.Background(), "memory_window_"+sessionID, func(ctx context.Context) error {
		if err := m.builder.Build(ctx, w.handle, w.dialogues, BuildModeWindow); err != nil {
			log.Log.Errorf("[MemoryScheduler] window build failed for session %s: %v", sessionID, err)
			return err
		}
		return nil
	})
}
