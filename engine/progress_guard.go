package engine

import "sync"

// TurnGuard enforces one in-flight chat turn per session (spec 4.9: a
// session processes turns serially, never concurrently). A message that
// arrives for a session already streaming a response is queued rather than
// starting a second concurrent pipeline run against the same history/cache
// state; the orchestrator drains the queue itself once the current turn's
// background persistence finishes.
type TurnGuard struct {
	mu      sync.Mutex
	running map[string]*turnState
}

type turnState struct {
	busy    bool
	pending []string
}

// NewTurnGuard returns an empty guard.
func NewTurnGuard() *TurnGuard {
	return &TurnGuard{running: make(map[string]*turnState)}
}

// Enter reports whether sessionID already has a turn in flight. If so,
// message is appended to that session's pending queue and Enter returns
// true — the caller must not start a new pipeline run and should respond
// with an in-progress status instead. If sessionID is idle, Enter marks it
// busy and returns false; the caller now owns the turn and must call Leave
// when the stream closes.
func (g *TurnGuard) Enter(sessionID, message string) (alreadyRunning bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.running[sessionID]
	if ok && s.busy {
		s.pending = append(s.pending, message)
		return true
	}
	if !ok {
		s = &turnState{}
		g.running[sessionID] = s
	}
	s.busy = true
	return false
}

// Leave clears the busy flag for sessionID without touching its pending
// queue, so a caller that hits an error before starting the stream can back
// out without losing messages that queued up in the meantime. Prefer
// TakeOver for the normal turn-completion path.
func (g *TurnGuard) Leave(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.running[sessionID]; ok {
		s.busy = false
	}
}

// TakeOver ends the current turn for sessionID and returns the messages
// that queued up behind it, in arrival order, removing the session from the
// running set. The caller (ChatOrchestrator.drainQueued) is responsible for
// replaying each one through HandleMessage.
func (g *TurnGuard) TakeOver(sessionID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.running[sessionID]
	delete(g.running, sessionID)
	if !ok || len(s.pending) == 0 {
		return nil
	}
	return s.pending
}
