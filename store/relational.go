// Package store implements the Relational Store (C4), the Chat History
// Cache (C10), and the Semantic Cache (C13).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ghiac/agentize/log"
	"github.com/ghiac/agentize/model"
)

// RelationalStore is the sqlite-backed implementation of C4: durable
// per-session message log plus agent/API-key registry.
type RelationalStore struct {
	db   *sql.DB
	path string

	// appendLocks serializes append_message per session_id so the
	// read-modify-write in AppendMessage doesn't race with itself on this
	// process (the cross-process race noted in spec 4.4 is accepted).
	appendMu    sync.Mutex
	appendLocks map[string]*sync.Mutex
}

// NewRelationalStore opens (and migrates) a sqlite database at dbPath. An
// empty dbPath opens an in-memory database, mirroring the teacher's
// NewSQLiteStore convention.
func NewRelationalStore(dbPath string) (*RelationalStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("relational store: create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("relational store: open database: %w", err)
	}

	s := &RelationalStore{db: db, path: dbPath, appendLocks: make(map[string]*sync.Mutex)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("relational store: init schema: %w", err)
	}
	return s, nil
}

func (s *RelationalStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		seq_id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);

	CREATE TABLE IF NOT EXISTS api_keys (
		key_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		hashed_key TEXT NOT NULL UNIQUE,
		masked_key TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id);
	CREATE INDEX IF NOT EXISTS idx_api_keys_hashed_key ON api_keys(hashed_key);

	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_slug TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_user_id ON agents(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *RelationalStore) Close() error {
	return s.db.Close()
}

func (s *RelationalStore) lockFor(sessionID string) *sync.Mutex {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	l, ok := s.appendLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.appendLocks[sessionID] = l
	}
	return l
}

// CreateSession eagerly creates a session row ahead of any message
// (spec 6's `POST /create_session`), so get_sessions and
// sessions/<thread_id>/messages see it even before the first turn streams.
// The session ID is a random UUIDv4: unlike AppendMessage's lazily-created
// rows, there is no first message to derive a title from, so title starts
// empty and is filled in by the first AppendMessage call.
func (s *RelationalStore) CreateSession(ctx context.Context, userID, agentID string) (*model.Session, error) {
	sessionID := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, agent_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, userID, agentID, "", now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("relational store: create session: %w", err)
	}
	return &model.Session{
		SessionID: sessionID,
		UserID:    userID,
		AgentID:   agentID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetSessionActive flips a session's active flag (spec 4.11's session_end
// contract: "marks it inactive"). A session row must already exist.
func (s *RelationalStore) SetSessionActive(ctx context.Context, sessionID string, active bool) error {
	activeInt := 0
	if active {
		activeInt = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = ? WHERE session_id = ?`, activeInt, sessionID)
	if err != nil {
		return fmt.Errorf("relational store: set session active: %w", err)
	}
	return nil
}

// AppendMessage is a read-modify-write against the session row: creates the
// session on first write with the first 50 characters of content as the
// title (spec 4.4). The race across concurrent writers to the same session
// is accepted, per spec's race note; the per-session mutex only protects
// this process's own concurrent writers from clobbering each other.
func (s *RelationalStore) AppendMessage(ctx context.Context, sessionID, userID, agentID string, role model.ChatRole, content string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(new(int))
	exists = err == nil

	if !exists {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (session_id, user_id, agent_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, userID, agentID, model.TitleFromContent(content), now.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("relational store: create session: %w", err)
		}
	} else {
		// A session made by CreateSession has an empty title until its first
		// message arrives here.
		if _, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ?, title = CASE WHEN title = '' THEN ? ELSE title END WHERE session_id = ?`,
			now.Unix(), model.TitleFromContent(content), sessionID,
		); err != nil {
			return fmt.Errorf("relational store: touch session: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, userID, string(role), content, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("relational store: append message: %w", err)
	}
	return nil
}

// GetSessionMessages returns the last topK messages for a session, ordered
// oldest->newest. topK <= 0 means "no limit" (the full history) — callers
// like the sessions/<thread_id>/messages endpoint want the whole log, while
// the chat history cache wants only the most recent window.
func (s *RelationalStore) GetSessionMessages(ctx context.Context, userID, sessionID string, topK int) ([]model.ChatMessage, error) {
	limit := topK
	if limit <= 0 {
		limit = -1 // sqlite: LIMIT -1 means unbounded
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages
		 WHERE session_id = ? AND user_id = ?
		 ORDER BY seq_id DESC LIMIT ?`,
		sessionID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("relational store: get session messages: %w", err)
	}
	defer rows.Close()

	var reversed []model.ChatMessage
	for rows.Next() {
		var role, content string
		var createdAtNano int64
		if err := rows.Scan(&role, &content, &createdAtNano); err != nil {
			return nil, fmt.Errorf("relational store: scan message: %w", err)
		}
		reversed = append(reversed, model.ChatMessage{
			SessionID: sessionID,
			UserID:    userID,
			Role:      model.ChatRole(role),
			Content:   content,
			Timestamp: time.Unix(0, createdAtNano).UTC(),
		})
	}

	out := make([]model.ChatMessage, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, nil
}

// ListSessions returns every session_id owned by userID.
func (s *RelationalStore) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, agent_id, title, active, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY updated_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("relational store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var sess model.Session
		var active int
		var createdAt, updatedAt int64
		if err := rows.Scan(&sess.SessionID, &sess.AgentID, &sess.Title, &active, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("relational store: scan session: %w", err)
		}
		sess.UserID = userID
		sess.Active = active != 0
		sess.CreatedAt = time.Unix(createdAt, 0).UTC()
		sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, sess)
	}
	return out, nil
}

// GetSession returns a single session's metadata, including its agent_id,
// so callers (the Chat Orchestrator) can resolve the Vector Store tenant to
// retrieve/write against before the first message of a resumed session.
func (s *RelationalStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var sess model.Session
	var active int
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, agent_id, title, active, created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&sess.SessionID, &sess.UserID, &sess.AgentID, &sess.Title, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relational store: get session: %w", err)
	}
	sess.Active = active != 0
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sess, nil
}

// PutAPIKey persists an API key record (plaintext is never stored; the
// caller must have already hashed it via model.GenerateAPIKey).
func (s *RelationalStore) PutAPIKey(ctx context.Context, key model.APIKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("relational store: marshal api key: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_id, user_id, hashed_key, masked_key, status, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key_id) DO UPDATE SET status = excluded.status, data = excluded.data`,
		key.KeyID, key.UserID, key.HashedKey, key.MaskedKey, string(key.Status), string(data), key.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("relational store: put api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash, as used on every
// incoming bearer token validation (C12).
func (s *RelationalStore) GetAPIKeyByHash(ctx context.Context, hashedKey string) (*model.APIKey, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM api_keys WHERE hashed_key = ?`, hashedKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relational store: get api key: %w", err)
	}
	var key model.APIKey
	if err := json.Unmarshal([]byte(data), &key); err != nil {
		return nil, fmt.Errorf("relational store: unmarshal api key: %w", err)
	}
	return &key, nil
}

// PutAgent persists an agent registry entry.
func (s *RelationalStore) PutAgent(ctx context.Context, agent model.AgentRegistryEntry) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("relational store: marshal agent: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, user_id, agent_slug, status, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET status = excluded.status, data = excluded.data`,
		agent.AgentID, agent.UserID, agent.AgentSlug, string(agent.Status), string(data), agent.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("relational store: put agent: %w", err)
	}
	return nil
}

// GetAgent returns a single agent registry entry by id.
func (s *RelationalStore) GetAgent(ctx context.Context, agentID string) (*model.AgentRegistryEntry, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM agents WHERE agent_id = ?`, agentID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relational store: get agent: %w", err)
	}
	var agent model.AgentRegistryEntry
	if err := json.Unmarshal([]byte(data), &agent); err != nil {
		return nil, fmt.Errorf("relational store: unmarshal agent: %w", err)
	}
	return &agent, nil
}

// ListAgents returns every agent registry entry owned by userID.
func (s *RelationalStore) ListAgents(ctx context.Context, userID string) ([]model.AgentRegistryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM agents WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("relational store: list agents: %w", err)
	}
	defer rows.Close()

	var out []model.AgentRegistryEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("relational store: scan agent: %w", err)
		}
		var agent model.AgentRegistryEntry
		if err := json.Unmarshal([]byte(data), &agent); err != nil {
			return nil, fmt.Errorf("relational store: unmarshal agent: %w", err)
		}
		out = append(out, agent)
	}
	return out, nil
}

// DeleteAgent removes an agent registry entry; deleting an agent's Vector
// Store collection is the caller's (engine-level) responsibility per the
// ownership rule "deleting an agent deletes its collection".
func (s *RelationalStore) DeleteAgent(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("relational store: delete agent: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages, per the ownership rule
// "deleting a session deletes its messages".
func (s *RelationalStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relational store: delete session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("relational store: delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("relational store: delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("relational store: delete session commit: %w", err)
	}
	log.Log.Infof("[RelationalStore] deleted session %s and its messages", sessionID)
	return nil
}
