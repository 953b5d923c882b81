package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// APIKeyStatus is the lifecycle state of an APIKey.
type APIKeyStatus string

const (
	APIKeyStatusActive   APIKeyStatus = "active"
	APIKeyStatusDisabled APIKeyStatus = "disabled"
)

// RateLimits bounds a key's request rate, token rate, and concurrency.
type RateLimits struct {
	RPM         int `json:"rpm"`
	TPM         int `json:"tpm"`
	Concurrency int `json:"concurrency"`
}

// APIKey is the bearer-token credential a Tool Gateway caller presents. The
// plaintext key exists only at creation time; HashedKey is the only form
// ever persisted (spec 4.12).
type APIKey struct {
	KeyID       string       `json:"key_id"`
	UserID      string       `json:"user_id"`
	HashedKey   string       `json:"hashed_key"`
	MaskedKey   string       `json:"masked_key"`
	Status      APIKeyStatus `json:"status"`
	Permissions []string     `json:"permissions,omitempty"`
	Limits      RateLimits   `json:"limits"`
	CreatedAt   time.Time    `json:"created_at"`
}

// GenerateAPIKey creates a fresh high-entropy bearer token of the form
// sk-<base64url-32bytes>. It returns the plaintext (shown to the caller
// exactly once) and the APIKey record to persist (hash + masked preview
// only).
func GenerateAPIKey(userID string, limits RateLimits) (plaintext string, key APIKey, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", APIKey{}, fmt.Errorf("generate api key: %w", err)
	}
	plaintext = "sk-" + base64.RawURLEncoding.EncodeToString(raw)

	key = APIKey{
		KeyID:     "key_" + hex.EncodeToString(raw[:8]),
		UserID:    userID,
		HashedKey: HashAPIKey(plaintext),
		MaskedKey: MaskAPIKey(plaintext),
		Status:    APIKeyStatusActive,
		Limits:    limits,
		CreatedAt: time.Now().UTC(),
	}
	return plaintext, key, nil
}

// HashAPIKey computes the SHA-256 hex digest stored in place of the plaintext.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// MaskAPIKey renders "first 8 + ... + last 4" for display purposes, never
// the plaintext itself.
func MaskAPIKey(plaintext string) string {
	if len(plaintext) <= 12 {
		return plaintext
	}
	return plaintext[:8] + "..." + plaintext[len(plaintext)-4:]
}

// AgentStatus is the lifecycle state of an agent registry entry.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusDisabled AgentStatus = "disabled"
)

// AgentRegistryEntry owns a Vector Store collection; AgentID equals the
// tenant_id used throughout C3/C6/C7 (spec Data Model).
type AgentRegistryEntry struct {
	AgentID     string         `json:"agent_id"`
	UserID      string         `json:"user_id"`
	AgentName   string         `json:"agent_name"`
	AgentSlug   string         `json:"agent_slug"`
	Description string         `json:"description,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	Limits      RateLimits     `json:"limits"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      AgentStatus    `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}
