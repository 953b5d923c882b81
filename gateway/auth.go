package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/store"
)

// ErrUnauthorized and ErrRateLimited are the two failure modes a caller of
// Authenticator.Authenticate/RateLimiter.Allow needs to distinguish (spec
// 4.12: 401 vs 429).
var (
	ErrUnauthorized = errors.New("gateway: invalid or disabled api key")
	ErrRateLimited  = errors.New("gateway: rate limit exceeded")
)

// Authenticator validates bearer tokens against the Relational Store's
// api_keys table (C4), hashing the presented plaintext before lookup so the
// stored hash is the only thing ever compared (spec 6's API Key lifecycle).
type Authenticator struct {
	relational *store.RelationalStore
}

// NewAuthenticator wires the relational store backing api_keys.
func NewAuthenticator(relational *store.RelationalStore) *Authenticator {
	return &Authenticator{relational: relational}
}

// Authenticate resolves a bearer token (the "sk-..." plaintext) to its
// APIKey record, rejecting unknown or disabled keys.
func (a *Authenticator) Authenticate(ctx context.Context, plaintext string) (*model.APIKey, error) {
	hashed := model.HashAPIKey(plaintext)
	key, err := a.relational.GetAPIKeyByHash(ctx, hashed)
	if err != nil {
		return nil, err
	}
	if key == nil || key.Status != model.APIKeyStatusActive {
		return nil, ErrUnauthorized
	}
	return key, nil
}

// bucket tracks one key's requests/tokens within a single epoch minute
// (spec 4.12: RPM/TPM are windowed per minute). Concurrency is deliberately
// not a field here — it lives in RateLimiter.concurrent instead, since a
// request's lifetime can outlast the minute it started in, and replacing
// this bucket wholesale at minute rollover must not lose track of requests
// still in flight from the prior minute.
type bucket struct {
	epochMinute int64
	requests    int
	tokens      int
}

// RateLimiter enforces per-key RPM/TPM/concurrency limits with a
// bucket-per-(key,minute) scheme for RPM/TPM, purging buckets older than two
// minutes so memory doesn't grow unbounded across a long-running process.
// Concurrency is tracked in its own map, keyed only by key_id, so it
// survives a minute boundary unaffected by RPM/TPM bucket rollover (spec
// 4.12).
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	concurrent map[string]int
}

// NewRateLimiter builds an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket), concurrent: make(map[string]int)}
}

// Allow checks and reserves capacity for one request under limits, bumping
// the concurrency counter on success; the caller must call End when the
// request finishes (success or failure) to release it.
func (l *RateLimiter) Allow(keyID string, limits model.RateLimits, estimatedTokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeStaleLocked()

	epoch := currentEpochMinute()
	b, ok := l.buckets[keyID]
	if !ok || b.epochMinute != epoch {
		b = &bucket{epochMinute: epoch}
		l.buckets[keyID] = b
	}

	if limits.Concurrency > 0 && l.concurrent[keyID] >= limits.Concurrency {
		return ErrRateLimited
	}
	if limits.RPM > 0 && b.requests >= limits.RPM {
		return ErrRateLimited
	}
	if limits.TPM > 0 && b.tokens+estimatedTokens > limits.TPM {
		return ErrRateLimited
	}

	b.requests++
	b.tokens += estimatedTokens
	l.concurrent[keyID]++
	return nil
}

// End releases one concurrency slot reserved by Allow.
func (l *RateLimiter) End(keyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.concurrent[keyID] > 0 {
		l.concurrent[keyID]--
	}
	if l.concurrent[keyID] == 0 {
		delete(l.concurrent, keyID)
	}
}

// purgeStaleLocked drops RPM/TPM buckets more than two minutes old; must be
// called with l.mu held. The concurrency map is never purged this way — a
// key with in-flight requests keeps its entry regardless of epoch age.
func (l *RateLimiter) purgeStaleLocked() {
	cutoff := currentEpochMinute() - 2
	for k, b := range l.buckets {
		if b.epochMinute < cutoff {
			delete(l.buckets, k)
		}
	}
}

func currentEpochMinute() int64 {
	return time.Now().UTC().Unix() / 60
}
