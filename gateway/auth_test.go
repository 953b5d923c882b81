package gateway

import (
	"context"
	"testing"

	"github.com/ghiac/agentize/model"
	"github.com/ghiac/agentize/store"
)

func newTestAuthStore(t *testing.T) *store.RelationalStore {
	t.Helper()
	s, err := store.NewRelationalStore(":memory:")
	if err != nil {
		t.Fatalf("NewRelationalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAuthenticator_AcceptsActiveKey(t *testing.T) {
	s := newTestAuthStore(t)
	auth := NewAuthenticator(s)
	ctx := context.Background()

	plaintext, key, err := model.GenerateAPIKey("user-1", model.RateLimits{RPM: 10})
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if err := s.PutAPIKey(ctx, key); err != nil {
		t.Fatalf("PutAPIKey: %v", err)
	}

	got, err := auth.Authenticate(ctx, plaintext)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.KeyID != key.KeyID {
		t.Errorf("expected to resolve key %s, got %s", key.KeyID, got.KeyID)
	}
}

func TestAuthenticator_RejectsUnknownKey(t *testing.T) {
	s := newTestAuthStore(t)
	auth := NewAuthenticator(s)

	if _, err := auth.Authenticate(context.Background(), "sk-does-not-exist"); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized for an unknown key, got %v", err)
	}
}

func TestAuthenticator_RejectsDisabledKey(t *testing.T) {
	s := newTestAuthStore(t)
	auth := NewAuthenticator(s)
	ctx := context.Background()

	plaintext, key, err := model.GenerateAPIKey("user-1", model.RateLimits{})
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	key.Status = model.APIKeyStatusDisabled
	if err := s.PutAPIKey(ctx, key); err != nil {
		t.Fatalf("PutAPIKey: %v", err)
	}

	if _, err := auth.Authenticate(ctx, plaintext); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized for a disabled key, got %v", err)
	}
}

func TestRateLimiter_EnforcesRPM(t *testing.T) {
	l := NewRateLimiter()
	limits := model.RateLimits{RPM: 2}

	if err := l.Allow("key-1", limits, 0); err != nil {
		t.Fatalf("1st Allow: %v", err)
	}
	if err := l.Allow("key-1", limits, 0); err != nil {
		t.Fatalf("2nd Allow: %v", err)
	}
	if err := l.Allow("key-1", limits, 0); err != ErrRateLimited {
		t.Errorf("expected 3rd request within the same minute to be rate limited, got %v", err)
	}
}

func TestRateLimiter_EnforcesTPM(t *testing.T) {
	l := NewRateLimiter()
	limits := model.RateLimits{TPM: 100}

	if err := l.Allow("key-1", limits, 60); err != nil {
		t.Fatalf("1st Allow: %v", err)
	}
	if err := l.Allow("key-1", limits, 60); err != ErrRateLimited {
		t.Errorf("expected cumulative tokens to exceed TPM and be rate limited, got %v", err)
	}
}

// TestRateLimiter_ConcurrencyIndependentOfRPMBucket covers the fix for
// concurrency being tracked separately from the per-minute RPM/TPM bucket:
// a key with no RPM/TPM limit at all must still be throttled by concurrency,
// and releasing a slot via End must immediately allow a new one in.
func TestRateLimiter_ConcurrencyIndependentOfRPMBucket(t *testing.T) {
	l := NewRateLimiter()
	limits := model.RateLimits{Concurrency: 1}

	if err := l.Allow("key-1", limits, 0); err != nil {
		t.Fatalf("1st Allow: %v", err)
	}
	if err := l.Allow("key-1", limits, 0); err != ErrRateLimited {
		t.Errorf("expected a 2nd concurrent request to be rejected while the 1st is in flight, got %v", err)
	}

	l.End("key-1")
	if err := l.Allow("key-1", limits, 0); err != nil {
		t.Errorf("expected Allow to succeed once the in-flight request ended, got %v", err)
	}
}

// TestRateLimiter_ConcurrencySurvivesBucketRollover exercises the bucket
// struct's documented invariant directly: concurrency state must not reset
// when purgeStaleLocked drops a stale RPM/TPM bucket out from under a key
// with a request still in flight from an earlier minute.
func TestRateLimiter_ConcurrencySurvivesBucketRollover(t *testing.T) {
	l := NewRateLimiter()
	limits := model.RateLimits{Concurrency: 1}

	if err := l.Allow("key-1", limits, 0); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	l.mu.Lock()
	l.buckets["key-1"].epochMinute -= 10
	l.purgeStaleLocked()
	_, bucketStillPresent := l.buckets["key-1"]
	concurrentCount := l.concurrent["key-1"]
	l.mu.Unlock()

	if bucketStillPresent {
		t.Fatal("expected the stale RPM/TPM bucket to be purged")
	}
	if concurrentCount != 1 {
		t.Errorf("expected concurrency count to survive bucket purge, got %d", concurrentCount)
	}

	if err := l.Allow("key-1", limits, 0); err != ErrRateLimited {
		t.Errorf("expected the still in-flight request to keep blocking a 2nd one after bucket rollover, got %v", err)
	}
}

func TestRateLimiter_ZeroLimitsMeanUnbounded(t *testing.T) {
	l := NewRateLimiter()
	for i := 0; i < 5; i++ {
		if err := l.Allow("key-1", model.RateLimits{}, 1000); err != nil {
			t.Fatalf("Allow %d with zero limits: %v", i, err)
		}
	}
}
