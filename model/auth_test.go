package model

import "testing"

func TestGenerateAPIKey_HashMatchesPlaintext(t *testing.T) {
	plaintext, key, err := GenerateAPIKey("user-1", RateLimits{RPM: 60, TPM: 1000, Concurrency: 2})
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if plaintext == "" || key.HashedKey == "" {
		t.Fatal("expected non-empty plaintext and hash")
	}
	if key.HashedKey != HashAPIKey(plaintext) {
		t.Error("stored hash does not match hash of returned plaintext")
	}
	if key.Status != APIKeyStatusActive {
		t.Errorf("expected a fresh key to be active, got %s", key.Status)
	}
	if key.UserID != "user-1" {
		t.Errorf("expected user_id to round-trip, got %s", key.UserID)
	}
}

func TestGenerateAPIKey_NeverPersistsPlaintext(t *testing.T) {
	plaintext, key, err := GenerateAPIKey("user-1", RateLimits{})
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if key.HashedKey == plaintext {
		t.Error("HashedKey must never equal the plaintext key")
	}
	if key.MaskedKey == plaintext {
		t.Error("MaskedKey must never equal the plaintext key")
	}
}

func TestMaskAPIKey(t *testing.T) {
	masked := MaskAPIKey("sk-abcdefghijklmnopqrstuvwxyz")
	if masked == "sk-abcdefghijklmnopqrstuvwxyz" {
		t.Fatal("expected masking to obscure the middle of the key")
	}
	if masked[:8] != "sk-abcde" {
		t.Errorf("expected masked prefix to retain the first 8 chars, got %q", masked)
	}

	short := "short"
	if got := MaskAPIKey(short); got != short {
		t.Errorf("expected short keys returned unchanged, got %q", got)
	}
}

func TestHashAPIKey_Deterministic(t *testing.T) {
	if HashAPIKey("sk-same") != HashAPIKey("sk-same") {
		t.Error("expected HashAPIKey to be deterministic for the same input")
	}
	if HashAPIKey("sk-one") == HashAPIKey("sk-two") {
		t.Error("expected different plaintexts to hash differently")
	}
}
