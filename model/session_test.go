package model

import (
	"context"
	"strings"
	"testing"
)

func TestTitleFromContent_TruncatesAt50Runes(t *testing.T) {
	short := "hello world"
	if got := TitleFromContent(short); got != short {
		t.Errorf("expected short content unchanged, got %q", got)
	}

	long := strings.Repeat("a", 80)
	got := TitleFromContent(long)
	if len([]rune(got)) != 50 {
		t.Errorf("expected title truncated to 50 runes, got %d", len([]rune(got)))
	}

	// Multi-byte runes must be counted as runes, not bytes.
	multibyte := strings.Repeat("日", 60)
	got = TitleFromContent(multibyte)
	if len([]rune(got)) != 50 {
		t.Errorf("expected 50-rune title for multibyte content, got %d runes", len([]rune(got)))
	}
}

func TestUserIDContext_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetUserIDFromContext(ctx); ok {
		t.Fatal("expected no user_id in a bare context")
	}

	ctx = WithUserID(ctx, "user-42")
	got, ok := GetUserIDFromContext(ctx)
	if !ok || got != "user-42" {
		t.Errorf("expected user-42, got %q (ok=%v)", got, ok)
	}
}
