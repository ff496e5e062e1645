package security

import "testing"

func TestHashRefreshToken(t *testing.T) {
	h1 := HashRefreshToken("token-a")
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(h1))
	}
	if h1 != HashRefreshToken("token-a") {
		t.Error("hash should be deterministic")
	}
	if h1 == HashRefreshToken("token-b") {
		t.Error("different tokens should hash differently")
	}
	// sha256("") is well known.
	if got := HashRefreshToken(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("HashRefreshToken(\"\") = %s", got)
	}
}

func TestHashEqual(t *testing.T) {
	stored := HashRefreshToken("token-a")
	if !HashEqual(HashRefreshToken("token-a"), stored) {
		t.Error("matching hash should compare equal")
	}
	if HashEqual(HashRefreshToken("token-b"), stored) {
		t.Error("different hash should not compare equal")
	}
	if HashEqual(stored[:10], stored) {
		t.Error("truncated hash should not compare equal")
	}
	if HashEqual("", stored) {
		t.Error("empty hash should not compare equal")
	}
}
