package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueVerifyRoundTrip(t *testing.T) {
	service := New(testSecret, time.Hour)

	token, err := service.Issue("alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	username, err := service.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if username != "alice" {
		t.Fatalf("expected username alice, got %q", username)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	service := New(testSecret, time.Hour)

	token, err := service.Issue("alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected three JWT segments, got %d", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	if _, err := service.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	service := New(testSecret, -time.Minute)

	token, err := service.Issue("alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := service.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsTokenFromOtherSecret(t *testing.T) {
	other := New("another-secret-that-is-32-chars!", time.Hour)
	token, err := other.Issue("alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	service := New(testSecret, time.Hour)
	if _, err := service.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign token, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	service := New(testSecret, time.Hour)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := service.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", raw, err)
		}
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if !CheckPassword(hash, "correct horse battery staple") {
		t.Fatalf("expected matching password to verify")
	}
	if CheckPassword(hash, "wrong password") {
		t.Fatalf("did not expect wrong password to verify")
	}
}
