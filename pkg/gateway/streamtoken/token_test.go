package streamtoken

import (
	"errors"
	"testing"
	"time"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	raw, err := s.Sign("212612345678", "212600000001", "call-1")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	claims, err := s.Verify(raw)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.To != "212612345678" || claims.From != "212600000001" || claims.ID != "call-1" {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestVerify_Rejects(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	raw, _ := s.Sign("1", "2", "c")

	other := NewSigner("other", time.Minute)
	if _, err := other.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret err=%v, want ErrInvalidToken", err)
	}

	expired := NewSigner("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.Sign("1", "2", "c")
	if _, err := s.Verify(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired err=%v, want ErrInvalidToken", err)
	}

	if _, err := s.Verify("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err=%v, want ErrInvalidToken", err)
	}
}

func TestSigner_Disabled(t *testing.T) {
	s := NewSigner("", 0)
	if s.Enabled() {
		t.Fatalf("empty secret should disable signing")
	}
	if _, err := s.Sign("1", "2", "c"); err == nil {
		t.Fatalf("Sign without secret should fail")
	}
}
