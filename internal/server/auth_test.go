package server

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)

	token, err := tm.Issue("maria")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	agent, err := tm.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if agent != "maria" {
		t.Errorf("subject = %q, want maria", agent)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	tm := NewTokenManager("secret", -time.Minute)

	token, err := tm.Issue("maria")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.Verify(token); err == nil {
		t.Fatal("Verify() error = nil, want expiry rejection")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := NewTokenManager("secret-a", time.Hour).Issue("maria")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenManager("secret-b", time.Hour).Verify(token); err == nil {
		t.Fatal("Verify() error = nil, want signature rejection")
	}
}
