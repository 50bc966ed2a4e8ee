package security

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewTokenAuthority("s3cr3t")

	tok, err := auth.Mint("client-dn", "/pool/a/f", ModeRead, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if out := auth.Verify(tok, "client-dn", "/pool/a/f", ModeRead); out != OutcomeOK {
		t.Fatalf("verify fresh token: got %s, want OK", out)
	}

	time.Sleep(80 * time.Millisecond)
	if out := auth.Verify(tok, "client-dn", "/pool/a/f", ModeRead); out != OutcomeExpired {
		t.Fatalf("verify expired token: got %s, want Expired", out)
	}
}

func TestTokenWrongMode(t *testing.T) {
	auth := NewTokenAuthority("s3cr3t")
	tok, _ := auth.Mint("client-dn", "/pool/a/f", ModeRead, time.Minute)
	if out := auth.Verify(tok, "client-dn", "/pool/a/f", ModeWrite); out != OutcomeWrongMode {
		t.Fatalf("got %s, want WrongMode", out)
	}
}

func TestTokenMalformed(t *testing.T) {
	auth := NewTokenAuthority("s3cr3t")
	if out := auth.Verify("not-a-token", "client-dn", "/pool/a/f", ModeRead); out != OutcomeMalformed {
		t.Fatalf("got %s, want Malformed", out)
	}
}

func TestTokenWrongSecretIsInvalid(t *testing.T) {
	auth := NewTokenAuthority("s3cr3t")
	other := NewTokenAuthority("different")
	tok, _ := auth.Mint("client-dn", "/pool/a/f", ModeRead, time.Minute)
	if out := other.Verify(tok, "client-dn", "/pool/a/f", ModeRead); out == OutcomeOK {
		t.Fatal("token signed under a different secret must not verify OK")
	}
}
