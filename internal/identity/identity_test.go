package identity

import (
	"testing"

	"github.com/formrelay/formrelay/internal/domain"
)

func newKeyring(t *testing.T) *Keyring {
	t.Helper()
	k, err := NewKeyring("nonce", "secret", "salt")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return k
}

func TestHash_DeterministicAndDistinct(t *testing.T) {
	k := newKeyring(t)
	a := k.Hash("bob@example.com", "example.com")
	if a != k.Hash("bob@example.com", "example.com") {
		t.Fatalf("hash not deterministic")
	}
	if len(a) != 32 {
		t.Fatalf("hash length = %d", len(a))
	}
	if a == k.Hash("bob@example.com", "example.org") {
		t.Fatalf("hash must depend on host")
	}
	// The separator keeps ("ab","c") and ("a","bc") apart.
	if k.KeyedHash("ab", "c") == k.KeyedHash("a", "bc") {
		t.Fatalf("keyed hash is ambiguous")
	}

	other, _ := NewKeyring("other", "secret", "salt")
	if a == other.Hash("bob@example.com", "example.com") {
		t.Fatalf("hash must depend on the secret")
	}
}

func TestHashIDs_RoundTrip(t *testing.T) {
	k := newKeyring(t)
	for _, id := range []uint{1, 2, 45, 100000} {
		s := k.EncodeID(id)
		if len(s) < 8 {
			t.Fatalf("hash-id %q shorter than 8", s)
		}
		got, err := k.DecodeID(s)
		if err != nil || got != id {
			t.Fatalf("decode(%q) = %d, %v; want %d", s, got, err, id)
		}
	}
	if _, err := k.DecodeID("not-a-valid-id!"); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := k.DecodeID(""); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID for empty, got %v", err)
	}
}

func TestDigest(t *testing.T) {
	k := newKeyring(t)
	d := k.Digest(7)
	if !k.VerifyDigest(7, d) {
		t.Fatalf("digest should verify")
	}
	if k.VerifyDigest(8, d) {
		t.Fatalf("digest must be bound to the id")
	}
	if k.VerifyDigest(7, d[:10]) {
		t.Fatalf("truncated digest must not verify")
	}
}

func TestConfirmationToken(t *testing.T) {
	k := newKeyring(t)

	h := k.Hash("bob@example.com", "example.com")
	spont := &domain.Form{ID: 3, Hash: &h, Email: "bob@example.com"}
	tok := k.ConfirmationToken(spont)
	if tok != h {
		t.Fatalf("spontaneous token = %q, want hash", tok)
	}
	ref, err := k.ParseConfirmationToken(tok)
	if err != nil || ref.Hash != h || !k.VerifyConfirmation(spont, ref) {
		t.Fatalf("parse spontaneous: %+v %v", ref, err)
	}

	dash := &domain.Form{ID: 12, Email: "owner@example.com"}
	tok = k.ConfirmationToken(dash)
	ref, err = k.ParseConfirmationToken(tok)
	if err != nil || ref.ID != 12 {
		t.Fatalf("parse dashboard: %+v %v", ref, err)
	}
	if !k.VerifyConfirmation(dash, ref) {
		t.Fatalf("dashboard token should verify")
	}
	forged := &domain.Form{ID: 12, Email: "attacker@example.com"}
	if k.VerifyConfirmation(forged, ref) {
		t.Fatalf("token must be bound to the email")
	}

	if _, err := k.ParseConfirmationToken("abc:!!"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIsValidEmail(t *testing.T) {
	good := []string{"bob@example.com", "a.b+c@sub.example.co.uk"}
	bad := []string{"", "bob", "bob@", "@example.com", "abcdefgh", "bob@example.com/x", "bob smith@example.com"}
	for _, s := range good {
		if !IsValidEmail(s) {
			t.Fatalf("%q should be valid", s)
		}
	}
	for _, s := range bad {
		if IsValidEmail(s) {
			t.Fatalf("%q should be invalid", s)
		}
	}
}
