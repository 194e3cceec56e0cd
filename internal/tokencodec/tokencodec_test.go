package tokencodec

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func sampleClaims() Claims {
	return Claims{
		JTI: "jti-1",
		IAT: 1000,
		EXP: 2000,
		Sub: "api-key",
		Exe: "dev",
		Use: 1,
		TID: 3,
		Bkd: "memory",
		Val: "sk-live-abc",
		Ref: "api-key",
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := randomKey(t)
	claims := sampleClaims()

	token, err := Encrypt(key, "k-1", claims)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(key, token)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != claims {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, claims)
	}
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	key := randomKey(t)
	other := randomKey(t)

	token, err := Encrypt(key, "k-1", sampleClaims())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(other, token); err == nil {
		t.Fatalf("expected decryption to fail with wrong key")
	} else if _, ok := err.(*vaulterrors.DecryptionFailed); !ok {
		t.Fatalf("expected *vaulterrors.DecryptionFailed, got %T", err)
	}
}

func TestTamperedCiphertextFailsDecryption(t *testing.T) {
	key := randomKey(t)
	token, err := Encrypt(key, "k-1", sampleClaims())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	segments := strings.Split(token, ".")
	segments[3] = flipFirstChar(segments[3])
	tampered := strings.Join(segments, ".")

	if _, err := Decrypt(key, tampered); err == nil {
		t.Fatalf("expected tampered ciphertext to fail decryption")
	}
}

func TestTamperedTagFailsDecryption(t *testing.T) {
	key := randomKey(t)
	token, err := Encrypt(key, "k-1", sampleClaims())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	segments := strings.Split(token, ".")
	segments[4] = flipFirstChar(segments[4])
	tampered := strings.Join(segments, ".")

	if _, err := Decrypt(key, tampered); err == nil {
		t.Fatalf("expected tampered tag to fail decryption")
	}
}

func flipFirstChar(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}

func TestExtractKidWithoutDecrypting(t *testing.T) {
	key := randomKey(t)
	token, err := Encrypt(key, "k-42", sampleClaims())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	kid, ok, err := ExtractKid(token)
	if err != nil {
		t.Fatalf("ExtractKid: %v", err)
	}
	if !ok || kid != "k-42" {
		t.Fatalf("expected kid k-42, got %q ok=%v", kid, ok)
	}
}

func TestExtractKidAbsentWhenOmitted(t *testing.T) {
	key := randomKey(t)
	token, err := Encrypt(key, "", sampleClaims())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	_, ok, err := ExtractKid(token)
	if err != nil {
		t.Fatalf("ExtractKid: %v", err)
	}
	if ok {
		t.Fatalf("expected no kid present")
	}
}

func TestExtractKidWrongSegmentCount(t *testing.T) {
	if _, _, err := ExtractKid("only.two"); err == nil {
		t.Fatalf("expected MalformedToken for wrong segment count")
	} else if _, ok := err.(*vaulterrors.MalformedToken); !ok {
		t.Fatalf("expected *vaulterrors.MalformedToken, got %T", err)
	}
}

func TestExtractKidNonJSONHeader(t *testing.T) {
	if _, _, err := ExtractKid("bm90anNvbg.. . ."); err == nil {
		t.Fatalf("expected error for malformed header")
	}
}

func TestDecryptRejectsWrongKeyLength(t *testing.T) {
	if _, err := Decrypt([]byte("too-short"), "a.b.c.d.e"); err == nil {
		t.Fatalf("expected error for wrong key length")
	} else if _, ok := err.(*vaulterrors.DecryptionFailed); !ok {
		t.Fatalf("expected *vaulterrors.DecryptionFailed, got %T", err)
	}
}

func TestEncryptRejectsWrongKeyLength(t *testing.T) {
	if _, err := Encrypt([]byte("too-short"), "k-1", sampleClaims()); err == nil {
		t.Fatalf("expected error for wrong key length")
	}
}
