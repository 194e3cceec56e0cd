package delegated

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

func rsaKeyPair(t *testing.T) (privPEM, pubPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return
}

func ecdsaKeyPair(t *testing.T) (privPEM, pubPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa.GenerateKey: %v", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return
}

func ed25519KeyPair(t *testing.T) (privPEM, pubPEM []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return
}

func TestSignVerifyRoundtripRSA(t *testing.T) {
	priv, pub := rsaKeyPair(t)
	data := []byte("bytes to sign")

	res, err := Sign(priv, SignRequest{Data: data})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if res.Algorithm != "sha256" {
		t.Fatalf("expected default sha256, got %s", res.Algorithm)
	}

	ok, err := Verify(pub, VerifyRequest{Data: data, Signature: res.Signature})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestSignVerifyRoundtripECDSA(t *testing.T) {
	priv, pub := ecdsaKeyPair(t)
	data := []byte("bytes to sign")

	res, err := Sign(priv, SignRequest{Data: data, Algorithm: "SHA384"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if res.Algorithm != "sha384" {
		t.Fatalf("expected normalized sha384, got %s", res.Algorithm)
	}

	ok, err := Verify(pub, VerifyRequest{Data: data, Signature: res.Signature, Algorithm: "sha384"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestSignVerifyRoundtripEd25519IgnoresOverride(t *testing.T) {
	priv, pub := ed25519KeyPair(t)
	data := []byte("bytes to sign")

	res, err := Sign(priv, SignRequest{Data: data, Algorithm: "md5"})
	if err != nil {
		t.Fatalf("expected ed25519 to ignore bad override, got error: %v", err)
	}
	if res.Algorithm != "ed25519" {
		t.Fatalf("expected label ed25519, got %s", res.Algorithm)
	}

	ok, err := Verify(pub, VerifyRequest{Data: data, Signature: res.Signature})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestSignRejectsDisallowedAlgorithm(t *testing.T) {
	priv, _ := rsaKeyPair(t)
	_, err := Sign(priv, SignRequest{Data: []byte("x"), Algorithm: "md5"})
	if _, ok := err.(*vaulterrors.InvalidAlgorithm); !ok {
		t.Fatalf("expected *vaulterrors.InvalidAlgorithm, got %T", err)
	}
}

func TestVerifyThrowsOnDisallowedAlgorithm(t *testing.T) {
	_, pub := rsaKeyPair(t)
	_, err := Verify(pub, VerifyRequest{Data: []byte("x"), Signature: "AAAA", Algorithm: "sha1"})
	if _, ok := err.(*vaulterrors.InvalidAlgorithm); !ok {
		t.Fatalf("expected *vaulterrors.InvalidAlgorithm, got %T", err)
	}
}

func TestVerifyRejectsPrivateKeyPassedAsPublic(t *testing.T) {
	priv, _ := rsaKeyPair(t)
	ok, err := Verify(priv, VerifyRequest{Data: []byte("x"), Signature: "AAAA"})
	if err != nil {
		t.Fatalf("expected false, not error, got %v", err)
	}
	if ok {
		t.Fatalf("expected verify to reject a private key passed as public")
	}
}

func TestVerifyRejectsInvalidPEM(t *testing.T) {
	ok, err := Verify([]byte("not pem"), VerifyRequest{Data: []byte("x"), Signature: "AAAA"})
	if err != nil {
		t.Fatalf("expected false, not error, got %v", err)
	}
	if ok {
		t.Fatalf("expected verify to reject invalid PEM")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	_, pub := rsaKeyPair(t)
	ok, err := Verify(pub, VerifyRequest{Data: []byte("x"), Signature: "not-base64!!"})
	if err != nil {
		t.Fatalf("expected false, not error, got %v", err)
	}
	if ok {
		t.Fatalf("expected verify to reject malformed signature")
	}
}
