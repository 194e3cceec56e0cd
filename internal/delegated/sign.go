package delegated

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

var allowedHashAlgorithms = []string{"sha256", "sha384", "sha512"}

// SignRequest carries the data to sign and an optional hash-algorithm
// override (one of sha256/sha384/sha512, case-insensitive). Ed25519 keys
// ignore the override.
type SignRequest struct {
	Data      []byte
	Algorithm string
}

// SignResult is the base64-encoded signature and the algorithm label
// actually used.
type SignResult struct {
	Signature string
	Algorithm string
}

// Sign parses privateKeyPEM and signs req.Data with it. Supported key
// types are RSA, ECDSA, and Ed25519; Ed448 keys are not supported and
// fail to parse. Ed25519 keys ignore req.Algorithm entirely and report
// their key type as the label. RSA and ECDSA keys default to SHA-256; a
// requested override
// outside {sha256, sha384, sha512} fails InvalidAlgorithm rather than
// silently falling back.
func Sign(privateKeyPEM []byte, req SignRequest) (SignResult, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return SignResult{}, fmt.Errorf("delegated: %w", err)
	}

	if edKey, ok := key.(ed25519.PrivateKey); ok {
		sig := ed25519.Sign(edKey, req.Data)
		return SignResult{Signature: base64.StdEncoding.EncodeToString(sig), Algorithm: "ed25519"}, nil
	}

	hashName := strings.ToLower(req.Algorithm)
	if hashName == "" {
		hashName = "sha256"
	}
	if !isAllowedHash(hashName) {
		return SignResult{}, &vaulterrors.InvalidAlgorithm{Requested: req.Algorithm, Allowed: allowedHashAlgorithms}
	}

	hashed, hashFunc := hashWith(hashName, req.Data)

	switch k := key.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, k, hashFunc, hashed)
		if err != nil {
			return SignResult{}, fmt.Errorf("delegated: signing with rsa key: %w", err)
		}
		return SignResult{Signature: base64.StdEncoding.EncodeToString(sig), Algorithm: hashName}, nil
	case *ecdsa.PrivateKey:
		sig, err := ecdsa.SignASN1(rand.Reader, k, hashed)
		if err != nil {
			return SignResult{}, fmt.Errorf("delegated: signing with ecdsa key: %w", err)
		}
		return SignResult{Signature: base64.StdEncoding.EncodeToString(sig), Algorithm: hashName}, nil
	default:
		return SignResult{}, fmt.Errorf("delegated: unsupported private key type %T", key)
	}
}

func isAllowedHash(name string) bool {
	for _, a := range allowedHashAlgorithms {
		if a == name {
			return true
		}
	}
	return false
}

func hashWith(name string, data []byte) ([]byte, crypto.Hash) {
	switch name {
	case "sha384":
		sum := sha512.Sum384(data)
		return sum[:], crypto.SHA384
	case "sha512":
		sum := sha512.Sum512(data)
		return sum[:], crypto.SHA512
	default:
		sum := sha256.Sum256(data)
		return sum[:], crypto.SHA256
	}
}
