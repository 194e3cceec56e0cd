package delegated

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"strings"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// VerifyRequest is a static (token-free) signature check.
type VerifyRequest struct {
	Data      []byte
	Signature string
	Algorithm string
}

// Verify checks req.Signature against req.Data using publicKeyPEM. It
// returns false (never an error) for any structural problem — invalid
// PEM, a PEM that is actually a private key, a malformed signature — with
// one exception: an algorithm override outside the sha256/sha384/sha512
// allowlist fails InvalidAlgorithm rather than returning false, since
// that represents a caller programming error, not an untrusted-input
// rejection.
func Verify(publicKeyPEM []byte, req VerifyRequest) (bool, error) {
	if strings.Contains(string(publicKeyPEM), "PRIVATE KEY") {
		return false, nil
	}

	key, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return false, nil
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return false, nil
	}

	if edKey, ok := key.(ed25519.PublicKey); ok {
		return ed25519.Verify(edKey, req.Data, sig), nil
	}

	hashName := strings.ToLower(req.Algorithm)
	if hashName == "" {
		hashName = "sha256"
	}
	if !isAllowedHash(hashName) {
		return false, &vaulterrors.InvalidAlgorithm{Requested: req.Algorithm, Allowed: allowedHashAlgorithms}
	}
	hashed, hashFunc := hashWith(hashName, req.Data)

	switch k := key.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, hashFunc, hashed, sig) == nil, nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, hashed, sig), nil
	default:
		return false, nil
	}
}
