// Package tokencodec encodes and decodes the encrypted capability token
// wire format: a compact five Base64URL segment serialization carrying an
// AES-256-GCM encrypted claims payload, shaped after JWE compact
// serialization but restricted to a single direct-key-agreement algorithm.
package tokencodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

const (
	alg = "dir"
	enc = "A256GCM"

	ivSize  = 12 // 96 bits
	keySize = 32 // AES-256
)

// UnlimitedUse is the sentinel value of Claims.Use meaning no usage budget.
const UnlimitedUse = -1

// Claims is the authenticated payload carried inside a token.
type Claims struct {
	JTI string `json:"jti"`
	IAT int64  `json:"iat"`
	EXP int64  `json:"exp"`
	Sub string `json:"sub"`
	Exe string `json:"exe"`
	Use int    `json:"use"`
	TID int    `json:"tid"`
	Bkd string `json:"bkd"`
	Val string `json:"val"`
	Ref string `json:"ref"`
}

type header struct {
	Alg string `json:"alg"`
	Enc string `json:"enc"`
	Kid string `json:"kid,omitempty"`
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func unb64(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

// Encrypt seals claims under key, embedding kid in the header when non-empty.
// key must be exactly 32 bytes (AES-256).
func Encrypt(key []byte, kid string, claims Claims) (string, error) {
	if len(key) != keySize {
		return "", fmt.Errorf("tokencodec: key must be %d bytes, got %d", keySize, len(key))
	}

	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("tokencodec: marshaling claims: %w", err)
	}

	hdr, err := json.Marshal(header{Alg: alg, Enc: enc, Kid: kid})
	if err != nil {
		return "", fmt.Errorf("tokencodec: marshaling header: %w", err)
	}
	hdrSegment := b64(hdr)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("tokencodec: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("tokencodec: building gcm: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("tokencodec: generating iv: %w", err)
	}

	// AAD binds the header to the ciphertext so a header swap invalidates
	// the tag, even though the header itself carries no secret material.
	sealed := gcm.Seal(nil, iv, plaintext, []byte(hdrSegment))
	ciphertext := sealed[:len(sealed)-gcm.Overhead()]
	tag := sealed[len(sealed)-gcm.Overhead():]

	return strings.Join([]string{hdrSegment, "", b64(iv), b64(ciphertext), b64(tag)}, "."), nil
}

// ExtractKid parses only the header segment of token, returning the kid if
// present. It fails MalformedToken without touching the ciphertext.
func ExtractKid(token string) (string, bool, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 5 {
		return "", false, &vaulterrors.MalformedToken{Reason: fmt.Sprintf("expected 5 segments, got %d", len(segments))}
	}

	raw, err := unb64(segments[0])
	if err != nil {
		return "", false, &vaulterrors.MalformedToken{Reason: "header is not valid base64url"}
	}

	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", false, &vaulterrors.MalformedToken{Reason: "header is not valid JSON"}
	}

	return h.Kid, h.Kid != "", nil
}

// Decrypt opens token under key, returning the validated Claims. Structural
// failures (segment count, header, alg/enc, IV, ciphertext or tag
// encoding) return MalformedToken; a wrong key length or a failed AEAD
// open returns DecryptionFailed; a successfully
// decrypted payload that doesn't match the claim shape returns
// MalformedClaims.
func Decrypt(key []byte, token string) (Claims, error) {
	if len(key) != keySize {
		return Claims{}, &vaulterrors.DecryptionFailed{Err: fmt.Errorf("key must be %d bytes", keySize)}
	}

	segments := strings.Split(token, ".")
	if len(segments) != 5 {
		return Claims{}, &vaulterrors.MalformedToken{Reason: fmt.Sprintf("expected 5 segments, got %d", len(segments))}
	}
	hdrSegment, _, ivSegment, ctSegment, tagSegment := segments[0], segments[1], segments[2], segments[3], segments[4]

	rawHdr, err := unb64(hdrSegment)
	if err != nil {
		return Claims{}, &vaulterrors.MalformedToken{Reason: "header is not valid base64url"}
	}
	var h header
	if err := json.Unmarshal(rawHdr, &h); err != nil {
		return Claims{}, &vaulterrors.MalformedToken{Reason: "header is not valid JSON"}
	}
	if h.Alg != alg || h.Enc != enc {
		return Claims{}, &vaulterrors.MalformedToken{Reason: fmt.Sprintf("unsupported alg/enc %q/%q", h.Alg, h.Enc)}
	}

	iv, err := unb64(ivSegment)
	if err != nil || len(iv) != ivSize {
		return Claims{}, &vaulterrors.MalformedToken{Reason: "iv segment invalid"}
	}
	ciphertext, err := unb64(ctSegment)
	if err != nil {
		return Claims{}, &vaulterrors.MalformedToken{Reason: "ciphertext segment invalid"}
	}
	tag, err := unb64(tagSegment)
	if err != nil {
		return Claims{}, &vaulterrors.MalformedToken{Reason: "tag segment invalid"}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Claims{}, &vaulterrors.DecryptionFailed{Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Claims{}, &vaulterrors.DecryptionFailed{Err: err}
	}

	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, []byte(hdrSegment))
	if err != nil {
		return Claims{}, &vaulterrors.DecryptionFailed{KID: h.Kid, Err: err}
	}

	var claims Claims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return Claims{}, &vaulterrors.MalformedClaims{Reason: "payload is not valid claims JSON"}
	}
	if reason, ok := validateShape(claims); !ok {
		return Claims{}, &vaulterrors.MalformedClaims{Reason: reason}
	}

	return claims, nil
}

func validateShape(c Claims) (string, bool) {
	if c.JTI == "" {
		return "jti must be non-empty", false
	}
	if c.Sub == "" {
		return "sub must be non-empty", false
	}
	if c.Exe == "" {
		return "exe must be non-empty", false
	}
	if c.Bkd == "" {
		return "bkd must be non-empty", false
	}
	if c.Val == "" {
		return "val must be non-empty", false
	}
	if c.Ref == "" {
		return "ref must be non-empty", false
	}
	if c.IAT > c.EXP {
		return "iat must be <= exp", false
	}
	if c.Use != UnlimitedUse && c.Use <= 0 {
		return "use must be positive or the unlimited sentinel", false
	}
	if c.TID != 1 && c.TID != 2 && c.TID != 3 {
		return "tid must be 1, 2, or 3", false
	}
	return "", true
}
