// Package encryptedfile implements a Backend whose secrets are persisted
// to a single JSON file on disk, itself encrypted at rest with a key
// derived from a passphrase via scrypt.
package encryptedfile

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

const (
	filePerm os.FileMode = 0o600
	dirPerm  os.FileMode = 0o700

	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltSize     = 16
	ivSize       = 12
)

// Backend stores secrets in an AES-256-GCM encrypted JSON blob at path.
// The encryption key is derived from passphrase via scrypt, with a random
// salt stored alongside the ciphertext in each rewrite.
type Backend struct {
	mu         sync.Mutex
	path       string
	passphrase string
}

type envelope struct {
	Salt       []byte `json:"salt"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
}

// New returns a Backend persisting to path, encrypted under passphrase.
func New(path, passphrase string) *Backend {
	return &Backend{path: path, passphrase: passphrase}
}

// Factory builds a Backend from options {"path": string, "passphrase": string}.
func Factory(options map[string]any) (backend.Backend, error) {
	path, _ := options["path"].(string)
	passphrase, _ := options["passphrase"].(string)
	if path == "" || passphrase == "" {
		return nil, &vaulterrors.Setup{Dependency: "encryptedfile", Err: fmt.Errorf("options must include non-empty path and passphrase")}
	}
	return New(path, passphrase), nil
}

func (b *Backend) Type() string        { return "encryptedfile" }
func (b *Backend) DisplayName() string { return "Encrypted File" }

// IsAvailable reports whether the parent directory of path can be
// created; it does not require the file to already exist.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	return os.MkdirAll(filepath.Dir(b.path), dirPerm) == nil
}

func (b *Backend) Store(ctx context.Context, id, secret string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	secrets, err := b.load()
	if err != nil {
		return err
	}
	secrets[id] = secret
	return b.save(secrets)
}

func (b *Backend) Retrieve(ctx context.Context, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	secrets, err := b.load()
	if err != nil {
		return "", err
	}
	v, ok := secrets[id]
	if !ok {
		return "", &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	return v, nil
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	secrets, err := b.load()
	if err != nil {
		return err
	}
	if _, ok := secrets[id]; !ok {
		return &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	delete(secrets, id)
	return b.save(secrets)
}

func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	secrets, err := b.load()
	if err != nil {
		return false, err
	}
	_, ok := secrets[id]
	return ok, nil
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	secrets, err := b.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	return ids, nil
}

// load reads and decrypts the backing file. A missing file is treated as
// an empty secret set.
func (b *Backend) load() (map[string]string, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, &vaulterrors.Filesystem{Path: b.path, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &vaulterrors.Filesystem{Path: b.path, RequiredPerm: "valid envelope JSON", Err: err}
	}

	key, err := scrypt.Key([]byte(b.passphrase), env.Salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("encryptedfile: deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryptedfile: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryptedfile: building gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("encryptedfile: wrong passphrase or corrupted file: %w", err)
	}

	secrets := make(map[string]string)
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("encryptedfile: decrypted payload is not valid JSON: %w", err)
	}
	return secrets, nil
}

// save encrypts secrets under a fresh salt and IV and writes the
// encrypted envelope to path via write-to-temp + rename.
func (b *Backend) save(secrets map[string]string) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &vaulterrors.Filesystem{Path: dir, RequiredPerm: fmt.Sprintf("%#o", dirPerm), Err: err}
	}

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("encryptedfile: marshaling secrets: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("encryptedfile: generating salt: %w", err)
	}
	key, err := scrypt.Key([]byte(b.passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("encryptedfile: deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("encryptedfile: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("encryptedfile: building gcm: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("encryptedfile: generating iv: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, plaintext, nil)
	raw, err := json.Marshal(envelope{Salt: salt, IV: iv, Ciphertext: ciphertext})
	if err != nil {
		return fmt.Errorf("encryptedfile: marshaling envelope: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".encryptedfile-*.tmp")
	if err != nil {
		return &vaulterrors.Filesystem{Path: dir, RequiredPerm: fmt.Sprintf("%#o", dirPerm), Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return &vaulterrors.Filesystem{Path: tmpPath, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &vaulterrors.Filesystem{Path: tmpPath, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return &vaulterrors.Filesystem{Path: tmpPath, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return &vaulterrors.Filesystem{Path: b.path, RequiredPerm: fmt.Sprintf("%#o", filePerm), Err: err}
	}
	return nil
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Listable = (*Backend)(nil)
