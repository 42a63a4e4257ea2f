// Package securefile provides sealed envelopes and JSON files with atomic writes.
// Uses Argon2id for KDF and XChaCha20-Poly1305 for AEAD.
package securefile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidPasswordOrCorrupt is returned when decryption fails.
	// Keep this generic to avoid leaking details.
	ErrInvalidPasswordOrCorrupt = errors.New("invalid password or corrupted data")
)

const (
	ModePassword = "password"
	ModeKey      = "key"
)

// Envelope is the serialized form of an AEAD-sealed payload. In password mode
// the key is derived with Argon2id; in key mode the caller supplies a 32-byte
// data encryption key.
type Envelope struct {
	Version int    `json:"version"`
	Mode    string `json:"mode"`

	// Argon2id params (password mode)
	ArgonTime    uint32 `json:"argon_time,omitempty"`
	ArgonMemory  uint32 `json:"argon_memory_kib,omitempty"`
	ArgonThreads uint8  `json:"argon_threads,omitempty"`
	ArgonKeyLen  uint32 `json:"argon_key_len,omitempty"`
	SaltB64      string `json:"salt_b64,omitempty"`

	NonceB64 string `json:"nonce_b64"`
	CTB64    string `json:"ct_b64"`
}

// KDFParams are the Argon2id settings used in password mode.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultKDF are reasonable defaults for an interactive unlock.
var DefaultKDF = KDFParams{
	Time:    2,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
}

// SealWithKey encrypts plain under a 32-byte key.
func SealWithKey(key, plain, aad []byte) (Envelope, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("aead: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("rand nonce: %w", err)
	}

	ct := aead.Seal(nil, nonce, plain, aad)
	return Envelope{
		Version:  1,
		Mode:     ModeKey,
		NonceB64: base64.StdEncoding.EncodeToString(nonce),
		CTB64:    base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// OpenWithKey reverses SealWithKey.
func OpenWithKey(env Envelope, key, aad []byte) ([]byte, error) {
	if env.Version != 1 || env.Mode != ModeKey {
		return nil, fmt.Errorf("unsupported envelope %d/%q", env.Version, env.Mode)
	}
	nonce, ct, err := env.decode()
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrInvalidPasswordOrCorrupt
	}
	return plain, nil
}

// SealWithPassword derives a key from password with Argon2id and encrypts plain.
func SealWithPassword(password, plain, aad []byte, kdf KDFParams) (Envelope, error) {
	if len(password) == 0 {
		return Envelope{}, errors.New("securefile: empty password")
	}
	if isAllZero(password) {
		return Envelope{}, errors.New("securefile: zeroed password buffer")
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return Envelope{}, fmt.Errorf("rand salt: %w", err)
	}

	key := argon2.IDKey(password, salt, kdf.Time, kdf.Memory, kdf.Threads, kdf.KeyLen)
	defer ZeroBytes(key)

	env, err := SealWithKey(key, plain, aad)
	if err != nil {
		return Envelope{}, err
	}
	env.Mode = ModePassword
	env.ArgonTime = kdf.Time
	env.ArgonMemory = kdf.Memory
	env.ArgonThreads = kdf.Threads
	env.ArgonKeyLen = kdf.KeyLen
	env.SaltB64 = base64.StdEncoding.EncodeToString(salt)
	return env, nil
}

// OpenWithPassword reverses SealWithPassword.
func OpenWithPassword(env Envelope, password, aad []byte) ([]byte, error) {
	if env.Version != 1 || env.Mode != ModePassword {
		return nil, fmt.Errorf("unsupported envelope %d/%q", env.Version, env.Mode)
	}
	if len(password) == 0 {
		return nil, errors.New("securefile: empty password")
	}

	salt, err := base64.StdEncoding.DecodeString(env.SaltB64)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}

	key := argon2.IDKey(password, salt, env.ArgonTime, env.ArgonMemory, env.ArgonThreads, env.ArgonKeyLen)
	defer ZeroBytes(key)

	keyEnv := env
	keyEnv.Mode = ModeKey
	return OpenWithKey(keyEnv, key, aad)
}

func (e Envelope) decode() (nonce, ct []byte, err error) {
	nonce, err = base64.StdEncoding.DecodeString(e.NonceB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err = base64.StdEncoding.DecodeString(e.CTB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	return nonce, ct, nil
}

// WriteJSON marshals v as pretty JSON and writes it atomically.
func WriteJSON[T any](path string, v T, permFile, permDir os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), permDir); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return AtomicWriteFile(path, b, permFile)
}

// ReadJSON reads path into T. A missing file is reported with os.ErrNotExist.
func ReadJSON[T any](path string) (T, error) {
	var zero T
	b, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("read file: %w", err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return out, nil
}

func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"

	// Best effort cleanup if something already exists.
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// EnvFolder maps GMGN_ENV to a config subfolder. Empty means production.
func EnvFolder() (string, error) {
	raw := strings.TrimSpace(os.Getenv("GMGN_ENV"))
	if raw == "" {
		return "", nil
	}
	switch strings.ToLower(raw) {
	case "local":
		return "local", nil
	case "dev", "develop", "development":
		return "develop", nil
	case "prod", "production":
		return "", nil
	default:
		return "", fmt.Errorf("invalid GMGN_ENV %q (allowed: local, develop, empty)", raw)
	}
}
