package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/chacha20poly1305"
)

// SealedPrefix marks a configuration value sealed with the master key.
const SealedPrefix = "enc:"

// KeyEnv names the environment variable holding a hex master key.
const KeyEnv = "BGLOG_MASTER_KEY"

// ErrNoKey is returned when a sealed value is found but no key is available.
var ErrNoKey = errors.New("master key not available")

// Keyring seals and opens configuration secrets.
type Keyring struct {
	key []byte
}

// NewKeyring wraps a 32-byte key.
func NewKeyring(key []byte) (*Keyring, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Keyring{key: append([]byte(nil), key...)}, nil
}

// LoadKeyring reads the master key from the environment, then from keyPath.
// When create is set and neither holds a key, a new one is generated and
// written to keyPath; the second result reports that.
func LoadKeyring(keyPath string, create bool) (*Keyring, bool, error) {
	// 1. Environment
	if envKey := os.Getenv(KeyEnv); envKey != "" {
		key, err := hex.DecodeString(strings.TrimSpace(envKey))
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", KeyEnv, err)
		}
		kr, err := NewKeyring(key)
		return kr, false, err
	}

	// 2. Key file
	if keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err == nil {
			key, err := hex.DecodeString(strings.TrimSpace(string(data)))
			if err != nil {
				return nil, false, fmt.Errorf("key file %s: %w", keyPath, err)
			}
			kr, err := NewKeyring(key)
			return kr, false, err
		}
		if !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("failed to read key file: %w", err)
		}
	}

	if !create || keyPath == "" {
		return nil, false, ErrNoKey
	}

	// 3. Generate
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, false, fmt.Errorf("failed to save master key to %s: %w", keyPath, err)
	}
	kr, err := NewKeyring(key)
	return kr, true, err
}

// Seal encrypts plaintext with XChaCha20-Poly1305 and returns it as
// "enc:<hex(nonce|ciphertext)>".
func (k *Keyring) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(k.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + hex.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (k *Keyring) Open(value string) (string, error) {
	if !IsSealed(value) {
		return "", errors.New("value is not sealed")
	}
	data, err := hex.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	aead, err := chacha20poly1305.NewX(k.key)
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Reveal returns value unchanged unless it is sealed, in which case it is
// opened with k. A nil keyring cannot open anything.
func Reveal(k *Keyring, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if k == nil {
		return "", ErrNoKey
	}
	return k.Open(value)
}

// HashPassword returns a bcrypt hash for basic-auth credentials.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a password with a hash from HashPassword.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
