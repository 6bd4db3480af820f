package sites

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/yattee/server/internal/models"
)

const (
	keySize   = 32
	nonceSize = 24
	keyFile   = ".credentials_key"
)

// ErrDecrypt is returned when a credential cannot be opened with the active key.
var ErrDecrypt = errors.New("credential decryption failed")

// Cipher seals credential values at rest with NaCl secretbox. Sealed values
// are base64(nonce || box).
type Cipher struct {
	key [keySize]byte
}

// NewCipher builds a cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("credentials key must be %d bytes, got %d", keySize, len(key))
	}
	c := &Cipher{}
	copy(c.key[:], key)
	return c, nil
}

// LoadCipher uses the base64 key from encodedKey when set, otherwise reads or
// generates <dataDir>/.credentials_key with owner-only permissions.
func LoadCipher(encodedKey, dataDir string) (*Cipher, error) {
	if encodedKey = strings.TrimSpace(encodedKey); encodedKey != "" {
		key, err := base64.StdEncoding.DecodeString(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("decode credentials key: %w", err)
		}
		return NewCipher(key)
	}

	path := filepath.Join(dataDir, keyFile)
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return NewCipher(key)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate credentials key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return NewCipher(key)
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// ShouldEncrypt reports whether values of credential type t are sealed at rest.
func ShouldEncrypt(t models.CredentialType) bool {
	switch t {
	case models.CredentialPassword,
		models.CredentialVideoPassword,
		models.CredentialCookiesFile,
		models.CredentialAPPassword,
		models.CredentialLogin:
		return true
	}
	return false
}
