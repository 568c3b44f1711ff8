package session

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	signingKeyFile = "session.key"
	signingKeyBits = 2048
)

// KeyManager persists the session signing key in a directory. The key is
// created on first start and reloaded afterwards, so tokens survive restarts.
type KeyManager struct {
	dir string
	key *rsa.PrivateKey
}

// NewKeyManager returns a KeyManager storing its key in dir.
func NewKeyManager(dir string) *KeyManager {
	return &KeyManager{dir: dir}
}

// LoadOrCreate loads the key from disk if it exists; creates a new one otherwise.
func (m *KeyManager) LoadOrCreate() error {
	if err := m.Load(); err == nil {
		return nil
	}
	return m.Create()
}

// Load reads an existing key.
func (m *KeyManager) Load() error {
	keyPEM, err := os.ReadFile(filepath.Join(m.dir, signingKeyFile))
	if err != nil {
		return fmt.Errorf("read signing key: %w", err)
	}
	key, err := decodeKey(keyPEM)
	if err != nil {
		return err
	}
	m.key = key
	return nil
}

// Create generates and saves a new key.
func (m *KeyManager) Create() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create key dir %q: %w", m.dir, err)
	}
	key, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(m.dir, signingKeyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}
	m.key = key
	return nil
}

// Key returns the loaded private key.
func (m *KeyManager) Key() *rsa.PrivateKey { return m.key }

// PublicKeyPEM returns the public half, PEM-encoded, for offline token checks.
func (m *KeyManager) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&m.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func decodeKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
