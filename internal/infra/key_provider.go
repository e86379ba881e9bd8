package infra

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

const (
	keyFileName = ".store.key"
	keySize     = 32 // 256-bit SQLCipher key

	// EnvStoreKey holds a hex-encoded store key that overrides the key file.
	EnvStoreKey = "SITEGATE_STORE_KEY"
)

// FileKeyProvider implements domain.KeyProvider using a local file.
// The key lives next to the store in a hidden file with 0600 permissions.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, keyFileName),
	}
}

// GetKey reads the encryption key from the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// StoreKey writes the encryption key to the key file with restricted permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(p.keyPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider implements domain.KeyProvider from a hex-encoded value,
// typically SITEGATE_STORE_KEY. It is read-only.
type EnvKeyProvider struct {
	value string
}

// NewEnvKeyProvider returns a provider for the hex key in value.
func NewEnvKeyProvider(value string) *EnvKeyProvider {
	return &EnvKeyProvider{value: strings.TrimSpace(value)}
}

// GetKey decodes the hex key.
func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	key, err := hex.DecodeString(p.value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", EnvStoreKey, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// StoreKey is not supported for environment keys.
func (p *EnvKeyProvider) StoreKey(key []byte) error {
	return fmt.Errorf("%s is read-only", EnvStoreKey)
}

// KeyExists reports whether a value was provided.
func (p *EnvKeyProvider) KeyExists() bool {
	return p.value != ""
}

// KeyProviderFor picks the environment key when set, the key file otherwise.
func KeyProviderFor(dataDir string) domain.KeyProvider {
	if v := os.Getenv(EnvStoreKey); v != "" {
		return NewEnvKeyProvider(v)
	}
	return NewFileKeyProvider(dataDir)
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey generates and stores a key if one doesn't exist.
// Returns the key (existing or newly generated).
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure both providers implement domain.KeyProvider.
var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
