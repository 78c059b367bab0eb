// Package keystore owns the service's long-lived key material: the ed25519
// keypair that signs chain entries and consent tokens, and the versioned
// AES-256 keys used by the vault. Keys persist to disk so a process restart
// never silently rotates them; rotation is an explicit operator action.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/hkdf"

	"vface/internal/vault"
)

const (
	fileVersion = 1

	// Encryption keys derive from one master seed so the persisted file stays
	// small and old versions remain recoverable after rotation.
	hkdfInfoPrefix = "vface/encryption/v"
)

// Env override contract carried over from the original matching service:
// a hex key for an exact version wins over the unversioned fallback.
const (
	envKeyVersioned = "VFACE_ENCRYPTION_KEY_V%d"
	envKeyDefault   = "VFACE_ENCRYPTION_KEY"
)

var ErrNotFound = errors.New("keystore: file not found")

// Store holds the loaded key material. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	path       string
	signingKey ed25519.PrivateKey
	encSeed    []byte
	encVersion int
}

type fileFormat struct {
	Version              int    `json:"version"`
	SigningSeed          string `json:"signing_seed"`
	EncryptionSeed       string `json:"encryption_seed"`
	EncryptionKeyVersion int    `json:"encryption_key_version"`
}

// Generate creates fresh key material and persists it to path.
func Generate(path string) (*Store, error) {
	signingSeed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(signingSeed); err != nil {
		return nil, fmt.Errorf("keystore: generate signing seed: %w", err)
	}
	encSeed := make([]byte, 32)
	if _, err := rand.Read(encSeed); err != nil {
		return nil, fmt.Errorf("keystore: generate encryption seed: %w", err)
	}

	s := &Store{
		path:       path,
		signingKey: ed25519.NewKeyFromSeed(signingSeed),
		encSeed:    encSeed,
		encVersion: 1,
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads an existing keystore file. Returns ErrNotFound when absent.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", path, err)
	}
	if ff.Version != fileVersion {
		return nil, fmt.Errorf("keystore: unsupported file version %d", ff.Version)
	}

	signingSeed, err := hex.DecodeString(ff.SigningSeed)
	if err != nil || len(signingSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keystore: invalid signing seed in %s", path)
	}
	encSeed, err := hex.DecodeString(ff.EncryptionSeed)
	if err != nil || len(encSeed) == 0 {
		return nil, fmt.Errorf("keystore: invalid encryption seed in %s", path)
	}
	if ff.EncryptionKeyVersion < 1 {
		return nil, fmt.Errorf("keystore: invalid encryption key version %d", ff.EncryptionKeyVersion)
	}

	return &Store{
		path:       path,
		signingKey: ed25519.NewKeyFromSeed(signingSeed),
		encSeed:    encSeed,
		encVersion: ff.EncryptionKeyVersion,
	}, nil
}

// LoadOrGenerate loads the keystore at path, generating one only when no file
// exists yet (first boot).
func LoadOrGenerate(path string) (*Store, error) {
	s, err := Load(path)
	if errors.Is(err, ErrNotFound) {
		return Generate(path)
	}
	return s, err
}

// SigningKey returns the ed25519 private key for chain and token signatures.
func (s *Store) SigningKey() ed25519.PrivateKey {
	return s.signingKey
}

// PublicKey returns the verification half of the signing keypair.
func (s *Store) PublicKey() ed25519.PublicKey {
	return s.signingKey.Public().(ed25519.PublicKey)
}

// Keyring materializes the vault keyring for every key version up to the
// current one. Environment overrides take precedence over derived keys so
// externally provisioned keys (the original deployment model) keep working.
func (s *Store) Keyring() (*vault.Keyring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[int][]byte, s.encVersion)
	for version := 1; version <= s.encVersion; version++ {
		key, err := s.keyForVersion(version)
		if err != nil {
			return nil, err
		}
		keys[version] = key
	}
	return vault.NewKeyring(keys)
}

// ExtendKeyring adds any key versions missing from kr, up to the current one.
// Lets long-lived keyring references pick up a rotation without rebuilding.
func (s *Store) ExtendKeyring(kr *vault.Keyring) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for version := 1; version <= s.encVersion; version++ {
		if kr.Has(version) {
			continue
		}
		key, err := s.keyForVersion(version)
		if err != nil {
			return err
		}
		if err := kr.AddKey(version, key); err != nil {
			return err
		}
	}
	return nil
}

// RotateEncryptionKey introduces the next key generation and persists the new
// current version. Callers re-derive the keyring and re-encrypt stored rows.
func (s *Store) RotateEncryptionKey() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.encVersion++
	if err := s.persist(); err != nil {
		s.encVersion--
		return 0, err
	}
	return s.encVersion, nil
}

// EncryptionKeyVersion returns the current encryption key version.
func (s *Store) EncryptionKeyVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encVersion
}

func (s *Store) keyForVersion(version int) ([]byte, error) {
	if env := os.Getenv(fmt.Sprintf(envKeyVersioned, version)); env != "" {
		return decodeEnvKey(env, version)
	}
	if env := os.Getenv(envKeyDefault); env != "" && version == 1 {
		return decodeEnvKey(env, version)
	}

	reader := hkdf.New(sha256.New, s.encSeed, nil, []byte(fmt.Sprintf("%s%d", hkdfInfoPrefix, version)))
	key := make([]byte, vault.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("keystore: derive key v%d: %w", version, err)
	}
	return key, nil
}

func decodeEnvKey(value string, version int) ([]byte, error) {
	key, err := hex.DecodeString(value)
	if err != nil || len(key) != vault.KeySize {
		return nil, fmt.Errorf("keystore: env key for v%d must be %d hex bytes", version, vault.KeySize)
	}
	return key, nil
}

func (s *Store) persist() error {
	ff := fileFormat{
		Version:              fileVersion,
		SigningSeed:          hex.EncodeToString(s.signingKey.Seed()),
		EncryptionSeed:       hex.EncodeToString(s.encSeed),
		EncryptionKeyVersion: s.encVersion,
	}
	raw, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", s.path, err)
	}
	return nil
}
