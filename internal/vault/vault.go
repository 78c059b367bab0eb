// Package vault provides versioned authenticated encryption for stored
// feature vectors. Payloads are AES-256-GCM and carry their key version so
// multiple key generations coexist during rotation.
//
// Wire format: "v{n}:ivHex:tagHex:ctHex". Payloads written before versioning
// ("ivHex:tagHex:ctHex") decrypt under version 1.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

const gcmTagSize = 16

var (
	ErrUnknownVersion   = errors.New("vault: unknown key version")
	ErrMalformedPayload = errors.New("vault: malformed payload")
	ErrDecryptFailed    = errors.New("vault: decryption failed")
	ErrBadKey           = errors.New("vault: key must be 32 bytes")
)

// Keyring holds the versioned encryption keys. All new encryptions use the
// current version; decryption selects the key by the version embedded in the
// payload.
type Keyring struct {
	mu      sync.RWMutex
	keys    map[int][]byte
	current int
}

// NewKeyring builds a keyring from versioned keys. The highest version becomes
// current.
func NewKeyring(keys map[int][]byte) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("vault: at least one key required")
	}
	kr := &Keyring{keys: make(map[int][]byte, len(keys))}
	for version, key := range keys {
		if err := kr.addLocked(version, key); err != nil {
			return nil, err
		}
	}
	return kr, nil
}

// AddKey registers a new key version and makes it current when it is the
// highest version seen. Used by rotation to introduce the next generation.
func (kr *Keyring) AddKey(version int, key []byte) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	return kr.addLocked(version, key)
}

func (kr *Keyring) addLocked(version int, key []byte) error {
	if len(key) != KeySize {
		return ErrBadKey
	}
	if version < 1 {
		return fmt.Errorf("vault: key version must be >= 1, got %d", version)
	}
	owned := make([]byte, KeySize)
	copy(owned, key)
	kr.keys[version] = owned
	if version > kr.current {
		kr.current = version
	}
	return nil
}

// CurrentVersion returns the version used for new encryptions.
func (kr *Keyring) CurrentVersion() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.current
}

// Has reports whether a key version is registered.
func (kr *Keyring) Has(version int) bool {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	_, ok := kr.keys[version]
	return ok
}

// Versions returns all registered key versions.
func (kr *Keyring) Versions() []int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	versions := make([]int, 0, len(kr.keys))
	for v := range kr.keys {
		versions = append(versions, v)
	}
	return versions
}

func (kr *Keyring) key(version int) ([]byte, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	key, ok := kr.keys[version]
	if !ok {
		return nil, fmt.Errorf("%w: v%d", ErrUnknownVersion, version)
	}
	return key, nil
}

// Encrypt seals plaintext under the current key version.
func (kr *Keyring) Encrypt(plaintext []byte) (string, error) {
	kr.mu.RLock()
	version := kr.current
	kr.mu.RUnlock()
	return kr.encryptWith(version, plaintext)
}

func (kr *Keyring) encryptWith(version int, plaintext []byte) (string, error) {
	key, err := kr.key(version)
	if err != nil {
		return "", err
	}
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return fmt.Sprintf("v%d:%s:%s:%s",
		version,
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	), nil
}

// Decrypt opens a payload, selecting the key by its embedded version.
func (kr *Keyring) Decrypt(payload string) ([]byte, error) {
	version, iv, tag, ciphertext, err := parsePayload(payload)
	if err != nil {
		return nil, err
	}
	key, err := kr.key(version)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() || len(tag) != gcmTagSize {
		return nil, ErrMalformedPayload
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// ReEncrypt decrypts a payload under its recorded version and seals it again
// under the current version. Returns the versions involved so rotation can
// record the migration.
func (kr *Keyring) ReEncrypt(payload string) (newPayload string, oldVersion, newVersion int, err error) {
	oldVersion, _, _, _, err = parsePayload(payload)
	if err != nil {
		return "", 0, 0, err
	}
	plaintext, err := kr.Decrypt(payload)
	if err != nil {
		return "", 0, 0, err
	}
	newVersion = kr.CurrentVersion()
	newPayload, err = kr.encryptWith(newVersion, plaintext)
	if err != nil {
		return "", 0, 0, err
	}
	return newPayload, oldVersion, newVersion, nil
}

// PayloadVersion reports the key version embedded in a payload.
func PayloadVersion(payload string) (int, error) {
	version, _, _, _, err := parsePayload(payload)
	return version, err
}

func parsePayload(payload string) (version int, iv, tag, ciphertext []byte, err error) {
	parts := strings.Split(payload, ":")
	switch {
	case len(parts) == 4 && strings.HasPrefix(parts[0], "v"):
		version, err = strconv.Atoi(parts[0][1:])
		if err != nil || version < 1 {
			return 0, nil, nil, nil, ErrMalformedPayload
		}
		parts = parts[1:]
	case len(parts) == 3:
		version = 1
	default:
		return 0, nil, nil, nil, ErrMalformedPayload
	}

	iv, err = hex.DecodeString(parts[0])
	if err != nil {
		return 0, nil, nil, nil, ErrMalformedPayload
	}
	tag, err = hex.DecodeString(parts[1])
	if err != nil {
		return 0, nil, nil, nil, ErrMalformedPayload
	}
	ciphertext, err = hex.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, nil, ErrMalformedPayload
	}
	return version, iv, tag, ciphertext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return aead, nil
}
