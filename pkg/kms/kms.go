// Package kms implements the Crypto & Key Manager: a
// process-wide master key, loaded once at startup, that encrypts per-record
// data keys which in turn encrypt secrets (two-tier envelope encryption).
//
// The master key MUST come from configuration (PIERRE_MASTER_KEY); startup
// fails if it is missing (pkg/config.Load enforces this). Rotation keeps
// retired master-key versions available for decrypting ciphertext written
// under them, identified by a version number stored alongside the
// ciphertext, while the active key always comes from the environment.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// ErrKeyUnavailable is returned when the manager cannot find a usable
// master key at construction time — a startup fault, not a request fault.
var ErrKeyUnavailable = errors.New("kms: master key unavailable")

// ErrDecryptFailed covers any ciphertext/AAD/key mismatch on Decrypt.
var ErrDecryptFailed = errors.New("kms: decrypt failed")

// Manager is the Crypto & Key Manager contract used by pkg/credentials to
// encrypt stored provider tokens.
//
// aad (additional authenticated data) MUST bind the tenant id and the
// record's purpose so a ciphertext produced for one record can never be
// silently decrypted in place of another's, even if the raw bytes are
// copied across rows.
type Manager interface {
	Encrypt(plaintext string, aad []byte) (string, error)
	Decrypt(ciphertext string, aad []byte) (string, error)
	Rotate(newMasterKey []byte) (version int, err error)
	ActiveVersion() int
}

// MasterKeyManager is the in-process implementation: one or more
// 32-byte AES-256 master keys, keyed by version, with envelope encryption.
// Each Encrypt call generates a fresh random data key, encrypts the
// plaintext with it under the given AAD, then encrypts the data key with
// the active master key version.
type MasterKeyManager struct {
	mu            sync.RWMutex
	masterKeys    map[int][]byte
	activeVersion int
}

// NewMasterKeyManager constructs a manager from a required base64-encoded
// 32-byte master key (version 1). Returns ErrKeyUnavailable if the key is
// empty or the wrong size, which the caller should treat as fatal at
// startup.
func NewMasterKeyManager(masterKeyB64 string) (*MasterKeyManager, error) {
	if masterKeyB64 == "" {
		return nil, ErrKeyUnavailable
	}
	key, err := decodeKey(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	return &MasterKeyManager{
		masterKeys:    map[int][]byte{1: key},
		activeVersion: 1,
	}, nil
}

func decodeKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("master key must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Rotate installs newMasterKey as the new active version; prior versions
// remain available to Decrypt ciphertext sealed under them.
func (m *MasterKeyManager) Rotate(newMasterKey []byte) (int, error) {
	if len(newMasterKey) != 32 {
		return 0, fmt.Errorf("kms: rotate key must be 32 bytes, got %d", len(newMasterKey))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.activeVersion + 1
	m.masterKeys[next] = append([]byte(nil), newMasterKey...)
	m.activeVersion = next
	return next, nil
}

func (m *MasterKeyManager) ActiveVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeVersion
}

// envelope is the wire format: v<masterVersion>:<base64 wrapped-data-key>:<base64 nonce+ciphertext>
const envelopeParts = 3

// Encrypt implements two-tier envelope encryption with AAD binding.
func (m *MasterKeyManager) Encrypt(plaintext string, aad []byte) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	dataKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return "", fmt.Errorf("kms: generate data key: %w", err)
	}

	m.mu.RLock()
	version := m.activeVersion
	masterKey := m.masterKeys[version]
	m.mu.RUnlock()

	wrapKey, err := deriveWrapKey(masterKey, aad)
	if err != nil {
		return "", fmt.Errorf("kms: derive wrap key: %w", err)
	}
	wrappedKey, err := aesGCMSeal(wrapKey, dataKey, nil)
	if err != nil {
		return "", fmt.Errorf("kms: wrap data key: %w", err)
	}

	ciphertext, err := aesGCMSeal(dataKey, []byte(plaintext), aad)
	if err != nil {
		return "", fmt.Errorf("kms: seal plaintext: %w", err)
	}

	return fmt.Sprintf("v%d:%s:%s", version,
		base64.StdEncoding.EncodeToString(wrappedKey),
		base64.StdEncoding.EncodeToString(ciphertext)), nil
}

// Decrypt reverses Encrypt. The same aad used at Encrypt time must be
// supplied or decryption fails — this is what prevents a ciphertext
// belonging to (tenant A, provider X) from being accepted in place of
// (tenant B, provider X) even if rows were swapped.
func (m *MasterKeyManager) Decrypt(ciphertext string, aad []byte) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	version, wrappedKeyB64, payloadB64, err := parseEnvelope(ciphertext)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	masterKey, ok := m.masterKeys[version]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown master key version %d", ErrDecryptFailed, version)
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(wrappedKeyB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	wrapKey, err := deriveWrapKey(masterKey, aad)
	if err != nil {
		return "", fmt.Errorf("%w: derive wrap key: %v", ErrDecryptFailed, err)
	}
	dataKey, err := aesGCMOpen(wrapKey, wrappedKey, nil)
	if err != nil {
		return "", fmt.Errorf("%w: unwrap data key: %v", ErrDecryptFailed, err)
	}

	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	plaintext, err := aesGCMOpen(dataKey, payload, aad)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	return string(plaintext), nil
}

func parseEnvelope(ciphertext string) (version int, wrappedKey, payload string, err error) {
	parts := strings.SplitN(ciphertext, ":", envelopeParts)
	if len(parts) != envelopeParts || !strings.HasPrefix(parts[0], "v") {
		return 0, "", "", fmt.Errorf("%w: malformed envelope", ErrDecryptFailed)
	}
	version, err = strconv.Atoi(strings.TrimPrefix(parts[0], "v"))
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: bad version prefix: %v", ErrDecryptFailed, err)
	}
	return version, parts[1], parts[2], nil
}

// deriveWrapKey derives a 32-byte key-wrapping key from the master key via
// HKDF-SHA256, using aad as the info parameter. This binds the wrapped data
// key to its tenant and purpose the same way aad already binds the sealed
// plaintext, so a wrapped data key copied into another record's ciphertext
// column unwraps to garbage instead of a usable key.
func deriveWrapKey(masterKey, aad []byte) ([]byte, error) {
	wrapKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, aad), wrapKey); err != nil {
		return nil, err
	}
	return wrapKey, nil
}

func aesGCMSeal(key, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func aesGCMOpen(key, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("kms: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, aad)
}

// AAD builds the additional-authenticated-data byte string binding a
// ciphertext to its owning tenant and record purpose, e.g.
// AAD("t_123", "provider_credential", "strava").
func AAD(tenantID, purpose string, parts ...string) []byte {
	all := append([]string{tenantID, purpose}, parts...)
	return []byte(strings.Join(all, "|"))
}
