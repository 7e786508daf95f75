// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package keystore stores provider API keys encrypted at rest.
//
// Keys are sealed with AES-256-GCM under a key derived from a password
// via PBKDF2-SHA-256. The salt lives next to the store file; both are
// written atomically with 0600 permissions.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/kestrelworks/loom-tui/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// KeySize is the AES-256 key size.
	KeySize = 32

	// SaltSize is the size of the key-derivation salt.
	SaltSize = 32

	// PBKDF2Iterations is the PBKDF2-SHA-256 iteration count.
	// OWASP 2023 recommends 600,000+ for adequate resistance.
	PBKDF2Iterations = 600000
)

var (
	// ErrNotFound indicates no credential is stored for the provider.
	ErrNotFound = errors.New("credential not found")

	// ErrBadPassword indicates decryption failed, almost always a
	// wrong password.
	ErrBadPassword = errors.New("cannot decrypt keystore (wrong password?)")
)

// =============================================================================
// STORE
// =============================================================================

// Store is an encrypted provider → API key map backed by a file.
type Store struct {
	mu     sync.Mutex
	path   string
	aead   cipher.AEAD
	creds  map[string]string
	loaded bool
}

// Open opens (or initializes) the keystore at path with the given
// password. A missing store file is treated as empty; a missing salt
// file is created.
func Open(path, password string) (*Store, error) {
	salt, err := loadOrCreateSalt(path + ".salt")
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
	// SECURITY: Zero key material once the cipher holds it.
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	s := &Store{
		path:  path,
		aead:  aead,
		creds: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultPath returns the standard keystore location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".loom", "credentials.enc"), nil
}

// loadOrCreateSalt reads the salt file, generating one on first use.
func loadOrCreateSalt(saltPath string) ([]byte, error) {
	salt, err := os.ReadFile(saltPath)
	if err == nil {
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("salt file corrupted: %d bytes", len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(saltPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	if err := util.AtomicWriteFile(saltPath, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to save salt: %w", err)
	}
	return salt, nil
}

// load decrypts the store file into memory. A missing file is empty.
func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read keystore: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return fmt.Errorf("keystore file corrupted: %d bytes", len(data))
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return ErrBadPassword
	}
	defer zeroBytes(plaintext)

	if err := json.Unmarshal(plaintext, &s.creds); err != nil {
		return fmt.Errorf("failed to decode keystore: %w", err)
	}
	s.loaded = true
	return nil
}

// save seals the in-memory map and writes it atomically.
// Callers must hold mu.
func (s *Store) save() error {
	plaintext, err := json.Marshal(s.creds)
	if err != nil {
		return fmt.Errorf("failed to encode keystore: %w", err)
	}
	defer zeroBytes(plaintext)

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %w", err)
	}
	// RELIABILITY: Atomic write prevents a torn keystore on crash.
	if err := util.AtomicWriteFile(s.path, sealed, 0600); err != nil {
		return fmt.Errorf("failed to save keystore: %w", err)
	}
	return nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Get returns the stored API key for a provider.
func (s *Store) Get(provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.creds[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, provider)
	}
	return key, nil
}

// Set stores an API key for a provider and persists immediately.
func (s *Store) Set(provider, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[provider] = apiKey
	return s.save()
}

// Delete removes a provider's credential. Deleting an absent credential
// is not an error.
func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[provider]; !ok {
		return nil
	}
	delete(s.creds, provider)
	return s.save()
}

// Providers lists providers with stored credentials, sorted.
func (s *Store) Providers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.creds))
	for p := range s.creds {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// zeroBytes overwrites sensitive byte slices.
// SECURITY: Reduces the window key material lives in memory.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
