// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func testStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "credentials.enc")
}

func TestSetAndGet(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path, "hunter2")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := s.Set("openai", "sk-abc123"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	key, err := s.Get("openai")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if key != "sk-abc123" {
		t.Errorf("key = %q", key)
	}
}

func TestGetMissing(t *testing.T) {
	s, err := Open(testStorePath(t), "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("anthropic"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestPersistsAcrossOpens(t *testing.T) {
	path := testStorePath(t)

	s1, err := Open(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Set("groq", "gsk_xyz"); err != nil {
		t.Fatal(err)
	}
	if err := s1.Set("openrouter", "sk-or-abc"); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path, "hunter2")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	key, err := s2.Get("groq")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if key != "gsk_xyz" {
		t.Errorf("key = %q", key)
	}

	providers := s2.Providers()
	if len(providers) != 2 || providers[0] != "groq" || providers[1] != "openrouter" {
		t.Errorf("Providers() = %v", providers)
	}
}

func TestWrongPassword(t *testing.T) {
	path := testStorePath(t)

	s1, err := Open(path, "correct")
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Set("openai", "sk-abc"); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, "wrong"); !errors.Is(err, ErrBadPassword) {
		t.Errorf("err = %v, want bad password", err)
	}
}

func TestDelete(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Set("deepseek", "sk-ds"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("deepseek"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("deepseek"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted credential still present: %v", err)
	}

	// Deleting again is fine.
	if err := s.Delete("deepseek"); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	path := testStorePath(t)
	s, err := Open(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("openai", "sk-abc"); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{path, path + ".salt"} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("%s permissions = %o, want 0600", p, perm)
		}
	}
}

func TestStoreFileIsNotPlaintext(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("openai", "sk-supersecret"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("store file empty")
	}
	if strings.Contains(string(data), "sk-supersecret") {
		t.Error("API key stored in plaintext")
	}
}
