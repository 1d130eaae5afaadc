package home

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-quire")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-quire" {
			t.Errorf("expected path /tmp/test-quire, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-quire")

	if got := dir.LibraryPath(); got != "/tmp/test-quire/library" {
		t.Errorf("LibraryPath = %s", got)
	}
	if got := dir.ConfigPath(); got != "/tmp/test-quire/config.yaml" {
		t.Errorf("ConfigPath = %s", got)
	}
	if got := BookDir("/lib", "123", "A/B"); got != "/lib/123_A、B" {
		t.Errorf("BookDir = %s", got)
	}
	if got := ChapterFileName(7, "-", "Intro?", "mp3"); got != "0007-Intro？.mp3" {
		t.Errorf("ChapterFileName = %s", got)
	}
}

func TestDir_EnsureExists(t *testing.T) {
	tmpDir := t.TempDir()
	dir, err := New(filepath.Join(tmpDir, "quire-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	if _, err := os.Stat(dir.LibraryPath()); os.IsNotExist(err) {
		t.Error("library directory should exist after EnsureExists")
	}
}

func TestDir_ConfigExists(t *testing.T) {
	dir, _ := New(t.TempDir())

	if dir.ConfigExists() {
		t.Error("config should not exist initially")
	}
	if err := os.WriteFile(dir.ConfigPath(), []byte("max_workers: 2\n"), 0o644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if !dir.ConfigExists() {
		t.Error("config should exist after creation")
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"plain":        "plain",
		"a:b*c?":       "a：b＊c？",
		"trailing. . ": "trailing",
		"":             "unnamed",
		"...":          "unnamed",
		"con":          "_con",
		"tab\there":    "tab_here",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}

	t.Run("caps length on rune boundary", func(t *testing.T) {
		long := strings.Repeat("书", 100) // 300 bytes
		got := SafeName(long)
		if len(got) > MaxNameBytes {
			t.Errorf("len = %d, want <= %d", len(got), MaxNameBytes)
		}
		if !utf8.ValidString(got) {
			t.Error("result is not valid UTF-8")
		}
	})
}

func TestParseBookDirName(t *testing.T) {
	id, name, ok := ParseBookDirName("12345_Some Book")
	if !ok || id != "12345" || name != "Some Book" {
		t.Errorf("got %q %q %v", id, name, ok)
	}
	if _, _, ok := ParseBookDirName("notes"); ok {
		t.Error("expected non-book folder to be rejected")
	}
}
