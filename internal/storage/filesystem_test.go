package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{"plain", "frames/01_audio.mp3", "frames/01_audio.mp3", false},
		{"leading slash", "/frames/a.png", "frames/a.png", false},
		{"dot prefix", "./a.png", "a.png", false},
		{"backslashes", `frames\a.png`, "frames/a.png", false},
		{"traversal", "../../etc/passwd", "", true},
		{"empty", "  ", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sanitizeKey(tc.key)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("sanitizeKey(%q) accepted", tc.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("sanitizeKey(%q): %v", tc.key, err)
			}
			if got != tc.want {
				t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestFileStoreWrite(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	path, err := s.Write(context.Background(), "frames/01_audio.mp3", []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(path, s.BasePath()) {
		t.Fatalf("path %q escapes base %q", path, s.BasePath())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("content = %q", data)
	}
}

func TestCopyAtomicReplacesAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "doc.json")

	if err := CopyAtomic(dest, strings.NewReader("one")); err != nil {
		t.Fatalf("CopyAtomic: %v", err)
	}
	if err := CopyAtomic(dest, strings.NewReader("two")); err != nil {
		t.Fatalf("CopyAtomic overwrite: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two" {
		t.Fatalf("content = %q, want %q", data, "two")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("leftover files: %v", names)
	}
}

func TestCopyAtomicCreatesParents(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "a", "b", "c.txt")
	if err := CopyAtomic(dest, strings.NewReader("x")); err != nil {
		t.Fatalf("CopyAtomic: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("stat: %v", err)
	}
}
