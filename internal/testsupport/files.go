package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteAudio writes a small placeholder WAV file of roughly size bytes and
// returns its path. A size <= 0 writes only the header.
func WriteAudio(t testing.TB, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	payload := []byte("RIFF\x00\x00\x00\x00WAVEfmt ")
	for len(payload) < size {
		payload = append(payload, 0x42)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
