package capture

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/roverlink/signalhub/internal/logging"
)

func TestStore_DecodesDataURL(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, logging.New(logging.Config{Level: "error"}))

	content := []byte("fake png bytes")
	data := "data:image/png;base64," + base64.StdEncoding.EncodeToString(content)

	if err := sink.Store("peer1", data); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("files written = %d, want 1", len(entries))
	}

	got, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("file content = %q, want %q", got, content)
	}
}

func TestStore_BareBase64(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, logging.New(logging.Config{Level: "error"}))

	if err := sink.Store("peer1", base64.StdEncoding.EncodeToString([]byte("x"))); err != nil {
		t.Fatalf("Store: %v", err)
	}
}

func TestStore_Rejects(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, logging.New(logging.Config{Level: "error"}))

	if err := sink.Store("peer1", "data:image/png;base64,"); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("empty payload: err = %v, want %v", err, ErrEmptyPayload)
	}
	if err := sink.Store("peer1", "data:image/png;base64,!!not-base64!!"); err == nil {
		t.Fatal("expected decode error for invalid base64")
	}
}
