package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFileStorePutGetDelete(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	key := "objects/abc123/cover.jpg"
	if err := fs.Put(ctx, key, strings.NewReader("jpeg bytes"), 10, "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}

	ok, err := fs.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("exists after put: ok=%v err=%v", ok, err)
	}

	rc, err := fs.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "jpeg bytes" {
		t.Fatalf("unexpected content: %q", data)
	}

	if err := fs.DeletePrefix(ctx, "objects/abc123"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if _, err := fs.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStoreDeletePrefixMissingIsNoop(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := fs.DeletePrefix(context.Background(), "objects/nothing"); err != nil {
		t.Fatalf("delete missing prefix: %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	for _, key := range []string{"", "../outside", "/etc/passwd", "objects/../../x"} {
		if err := fs.Put(context.Background(), key, strings.NewReader("x"), 1, ""); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}
