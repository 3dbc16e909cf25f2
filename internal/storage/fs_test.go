package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSStore_PutGetDelete(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	key := "tests/42/tables.pdf"
	if _, err := store.Put(key, strings.NewReader("payload")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	r, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "payload" {
		t.Errorf("Get = %q, want payload", data)
	}

	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(key); err == nil {
		t.Error("Get succeeded after delete")
	}

	// Deleting a missing key is not an error
	if err := store.Delete(key); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
}

func TestFSStore_KeysStayUnderRoot(t *testing.T) {
	base := t.TempDir()
	store, err := NewFSStore(base)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	for _, key := range []string{"", "..", "../outside.txt", "a/../../outside.txt"} {
		if _, err := store.Put(key, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
		if _, err := store.Get(key); err == nil {
			t.Errorf("Get(%q) succeeded, want error", key)
		}
		if err := store.Delete(key); err == nil {
			t.Errorf("Delete(%q) succeeded, want error", key)
		}
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(base), "outside.txt")); err == nil {
		t.Error("a file escaped the storage root")
	}

	// Absolute-looking keys are contained, not rejected
	if _, err := store.Put("/nested/name.bin", strings.NewReader("x")); err != nil {
		t.Errorf("absolute key Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "nested", "name.bin")); err != nil {
		t.Errorf("contained file missing: %v", err)
	}
}
