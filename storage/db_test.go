package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)

	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, err := db.Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(value, []byte("1")) {
		t.Fatalf("unexpected value: %q", value)
	}
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := db.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("a")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected deleted key to be missing, got %v", err)
	}
}

func TestMemDBPutCopiesValue(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)

	value := []byte("mutable")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value[0] = 'X'
	stored, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(stored, []byte("mutable")) {
		t.Fatalf("stored value aliases caller buffer: %q", stored)
	}
}

func TestOverlayCommit(t *testing.T) {
	base := NewMemDB()
	t.Cleanup(base.Close)
	if err := base.Put([]byte("keep"), []byte("base")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := base.Put([]byte("gone"), []byte("base")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ov := NewOverlay(base)
	if err := ov.Put([]byte("new"), []byte("ov")); err != nil {
		t.Fatalf("overlay Put: %v", err)
	}
	if err := ov.Delete([]byte("gone")); err != nil {
		t.Fatalf("overlay Delete: %v", err)
	}

	// Base untouched before commit.
	if _, err := base.Get([]byte("new")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("base mutated before commit")
	}
	if _, err := base.Get([]byte("gone")); err != nil {
		t.Fatalf("base delete applied before commit: %v", err)
	}
	// Overlay reads see pending state.
	if _, err := ov.Get([]byte("gone")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("overlay should hide deleted key")
	}
	if value, err := ov.Get([]byte("keep")); err != nil || !bytes.Equal(value, []byte("base")) {
		t.Fatalf("overlay should read through to base: %q %v", value, err)
	}

	if err := ov.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if value, err := base.Get([]byte("new")); err != nil || !bytes.Equal(value, []byte("ov")) {
		t.Fatalf("commit lost write: %q %v", value, err)
	}
	if _, err := base.Get([]byte("gone")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("commit lost delete")
	}
}

func TestOverlayDiscard(t *testing.T) {
	base := NewMemDB()
	t.Cleanup(base.Close)

	ov := NewOverlay(base)
	if err := ov.Put([]byte("temp"), []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ov.Discard()
	if err := ov.Commit(); err != nil {
		t.Fatalf("Commit after Discard: %v", err)
	}
	if _, err := base.Get([]byte("temp")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("discarded write reached base")
	}
}

func TestBoltDBRoundTrip(t *testing.T) {
	path := t.TempDir() + "/custodia.db"
	db, err := NewBoltDB(path)
	if err != nil {
		t.Fatalf("NewBoltDB: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Fatalf("unexpected value: %q", value)
	}
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected deleted key to be missing, got %v", err)
	}
}
