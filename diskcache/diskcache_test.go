package diskcache

import (
	"bytes"
	"testing"
	"time"

	"github.com/gogpu/shaderwatch/compiler"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetMiss(t *testing.T) {
	c := openTestCache(t)
	digest := compiler.Fingerprint([]byte("absent"), compiler.DefaultOptions())
	if _, ok := c.Get(digest); ok {
		t.Error("expected miss on empty cache")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	opts := compiler.DefaultOptions()
	digest := compiler.Fingerprint([]byte("source"), opts)
	bytecode := bytes.Repeat([]byte{0x03, 0x02, 0x23, 0x07}, 64)

	if err := c.Put(digest, bytecode, opts); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := c.Get(digest)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if !bytes.Equal(got, bytecode) {
		t.Error("bytecode did not round-trip")
	}
}

func TestPutReplaces(t *testing.T) {
	c := openTestCache(t)
	opts := compiler.DefaultOptions()
	digest := compiler.Fingerprint([]byte("source"), opts)

	if err := c.Put(digest, []byte("old"), opts); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(digest, []byte("new"), opts); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := c.Get(digest)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}
	n, err := c.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	opts := compiler.DefaultOptions()
	digest := compiler.Fingerprint([]byte("source"), opts)

	c, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.Put(digest, []byte("persisted"), opts); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	c2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c2.Close()

	got, ok := c2.Get(digest)
	if !ok {
		t.Fatal("entry did not survive reopen")
	}
	if string(got) != "persisted" {
		t.Errorf("got %q, want %q", got, "persisted")
	}
}

func TestPrune(t *testing.T) {
	c := openTestCache(t)
	opts := compiler.DefaultOptions()
	digest := compiler.Fingerprint([]byte("source"), opts)

	if err := c.Put(digest, []byte("bytecode"), opts); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Nothing is older than an hour yet.
	removed, err := c.Prune(time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("Prune removed %d entries, want 0", removed)
	}

	// Everything is older than zero age.
	time.Sleep(10 * time.Millisecond)
	removed, err = c.Prune(0)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d entries, want 1", removed)
	}
	if _, ok := c.Get(digest); ok {
		t.Error("pruned entry still readable")
	}
}
