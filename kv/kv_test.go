package kv_test

import (
	"path/filepath"
	"testing"

	"modalnode/kv"
)

func collect(t *testing.T, it kv.Iterator) []string {
	t.Helper()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return keys
}

func testStoreContract(t *testing.T, store kv.Store) {
	t.Helper()

	if err := store.Put([]byte("/miner_blocks/hash/aaa"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put([]byte("/miner_blocks/hash/ccc"), []byte("3")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put([]byte("/miner_blocks/hash/bbb"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put([]byte("/miner_blocks/index/1"), []byte("other")); err != nil {
		t.Fatalf("put: %v", err)
	}

	v, ok, err := store.Get([]byte("/miner_blocks/hash/bbb"))
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("get bbb = %q %v %v", v, ok, err)
	}

	it, err := store.Iterator([]byte("/miner_blocks/hash/"))
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	got := collect(t, it)
	want := []string{
		"/miner_blocks/hash/aaa",
		"/miner_blocks/hash/bbb",
		"/miner_blocks/hash/ccc",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ordering mismatch at %d: got %v want %v", i, got, want)
		}
	}

	if err := store.Delete([]byte("/miner_blocks/hash/bbb")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get([]byte("/miner_blocks/hash/bbb")); ok {
		t.Fatalf("expected bbb to be gone after delete")
	}
}

func TestMemoryStoreContract(t *testing.T) {
	testStoreContract(t, kv.NewMemory())
}

func TestDiskStoreContract(t *testing.T) {
	dir := t.TempDir()
	store, err := kv.Open(dir, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	testStoreContract(t, store)
}

func TestDiskStorePersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	store, err := kv.Open(dir, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := kv.Open(dir, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	v, ok, err := reopened.Get([]byte("k"))
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("get after reopen = %q %v %v", v, ok, err)
	}
}

func TestDiskStoreReadOnlyAllowsConcurrentReaders(t *testing.T) {
	dir := t.TempDir()
	writer, err := kv.Open(dir, false)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if err := writer.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r1, err := kv.Open(dir, true)
	if err != nil {
		t.Fatalf("open reader 1: %v", err)
	}
	defer r1.Close()
	r2, err := kv.Open(dir, true)
	if err != nil {
		t.Fatalf("open reader 2: %v", err)
	}
	defer r2.Close()

	if err := r1.Put([]byte("k2"), []byte("v2")); err == nil {
		t.Fatalf("expected read-only store to reject writes")
	}
	if v, ok, _ := r2.Get([]byte("k")); !ok || string(v) != "v" {
		t.Fatalf("reader 2 should see persisted data, got %q %v", v, ok)
	}
}

func TestCachedInvalidatesOnWrite(t *testing.T) {
	mem := kv.NewMemory()
	cached, err := kv.NewCached(mem, 16)
	if err != nil {
		t.Fatalf("new cached: %v", err)
	}
	if err := cached.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if v, _, _ := cached.Get([]byte("k")); string(v) != "v1" {
		t.Fatalf("expected v1, got %q", v)
	}
	if err := cached.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if v, _, _ := cached.Get([]byte("k")); string(v) != "v2" {
		t.Fatalf("expected cache to be invalidated, got %q", v)
	}
}
