package caching

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCache_SetAndGet(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	url := "http://cdn.example.com/photo.jpg"
	payload := []byte("jpeg bytes")

	if _, ok := cache.Get(url); ok {
		t.Error("Get() before Set() should miss")
	}
	if err := cache.Set(url, payload); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := cache.Get(url)
	if !ok {
		t.Fatal("Get() after Set() should hit")
	}
	if string(got) != string(payload) {
		t.Errorf("Get() = %q, want %q", got, payload)
	}

	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats() = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir, time.Minute)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	url := "http://cdn.example.com/old.jpg"
	if err := cache.Set(url, []byte("stale")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Age the cache file past the TTL.
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(filepath.Join(dir, cache.key(url)), old, old); err != nil {
		t.Fatalf("failed to age cache file: %v", err)
	}

	if _, ok := cache.Get(url); ok {
		t.Error("Get() on an expired entry should miss")
	}
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir, 0)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	url := "http://cdn.example.com/keep.jpg"
	if err := cache.Set(url, []byte("payload")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, cache.key(url)), old, old); err != nil {
		t.Fatalf("failed to age cache file: %v", err)
	}

	if _, ok := cache.Get(url); !ok {
		t.Error("Get() with ttl=0 should never expire")
	}
}

func TestCache_ClobberedPathIsAMiss(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "cache")
	cache, err := NewCache(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	// Replace the cache directory with a regular file so every stat under
	// it fails with something other than not-exist.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("failed to remove cache dir: %v", err)
	}
	if err := os.WriteFile(dir, []byte("in the way"), 0644); err != nil {
		t.Fatalf("failed to clobber cache path: %v", err)
	}

	if _, ok := cache.Get("http://cdn.example.com/photo.jpg"); ok {
		t.Error("Get() with a clobbered cache path should miss, not hit")
	}

	_, misses := cache.Stats()
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
}

func TestCache_DistinctURLsDistinctEntries(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if err := cache.Set("http://a/x.jpg", []byte("a")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cache.Set("http://b/x.jpg", []byte("b")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := cache.Get("http://a/x.jpg")
	if !ok || string(got) != "a" {
		t.Errorf("Get(a) = %q, %v; want a, true", got, ok)
	}
}
