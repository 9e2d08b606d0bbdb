package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvanberg/mlarrays/store"
)

func TestFetchLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := New(Options{})

	for _, uri := range []string{path, "file://" + path} {
		data, err := f.Fetch(context.Background(), uri)
		if err != nil {
			t.Fatalf("Fetch(%q) failed: %v", uri, err)
		}
		if string(data) != "png-bytes" {
			t.Errorf("Fetch(%q) returned %q", uri, data)
		}
	}
}

func TestFetchLocalMissing(t *testing.T) {
	f := New(Options{})
	if _, err := f.Fetch(context.Background(), "/no/such/file.png"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFetchHTTP(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		_, _ = w.Write([]byte("remote-bytes"))
	}))
	defer srv.Close()

	f := New(Options{Client: srv.Client(), CacheTTL: time.Minute})

	data, err := f.Fetch(context.Background(), srv.URL+"/img.jpg")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "remote-bytes" {
		t.Errorf("got %q", data)
	}

	// Second fetch is served from cache.
	if _, err := f.Fetch(context.Background(), srv.URL+"/img.jpg"); err != nil {
		t.Fatalf("cached Fetch failed: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("expected 1 HTTP hit, got %d", got)
	}
}

func TestFetchHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(Options{Client: srv.Client()})
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); !errors.Is(err, ErrHTTPStatus) {
		t.Errorf("expected ErrHTTPStatus, got %v", err)
	}
}

func TestFetchHTTPContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Options{Client: srv.Client()})
	if _, err := f.Fetch(ctx, srv.URL); err == nil {
		t.Error("expected context cancellation error")
	}
}

func TestFetchStoreScheme(t *testing.T) {
	bs, err := store.Open(store.Options{})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer bs.Close()

	if err := bs.Put("cats/1.png", []byte("blob-bytes")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	f := New(Options{Store: bs})
	data, err := f.Fetch(context.Background(), "store://cats/1.png")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "blob-bytes" {
		t.Errorf("got %q", data)
	}

	// Without an attached store the scheme is refused.
	bare := New(Options{})
	if _, err := bare.Fetch(context.Background(), "store://cats/1.png"); !errors.Is(err, ErrNoStore) {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
}

func TestFetchUnsupportedScheme(t *testing.T) {
	f := New(Options{})
	if _, err := f.Fetch(context.Background(), "s3://bucket/key.png"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}
