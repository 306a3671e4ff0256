package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchFileURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("file url content")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	f := NewHTTPFetcher()
	dst := make([]byte, len(content))
	n, err := f.Fetch(context.Background(), "file://"+path, dst, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != len(content) || string(dst) != string(content) {
		t.Errorf("got %q (%d bytes), want %q", dst, n, content)
	}
}

func TestFetchHTTP(t *testing.T) {
	content := []byte("http served content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	dst := make([]byte, len(content))
	var lastProgress int
	n, err := f.Fetch(context.Background(), srv.URL, dst, func(w int) { lastProgress = w })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != len(content) || string(dst) != string(content) {
		t.Errorf("got %q (%d bytes), want %q", dst, n, content)
	}
	if lastProgress != len(content) {
		t.Errorf("final progress report = %d, want %d", lastProgress, len(content))
	}
}

func TestFetchHTTPShortReadIsError(t *testing.T) {
	content := []byte("short")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	dst := make([]byte, len(content)+100) // larger than what the server sends
	if _, err := f.Fetch(context.Background(), srv.URL, dst, nil); err == nil {
		t.Error("expected error for short read against an oversized buffer")
	}
}

func TestFetchHTTPNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	if _, err := f.Fetch(context.Background(), srv.URL, make([]byte, 1), nil); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestFetchUnsupportedScheme(t *testing.T) {
	f := NewHTTPFetcher()
	if _, err := f.Fetch(context.Background(), "ftp://example.test/x", make([]byte, 1), nil); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
