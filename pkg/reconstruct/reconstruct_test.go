package reconstruct

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jigimage/jigimage/pkg/imagelayout"
	"github.com/jigimage/jigimage/pkg/md5hash"
	"github.com/jigimage/jigimage/pkg/resolver"
	"github.com/jigimage/jigimage/pkg/template"
)

// stubFetcher serves fixed content per URL, optionally corrupting or
// failing specific URLs, and counts how many times each URL was fetched.
type stubFetcher struct {
	mu       sync.Mutex
	byURL    map[string][]byte
	failURLs map[string]bool
	calls    map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		byURL:    make(map[string][]byte),
		failURLs: make(map[string]bool),
		calls:    make(map[string]int),
	}
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string, dst []byte, onProgress func(int)) (int, error) {
	s.mu.Lock()
	s.calls[rawURL]++
	s.mu.Unlock()

	if s.failURLs[rawURL] {
		return 0, errors.New("stub: simulated fetch failure")
	}
	content, ok := s.byURL[rawURL]
	if !ok {
		return 0, errors.New("stub: no content registered for url")
	}
	n := copy(dst, content)
	if onProgress != nil {
		onProgress(n)
	}
	return n, nil
}

func (s *stubFetcher) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func singleFileTable(size uint64, digest md5hash.Digest) *template.DescTable {
	return &template.DescTable{
		ImageInfo: template.ImageInfoEntry{
			EntryBase: template.EntryBase{Offset: 0, Size: size},
			MD5:       digest,
		},
		Files: []*template.FileEntry{
			{
				EntryBase: template.EntryBase{Offset: 0, Size: size},
				MD5:       digest,
				Status:    template.NotStarted,
			},
		},
	}
}

// TestReconstructS2Fetch exercises scenario S2: a single remote file,
// fetched once, verified, written into the image.
func TestReconstructS2Fetch(t *testing.T) {
	content := []byte("abc")
	digest := md5hash.SumBytes(content)

	img, err := imagelayout.Open(filepath.Join(t.TempDir(), "image.bin"), uint64(len(content)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img.Close()

	manifest := &resolver.Manifest{
		Files: []*resolver.FileRef{
			{MD5: digest, RelativePath: "a/b.bin", ServerRef: "Main"},
		},
		Servers: map[string]*resolver.Server{
			"Main": {Name: "Main", RemoteMirrors: []string{"http://example.test/root/"}},
		},
	}
	if err := resolver.Load(manifest); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fetcher := newStubFetcher()
	url := "http://example.test/root/a/b.bin"
	fetcher.byURL[url] = content

	table := singleFileTable(uint64(len(content)), digest)
	r := New(img, manifest, table, fetcher, WithPollInterval(0), WithRandIndex(func(n int) int { return 0 }))

	ok, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Error("expected whole-image md5 to verify")
	}
	if fetcher.callCount(url) != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", fetcher.callCount(url))
	}

	readBack := make([]byte, len(content))
	img.File.ReadAt(readBack, 0)
	if string(readBack) != string(content) {
		t.Errorf("image content = %q, want %q", readBack, content)
	}
}

// TestReconstructS3Resume exercises scenario S3: the image already has the
// correct bytes on disk, so resume verification must avoid any fetch.
func TestReconstructS3Resume(t *testing.T) {
	content := []byte("abc")
	digest := md5hash.SumBytes(content)
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("seed image: %v", err)
	}

	img, err := imagelayout.Open(path, uint64(len(content)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img.Close()
	if !img.Existing {
		t.Fatal("expected image to be detected as existing")
	}

	manifest := &resolver.Manifest{
		Files: []*resolver.FileRef{
			{MD5: digest, RelativePath: "a/b.bin", ServerRef: "Main"},
		},
		Servers: map[string]*resolver.Server{
			"Main": {Name: "Main", RemoteMirrors: []string{"http://example.test/root/"}},
		},
	}
	if err := resolver.Load(manifest); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fetcher := newStubFetcher() // no content registered: any fetch call fails
	table := singleFileTable(uint64(len(content)), digest)

	r := New(img, manifest, table, fetcher, WithPollInterval(0))
	ok, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Error("expected whole-image md5 to verify")
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("expected zero fetches on resume, got %v", fetcher.calls)
	}
}

// TestReconstructS4MirrorFailover exercises scenario S4: the first mirror
// returns corrupt bytes, the second returns correct bytes; reconstruction
// must still reach Complete.
func TestReconstructS4MirrorFailover(t *testing.T) {
	content := []byte("abcd")
	digest := md5hash.SumBytes(content)

	img, err := imagelayout.Open(filepath.Join(t.TempDir(), "image.bin"), uint64(len(content)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img.Close()

	manifest := &resolver.Manifest{
		Files: []*resolver.FileRef{
			{MD5: digest, RelativePath: "f.bin", ServerRef: "Main"},
		},
		Servers: map[string]*resolver.Server{
			"Main": {Name: "Main", RemoteMirrors: []string{
				"http://mirror1.test/root/",
				"http://mirror2.test/root/",
			}},
		},
	}
	if err := resolver.Load(manifest); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fetcher := newStubFetcher()
	fetcher.byURL["http://mirror1.test/root/f.bin"] = []byte("XXXX") // corrupt
	fetcher.byURL["http://mirror2.test/root/f.bin"] = content

	table := singleFileTable(uint64(len(content)), digest)

	// Force mirror1 to be picked first, then mirror2 on the excluded-retry
	// pass: since mirror1 is excluded after failing, only mirror2 remains,
	// so any non-negative index selects it.
	r := New(img, manifest, table, fetcher, WithPollInterval(0), WithRandIndex(func(n int) int { return 0 }))

	ok, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Error("expected whole-image md5 to verify after mirror failover")
	}
	if fetcher.callCount("http://mirror1.test/root/f.bin") == 0 {
		t.Error("expected at least one attempt against mirror1")
	}
	if fetcher.callCount("http://mirror2.test/root/f.bin") == 0 {
		t.Error("expected eventual success against mirror2")
	}
}

// TestReconstructS5LocalMatch exercises scenario S5: a matching local copy
// is found during setup and used directly, without any remote fetch.
func TestReconstructS5LocalMatch(t *testing.T) {
	content := []byte("local!")
	digest := md5hash.SumBytes(content)

	localDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(localDir, "f.bin"), content, 0o644); err != nil {
		t.Fatalf("seed local file: %v", err)
	}

	img, err := imagelayout.Open(filepath.Join(t.TempDir(), "image.bin"), uint64(len(content)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img.Close()

	manifest := &resolver.Manifest{
		Files: []*resolver.FileRef{
			{MD5: digest, RelativePath: "f.bin", ServerRef: "Main"},
		},
		Servers: map[string]*resolver.Server{
			"Main": {Name: "Main", LocalDirs: []string{localDir}},
		},
	}
	if err := resolver.Load(manifest); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fetcher := newStubFetcher() // will be called with a file:// URL

	table := singleFileTable(uint64(len(content)), digest)
	r := New(img, manifest, table, fetcher, WithPollInterval(0))

	// The stub fetcher only serves URLs explicitly registered; register
	// the expected file:// URL so the local-path hand-off is exercised
	// all the way through the worker's normal fetch-and-verify path.
	localURL := "file://" + filepath.ToSlash(filepath.Join(localDir, "f.bin"))
	fetcher.byURL[localURL] = content

	ok, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Error("expected whole-image md5 to verify via local match")
	}
}
