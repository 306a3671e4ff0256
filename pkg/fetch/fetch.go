// Package fetch implements the external Fetcher abstraction the worker
// pool calls into: a small interface plus a default HTTP/file-URL
// implementation with redirect following and a stall timeout.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jigimage/jigimage/pkg/jigerr"
)

// Fetcher streams the content addressed by rawURL directly into dst with
// no reallocation, reporting progress monotonically via onProgress (which
// may be nil). It returns the number of bytes written; a short read is an
// error, since dst is always sized to the exact expected content length.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, dst []byte, onProgress func(written int)) (int, error)
}

// StallTimeout is how long a single read may go without returning before
// the fetch is aborted. Only a read that stays idle this long trips it; no
// minimum transfer rate is enforced.
const StallTimeout = 60 * time.Second

// HTTPFetcher is the default Fetcher: it follows HTTP redirects via the
// standard client's default policy and supports file:// URLs through the
// same interface.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns an HTTPFetcher using http.DefaultClient.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: http.DefaultClient}
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Fetch dispatches to the file-URL or HTTP path based on rawURL's scheme.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, dst []byte, onProgress func(int)) (int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, jigerr.New(jigerr.Fetch, "fetch.Fetch", err)
	}

	switch u.Scheme {
	case "file", "":
		return fetchFile(u, dst, onProgress)
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL, dst, onProgress)
	default:
		return 0, jigerr.New(jigerr.Fetch, "fetch.Fetch",
			fmt.Errorf("unsupported URL scheme %q", u.Scheme))
	}
}

func fetchFile(u *url.URL, dst []byte, onProgress func(int)) (int, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, jigerr.New(jigerr.Fetch, "fetch.fetchFile", err)
	}
	defer f.Close()
	return readIntoWithStallGuard(f, dst, onProgress)
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, rawURL string, dst []byte, onProgress func(int)) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, jigerr.New(jigerr.Fetch, "fetch.fetchHTTP", err)
	}

	resp, err := f.client().Do(req)
	if err != nil {
		return 0, jigerr.New(jigerr.Fetch, "fetch.fetchHTTP", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, jigerr.New(jigerr.Fetch, "fetch.fetchHTTP",
			fmt.Errorf("unexpected status %s for %s", resp.Status, rawURL))
	}

	return readIntoWithStallGuard(resp.Body, dst, onProgress)
}

// readIntoWithStallGuard copies r into dst, failing the read if no forward
// progress is made within StallTimeout. dst must be sized to the exact
// expected content length: a short read is a FetchError.
func readIntoWithStallGuard(r io.Reader, dst []byte, onProgress func(int)) (int, error) {
	type readResult struct {
		n   int
		err error
	}

	written := 0
	for written < len(dst) {
		resultCh := make(chan readResult, 1)
		go func(buf []byte) {
			n, err := r.Read(buf)
			resultCh <- readResult{n, err}
		}(dst[written:])

		select {
		case res := <-resultCh:
			written += res.n
			if onProgress != nil && res.n > 0 {
				onProgress(written)
			}
			if res.err != nil {
				if res.err == io.EOF {
					if written < len(dst) {
						return written, jigerr.New(jigerr.Fetch, "fetch.readIntoWithStallGuard",
							fmt.Errorf("short read: got %d bytes, expected %d", written, len(dst)))
					}
					return written, nil
				}
				return written, jigerr.New(jigerr.Fetch, "fetch.readIntoWithStallGuard", res.err)
			}
		case <-time.After(StallTimeout):
			return written, jigerr.New(jigerr.Fetch, "fetch.readIntoWithStallGuard",
				fmt.Errorf("no progress for %s, aborting", StallTimeout))
		}
	}
	return written, nil
}
