// Package resolver implements the content-addressed MirrorResolver: an
// MD5-keyed index of component files and the logic that picks a download
// source among a file's server's advertised mirrors.
package resolver

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jigimage/jigimage/pkg/jigerr"
	"github.com/jigimage/jigimage/pkg/md5hash"
)

// FileRef is one manifest-supplied component file description. Multiple
// FileRefs may share the same MD5; the resolver returns all of them.
type FileRef struct {
	MD5          md5hash.Digest
	RelativePath string
	ServerRef    string

	// LocalDir is set once ResolveLocal finds a matching local copy; it is
	// the absolute directory (one of the server's LocalDirs) to read from.
	LocalDir string
}

// Server is a named grouping of mirrors: zero or more remote URLs and zero
// or more local directories, searched in order by ResolveLocal.
type Server struct {
	Name          string
	RemoteMirrors []string
	LocalDirs     []string
}

// Manifest is the external, already-parsed manifest value the core
// consumes (produced by the out-of-scope .jigdo textual parser). Files must
// be sorted by MD5 before being handed to the resolver; Load enforces this.
type Manifest struct {
	ImageFilename    string
	TemplateFilename string
	TemplateMD5      md5hash.Digest

	Files   []*FileRef
	Servers map[string]*Server
}

// Load sorts m.Files by MD5 so FindByMD5 can binary search it, and
// validates that every FileRef's ServerRef resolves to a known Server.
func Load(m *Manifest) error {
	sort.SliceStable(m.Files, func(i, j int) bool {
		return m.Files[i].MD5.Compare(m.Files[j].MD5) < 0
	})

	for _, f := range m.Files {
		if _, ok := m.Servers[f.ServerRef]; !ok {
			return jigerr.New(jigerr.Format, "resolver.Load",
				fmt.Errorf("file %s references unknown server %q", f.RelativePath, f.ServerRef))
		}
	}
	return nil
}

// FindByMD5 binary searches the sorted Files slice for every entry whose
// MD5 matches, returning an empty slice on no match. Duplicates are
// returned in their original relative order.
func FindByMD5(m *Manifest, digest md5hash.Digest) []*FileRef {
	n := len(m.Files)
	lo := sort.Search(n, func(i int) bool {
		return m.Files[i].MD5.Compare(digest) >= 0
	})
	if lo == n || !m.Files[lo].MD5.Equal(digest) {
		return nil
	}
	hi := lo
	for hi < n && m.Files[hi].MD5.Equal(digest) {
		hi++
	}
	return m.Files[lo:hi]
}

// ResolveLocal iterates ref's server's local directories in order and
// returns the first one whose candidate file exists and hashes to ref.MD5.
// Returns "", nil if no local directory has a matching copy.
func ResolveLocal(m *Manifest, ref *FileRef) (string, error) {
	server, ok := m.Servers[ref.ServerRef]
	if !ok {
		return "", jigerr.New(jigerr.Resolver, "resolver.ResolveLocal",
			fmt.Errorf("unknown server %q", ref.ServerRef))
	}

	for _, dir := range server.LocalDirs {
		candidate := filepath.Join(dir, ref.RelativePath)
		f, err := os.Open(candidate)
		if err != nil {
			continue
		}
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			continue
		}
		digest := md5hash.SumReaderAt(f, 0, info.Size())
		f.Close()
		if digest.Equal(ref.MD5) {
			return dir, nil
		}
	}
	return "", nil
}

// SelectSource returns a URL to fetch ref from: the local path (as a
// file:// URL) if LocalDir is set, otherwise a uniformly random choice
// among the server's remote mirrors. No weighted prioritization or
// blacklist is applied here; callers needing mirror exclusion (e.g. the
// scheduler's bounded-retry policy) pick from their own filtered mirror list
// and build the URI with JoinMirrorPath instead.
func SelectSource(m *Manifest, ref *FileRef, randIndex func(n int) int) (string, error) {
	if ref.LocalDir != "" {
		return fileURL(filepath.Join(ref.LocalDir, ref.RelativePath)), nil
	}

	server, ok := m.Servers[ref.ServerRef]
	if !ok {
		return "", jigerr.New(jigerr.Resolver, "resolver.SelectSource",
			fmt.Errorf("unknown server %q", ref.ServerRef))
	}
	if len(server.RemoteMirrors) == 0 {
		return "", jigerr.New(jigerr.Resolver, "resolver.SelectSource",
			fmt.Errorf("server %q has no remote mirrors and no local match for %s", server.Name, ref.RelativePath))
	}

	idx := randIndex(len(server.RemoteMirrors))
	return JoinMirrorPath(server.RemoteMirrors[idx], ref.RelativePath), nil
}

// JoinMirrorPath joins a mirror base (remote URL or local directory) with a
// file's relative path, independent of the default randIndex/local-dir
// path taken by SelectSource. Exported so the scheduler's mirror-exclusion
// retry logic can build the same URIs SelectSource would.
func JoinMirrorPath(mirrorBase, relativePath string) string {
	if strings.HasSuffix(mirrorBase, "/") {
		return mirrorBase + relativePath
	}
	return mirrorBase + "/" + relativePath
}

func fileURL(absPath string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(absPath)}).String()
}

// AddServerMirror implements the "Name=URL_or_path" runtime mirror-addition
// operation: if value parses as a local path or file:// URL it is
// canonicalized to an absolute path and appended to LocalDirs; otherwise it
// is appended to RemoteMirrors.
func AddServerMirror(m *Manifest, spec string) error {
	name, value, ok := strings.Cut(spec, "=")
	if !ok || name == "" || value == "" {
		return jigerr.New(jigerr.Format, "resolver.AddServerMirror",
			fmt.Errorf("expected Name=URL_or_path, got %q", spec))
	}

	server, ok := m.Servers[name]
	if !ok {
		return jigerr.New(jigerr.Format, "resolver.AddServerMirror",
			fmt.Errorf("unknown server %q", name))
	}

	if localPath, isLocal := asLocalPath(value); isLocal {
		abs, err := filepath.Abs(localPath)
		if err != nil {
			return jigerr.New(jigerr.IO, "resolver.AddServerMirror", err)
		}
		server.LocalDirs = append(server.LocalDirs, abs)
		return nil
	}

	server.RemoteMirrors = append(server.RemoteMirrors, value)
	return nil
}

// asLocalPath reports whether value names a local filesystem path: either a
// bare path (no recognized URL scheme) or an explicit file:// URL.
func asLocalPath(value string) (string, bool) {
	u, err := url.Parse(value)
	if err != nil {
		return value, true
	}
	switch u.Scheme {
	case "":
		return value, true
	case "file":
		return u.Path, true
	default:
		return "", false
	}
}
