package sdruntime

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fingerprint is the SHA-256 digest of an artifact's contents. Component
// weights are derived from it.
type Fingerprint [sha256.Size]byte

// ArtifactStore resolves artifact references to files under a root
// directory and memoises their fingerprints.
type ArtifactStore struct {
	root  string
	token string

	mu    sync.Mutex
	cache map[string]cachedFingerprint
}

type cachedFingerprint struct {
	size    int64
	modTime time.Time
	fp      Fingerprint
}

// NewArtifactStore returns a store rooted at dir. token is the access token
// presented for gated artifacts; an empty token makes every load fail.
func NewArtifactStore(dir, token string) *ArtifactStore {
	return &ArtifactStore{
		root:  dir,
		token: strings.TrimSpace(token),
		cache: make(map[string]cachedFingerprint),
	}
}

// Root returns the store directory.
func (s *ArtifactStore) Root() string { return s.root }

// Path maps ref to its location on disk without checking existence.
// Absolute and "./"-relative refs are used as given.
func (s *ArtifactStore) Path(ref string) string {
	if filepath.IsAbs(ref) || strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") {
		return filepath.Clean(ref)
	}
	return filepath.Join(s.root, filepath.FromSlash(ref))
}

// Fingerprint hashes the artifact behind ref. Directories hash every
// regular file in lexical path order, including the relative names.
func (s *ArtifactStore) Fingerprint(ref string) (Fingerprint, error) {
	if s.token == "" {
		return Fingerprint{}, fmt.Errorf("%w: cannot load %q", ErrMissingCredential, ref)
	}

	path := s.Path(ref)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fingerprint{}, fmt.Errorf("%w: %s (looked in %s)", ErrArtifactNotFound, ref, path)
		}
		return Fingerprint{}, fmt.Errorf("sdruntime: stat %s: %w", path, err)
	}

	s.mu.Lock()
	if c, ok := s.cache[path]; ok && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
		s.mu.Unlock()
		return c.fp, nil
	}
	s.mu.Unlock()

	var fp Fingerprint
	if info.IsDir() {
		fp, err = hashDir(path)
	} else {
		fp, err = hashFile(path)
	}
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%s: %w", ref, err)
	}

	s.mu.Lock()
	s.cache[path] = cachedFingerprint{size: info.Size(), modTime: info.ModTime(), fp: fp}
	s.mu.Unlock()
	return fp, nil
}

func hashFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Fingerprint{}, err
	}
	if n == 0 {
		return Fingerprint{}, ErrEmptyArtifact
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp, nil
}

func hashDir(root string) (Fingerprint, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return Fingerprint{}, err
	}
	if len(files) == 0 {
		return Fingerprint{}, ErrEmptyArtifact
	}
	sort.Strings(files)

	h := sha256.New()
	for _, p := range files {
		rel, _ := filepath.Rel(root, p)
		fp, err := hashFile(p)
		if err != nil && err != ErrEmptyArtifact {
			return Fingerprint{}, err
		}
		h.Write([]byte(filepath.ToSlash(rel)))
		h.Write(fp[:])
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp, nil
}
