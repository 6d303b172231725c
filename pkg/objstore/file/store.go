// Package file implements objstore.Store over a local directory tree.
//
// Keys are slash-separated paths relative to BaseDir. The backend is used for
// offline agents and for tests.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/gospace/pkg/objstore"
)

// DefaultMaxKeys is the page size used when ListOptions.MaxKeys is zero.
const DefaultMaxKeys = 1000

// Store implements objstore.Store for local filesystem paths.
type Store struct {
	baseDir string
}

var _ objstore.Store = (*Store)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *Store) Close() error { return nil }

// List pages through keys in lexicographic order. The continuation token is
// the last key of the previous page.
func (s *Store) List(ctx context.Context, opts objstore.ListOptions) (*objstore.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	keys, err := s.collectKeys(prefix)
	if err != nil {
		return nil, s.wrapError("List", opts.Prefix, err)
	}
	sort.Strings(keys)

	start := 0
	if opts.ContinuationToken != "" {
		// Start strictly after the last returned key.
		idx := sort.SearchStrings(keys, opts.ContinuationToken)
		for idx < len(keys) && keys[idx] <= opts.ContinuationToken {
			idx++
		}
		start = idx
	}

	end := min(start+maxKeys, len(keys))

	objects := make([]objstore.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		full, err := s.fullPath(k)
		if err != nil {
			continue
		}
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			continue
		}
		objects = append(objects, objstore.ObjectSummary{Key: k, Size: st.Size(), LastModified: st.ModTime()})
	}

	res := &objstore.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

func (s *Store) Head(ctx context.Context, key string) (*objstore.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, &objstore.StoreError{Op: "Head", Backend: objstore.BackendFile, Bucket: s.baseDir, Key: key, Err: objstore.ErrNotFound}
	}

	return &objstore.ObjectMeta{
		ObjectSummary: objstore.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: st.Size(), LastModified: st.ModTime()},
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return nil, 0, s.wrapError("Get", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, s.wrapError("Get", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, s.wrapError("Get", key, err)
	}
	return f, st.Size(), nil
}

// Put writes through a temp file and renames it into place so readers never
// observe a partial object.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_ = contentLength
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return s.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "gospace-put-*")
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return s.wrapError("Delete", key, err)
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return s.wrapError("Delete", key, err)
	}
	return nil
}

func (s *Store) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	// Prevent path traversal.
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

// collectKeys walks the directory holding prefix and returns every key that
// starts with prefix. Prefixes need not end on a directory boundary.
func (s *Store) collectKeys(prefix string) ([]string, error) {
	dirPrefix := prefix
	if i := strings.LastIndex(dirPrefix, "/"); i >= 0 {
		dirPrefix = dirPrefix[:i]
	} else {
		dirPrefix = ""
	}
	root, err := s.fullPath(dirPrefix)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var keys []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip in-flight Put temp files.
		if strings.HasPrefix(d.Name(), "gospace-put-") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) wrapError(op, key string, err error) error {
	wrapped := &objstore.StoreError{Op: op, Backend: objstore.BackendFile, Bucket: s.baseDir, Key: key, Err: err}
	// Normalize common filesystem errors to store sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = objstore.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = objstore.ErrAccessDenied
	}
	return wrapped
}
