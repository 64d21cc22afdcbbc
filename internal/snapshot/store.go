// Package snapshot implements C6: content-addressed, append-only, on-disk
// pre-image backups of file bytes, keyed by transaction.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
)

// ErrNotFound is returned when no snapshot exists for a (txID, path) pair.
var ErrNotFound = errors.New("snapshot: not found")

// None is the sentinel recorded for "this path did not exist before the
// transaction began"; restoring it means delete.
const None = ""

type cacheKey struct {
	txID string
	path string
}

// Store is a per-workspace, append-only snapshot directory, fronted by a
// bounded read-through LRU cache so a transaction's repeated backup/rollback
// cycle over the same path doesn't keep re-reading disk.
type Store struct {
	root                string
	compressionOn       bool
	compressionMinBytes int
	cache               *lru.Cache[cacheKey, []byte]
	encoder             *zstd.Encoder
	decoder             *zstd.Decoder
}

// New creates a Store rooted at dir (created if necessary). cacheSize bounds
// the number of (txID, path) byte blobs kept in memory.
func New(dir string, compressionOn bool, compressionMinBytes, cacheSize int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("snapshot: creating store dir: %w", err)
	}
	c, err := lru.New[cacheKey, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("snapshot: creating cache: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: creating zstd decoder: %w", err)
	}
	return &Store{
		root:                dir,
		compressionOn:       compressionOn,
		compressionMinBytes: compressionMinBytes,
		cache:               c,
		encoder:             enc,
		decoder:             dec,
	}, nil
}

func (s *Store) pathFor(txID, path string) string {
	hash := pathHash(path)
	return filepath.Join(s.root, txID, hash+".bak")
}

// Put stores bytes for (txID, path). A write-then-rename pattern guarantees
// a crash mid-write never leaves a corrupt snapshot referenced by the
// journal. An empty path marker (IsNone) records "did not exist".
func (s *Store) Put(txID, path string, data []byte, isNone bool) error {
	if isNone {
		s.cache.Add(cacheKey{txID, path}, nil)
		return s.putNoneMeta(txID, path)
	}

	payload := data
	compressed := false
	if s.compressionOn && len(data) >= s.compressionMinBytes {
		payload = s.encoder.EncodeAll(data, nil)
		compressed = true
	}

	dest := s.pathFor(txID, path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("snapshot: creating tx dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "snap-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: renaming into place: %w", err)
	}

	s.cache.Add(cacheKey{txID, path}, data)
	return s.putMeta(txID, path, compressed)
}

// putMeta records whether dest is zstd-compressed or raw, in a tiny sidecar
// file (one byte) since the .bak extension alone can't disambiguate.
func (s *Store) putMeta(txID, path string, compressed bool) error {
	meta := s.pathFor(txID, path) + ".meta"
	if err := os.MkdirAll(filepath.Dir(meta), 0o750); err != nil {
		return err
	}
	tag := byte('r') // raw
	if compressed {
		tag = 'z'
	}
	return os.WriteFile(meta, []byte{tag}, 0o600)
}

// putNoneMeta records that path did not exist before the transaction began,
// using a reserved tag byte distinct from putMeta's raw/compressed tags.
func (s *Store) putNoneMeta(txID, path string) error {
	meta := s.pathFor(txID, path) + ".meta"
	if err := os.MkdirAll(filepath.Dir(meta), 0o750); err != nil {
		return err
	}
	return os.WriteFile(meta, []byte{0}, 0o600)
}

// Get retrieves the bytes previously stored for (txID, path). Returns
// ErrNotFound if nothing was ever stored.
func (s *Store) Get(txID, path string) ([]byte, bool, error) {
	if data, ok := s.cache.Get(cacheKey{txID, path}); ok {
		isNone, err := s.isNone(txID, path)
		if err != nil {
			return nil, false, err
		}
		return data, isNone, nil
	}

	meta := s.pathFor(txID, path) + ".meta"
	metaBytes, err := os.ReadFile(meta) //nolint:gosec // path derived from our own hash scheme
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("snapshot: reading meta: %w", err)
	}
	if len(metaBytes) == 0 {
		return nil, false, fmt.Errorf("snapshot: corrupt meta file %s", meta)
	}

	if metaBytes[0] == 0 {
		return nil, true, nil
	}

	raw, err := os.ReadFile(s.pathFor(txID, path)) //nolint:gosec // path derived from our own hash scheme
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("snapshot: reading snapshot: %w", err)
	}

	data := raw
	if metaBytes[0] == 'z' {
		decoded, err := s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, false, fmt.Errorf("snapshot: decompressing: %w", err)
		}
		data = decoded
	}

	s.cache.Add(cacheKey{txID, path}, data)
	return data, false, nil
}

func (s *Store) isNone(txID, path string) (bool, error) {
	meta := s.pathFor(txID, path) + ".meta"
	b, err := os.ReadFile(meta) //nolint:gosec // path derived from our own hash scheme
	if err != nil {
		return false, err
	}
	return len(b) > 0 && b[0] == 0, nil
}

// Forget deletes every snapshot and metadata file stored for txID, called on
// rollback (eagerly) and on journal eviction (lazily).
func (s *Store) Forget(txID string) error {
	dir := filepath.Join(s.root, txID)
	return os.RemoveAll(dir)
}

// pathHash is a short, filesystem-safe identifier derived from path so two
// different files in the same transaction never collide on disk.
func pathHash(path string) string {
	h := fnv64(path)
	return fmt.Sprintf("%016x", h)
}

func fnv64(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
