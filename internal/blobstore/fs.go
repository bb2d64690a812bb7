package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/medvied/mze/internal/models"
)

// staleTempAge is how old a temp file must be before fsck reports it.
const staleTempAge = time.Hour

// FSStore implements Storage on a flat directory: each blob is the regular
// file <root>/<blob-id>. Writes are staged in hidden temp files and
// published with a hard link so a blob name never refers to partial content.
//
// Config: {"path": "<dir>"}.
type FSStore struct {
	mu   sync.RWMutex
	root string
}

// NewFSStore returns an unbound filesystem engine.
func NewFSStore() *FSStore {
	return &FSStore{}
}

var (
	_ Storage     = (*FSStore)(nil)
	_ TempSweeper = (*FSStore)(nil)
)

// Root returns the bound directory, or "" when unbound.
func (s *FSStore) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

func (s *FSStore) bound() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.root == "" {
		return "", ErrNotInitialized
	}
	return s.root, nil
}

// Init binds the engine to an existing directory.
func (s *FSStore) Init(_ context.Context, cfg Config) error {
	root, err := cfg.String("path")
	if err != nil {
		return err
	}
	fi, err := os.Stat(root)
	if os.IsNotExist(err) {
		return fmt.Errorf("init %s: %w", root, ErrNoStore)
	}
	if err != nil {
		return fmt.Errorf("init %s: %w", root, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrConfig, root)
	}

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
	return nil
}

// Fini unbinds the engine.
func (s *FSStore) Fini(_ context.Context) error {
	s.mu.Lock()
	s.root = ""
	s.mu.Unlock()
	return nil
}

// Create makes the blob directory, including missing parents, and binds to it.
func (s *FSStore) Create(_ context.Context, cfg Config) error {
	root, err := cfg.String("path")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(root), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", root, err)
	}
	if err := os.Mkdir(root, 0755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("create %s: %w", root, ErrAlreadyExists)
		}
		return fmt.Errorf("create %s: %w", root, err)
	}

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
	return nil
}

// Destroy removes the blob directory. Stale temp files do not count as blobs.
func (s *FSStore) Destroy(_ context.Context) error {
	root, err := s.bound()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("destroy %s: %w", root, err)
	}
	var temps []string
	for _, e := range entries {
		if !IsTempName(e.Name()) {
			return fmt.Errorf("destroy %s: %w", root, ErrNotEmpty)
		}
		temps = append(temps, e.Name())
	}
	for _, name := range temps {
		if err := os.Remove(filepath.Join(root, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove temp file %s: %w", name, err)
		}
	}
	if err := os.Remove(root); err != nil {
		return fmt.Errorf("destroy %s: %w", root, err)
	}

	s.mu.Lock()
	s.root = ""
	s.mu.Unlock()
	return nil
}

// Get returns file references to the stored blobs.
func (s *FSStore) Get(ctx context.Context, ids []models.BlobID) ([]*models.BlobData, error) {
	root, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobData, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := filepath.Join(root, id.String())
		fi, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get blob %s: %w", id, err)
		}
		if !fi.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: blob %s is not a regular file", ErrConsistency, id)
		}
		data := models.FileData(p)
		out[i] = &data
	}
	return out, nil
}

// Put stages each payload in a temp file and links it to the blob name.
func (s *FSStore) Put(ctx context.Context, entries []models.PutEntry) ([]models.IDInfo, error) {
	root, err := s.bound()
	if err != nil {
		return nil, err
	}
	if err := ValidatePut(entries); err != nil {
		return nil, err
	}
	out := make([]models.IDInfo, 0, len(entries))
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		id := resolveID(e)
		info, err := s.putOne(root, id, e.Data)
		if err != nil {
			return out, fmt.Errorf("put entry %d (%s): %w", i, id, err)
		}
		out = append(out, models.IDInfo{ID: id, Info: info})
	}
	return out, nil
}

func (s *FSStore) putOne(root string, id models.BlobID, data models.BlobData) (*models.BlobInfo, error) {
	dst := filepath.Join(root, id.String())
	if _, err := os.Lstat(dst); err == nil {
		return nil, ErrAlreadyExists
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat blob: %w", err)
	}

	tmp := filepath.Join(root, TempName(id.String()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp)

	src, err := data.Open()
	if err != nil {
		f.Close()
		return nil, err
	}
	n, err := io.Copy(f, src)
	src.Close()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("write blob data: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	// Link fails if another writer published the same id in the meantime.
	if err := os.Link(tmp, dst); err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("publish blob: %w", err)
	}

	fi, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("stat written blob: %w", err)
	}
	if fi.Size() != n {
		return nil, fmt.Errorf("%w: wrote %d bytes, stored blob has %d", ErrConsistency, n, fi.Size())
	}
	return &models.BlobInfo{Size: fi.Size()}, nil
}

// Head stats each blob.
func (s *FSStore) Head(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	root, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobInfo, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := statBlob(root, id)
		if err != nil {
			return nil, err
		}
		out[i] = info
	}
	return out, nil
}

func statBlob(root string, id models.BlobID) (*models.BlobInfo, error) {
	fi, err := os.Stat(filepath.Join(root, id.String()))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat blob %s: %w", id, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: blob %s is not a regular file", ErrConsistency, id)
	}
	return &models.BlobInfo{Size: fi.Size()}, nil
}

// Catalog lists the blob directory. Any name other than a blob id or an
// engine temp file is a consistency error.
func (s *FSStore) Catalog(ctx context.Context) ([]models.IDInfo, error) {
	root, err := s.bound()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	out := make([]models.IDInfo, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if IsTempName(name) {
			continue
		}
		id, err := models.ParseBlobID(name)
		if err != nil {
			return nil, fmt.Errorf("%w: unexpected entry %q in %s", ErrConsistency, name, root)
		}
		if !e.Type().IsRegular() {
			return nil, fmt.Errorf("%w: blob %s is not a regular file", ErrConsistency, name)
		}
		fi, err := e.Info()
		if os.IsNotExist(err) {
			// deleted after ReadDir
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat blob %s: %w", name, err)
		}
		out = append(out, models.IDInfo{ID: id, Info: &models.BlobInfo{Size: fi.Size()}})
	}
	return out, nil
}

// Delete removes each blob, returning its prior info.
func (s *FSStore) Delete(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	root, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobInfo, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		info, err := statBlob(root, id)
		if err != nil {
			return out, fmt.Errorf("delete entry %d: %w", i, err)
		}
		if info == nil {
			continue
		}
		if err := os.Remove(filepath.Join(root, id.String())); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return out, fmt.Errorf("delete blob %s: %w", id, err)
		}
		out[i] = info
	}
	return out, nil
}

// Fsck reports malformed names, non-regular entries and stale temp files.
func (s *FSStore) Fsck(ctx context.Context) error {
	root, err := s.bound()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("fsck %s: %w", root, err)
	}
	var findings Findings
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		if IsTempName(name) {
			if fi, err := e.Info(); err == nil && time.Since(fi.ModTime()) > staleTempAge {
				findings.Addf("stale temp file %q", name)
			}
			continue
		}
		if _, err := models.ParseBlobID(name); err != nil {
			findings.Addf("malformed name %q", name)
			continue
		}
		if !e.Type().IsRegular() {
			findings.Addf("blob %s is not a regular file", name)
		}
	}
	return findings.Err()
}

// SweepTemps removes temp files left behind by interrupted puts.
func (s *FSStore) SweepTemps(ctx context.Context, olderThan time.Duration) (int, error) {
	root, err := s.bound()
	if err != nil {
		return 0, err
	}
	return SweepDir(ctx, root, olderThan)
}

// SweepDir removes engine temp files in dir older than olderThan.
func SweepDir(ctx context.Context, dir string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !IsTempName(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove temp file %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
