// Package recordstore stores versioned records in a directory tree:
// <root>/<record-id>/<number>-<version-id>. Versions are append-only and
// numbered contiguously from 0.
package recordstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
)

var (
	// ErrRecordNotFound is returned when a record has no versions.
	ErrRecordNotFound = fmt.Errorf("record %w", blobstore.ErrNotFound)

	// ErrVersionNotFound is returned when a record lacks the requested version.
	ErrVersionNotFound = fmt.Errorf("version %w", blobstore.ErrNotFound)
)

// Store is a versioned-record engine rooted at a directory.
type Store struct {
	root  string
	locks *keyedLocker
}

// New opens the record directory, creating it if missing.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create record root: %w", err)
	}
	return &Store{root: root, locks: newKeyedLocker()}, nil
}

// Root returns the record directory.
func (s *Store) Root() string { return s.root }

func (s *Store) recordDir(record uuid.UUID) string {
	return filepath.Join(s.root, record.String())
}

// allVersions parses every version name in dir, ordered by number. Temp files
// are skipped. Duplicate numbers or a gap in 0..n-1 are consistency errors.
func allVersions(dir string) ([]models.Version, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	versions := make([]models.Version, 0, len(entries))
	for _, e := range entries {
		if blobstore.IsTempName(e.Name()) {
			continue
		}
		v, err := models.ParseVersionName(e.Name())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", blobstore.ErrConsistency, dir, err)
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Number < versions[j].Number })
	for i, v := range versions {
		if v.Number != i {
			if i > 0 && versions[i-1].Number == v.Number {
				return nil, fmt.Errorf("%w: %s: duplicate version number %d", blobstore.ErrConsistency, dir, v.Number)
			}
			return nil, fmt.Errorf("%w: %s: version numbers are not contiguous from 0 (missing %d)", blobstore.ErrConsistency, dir, i)
		}
	}
	return versions, nil
}

// Versions returns the versions of record ordered by number. A missing record
// has no versions.
func (s *Store) Versions(_ context.Context, record uuid.UUID) ([]models.Version, error) {
	return allVersions(s.recordDir(record))
}

// Records enumerates record ids.
func (s *Store) Records(_ context.Context) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}
	records := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		id, err := models.ParseUUID(e.Name())
		if err != nil || !e.IsDir() {
			return nil, fmt.Errorf("%w: unexpected entry %q in %s", blobstore.ErrConsistency, e.Name(), s.root)
		}
		records = append(records, id)
	}
	return records, nil
}

// Put appends a new version to record with the content of body. Puts to the
// same record are serialized; a failed or cancelled upload leaves no version.
func (s *Store) Put(ctx context.Context, record uuid.UUID, body io.Reader) (models.Version, error) {
	unlock := s.locks.Lock(record)
	defer unlock()

	dir := s.recordDir(record)
	if err := os.Mkdir(dir, 0755); err != nil && !os.IsExist(err) {
		return models.Version{}, fmt.Errorf("create record %s: %w", record, err)
	}
	versions, err := allVersions(dir)
	if err != nil {
		return models.Version{}, err
	}
	v := models.Version{Number: len(versions), ID: uuid.New()}

	tmp := filepath.Join(dir, blobstore.TempName(v.Name()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return models.Version{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(f, ctxReader{ctx: ctx, r: body}); err != nil {
		f.Close()
		return models.Version{}, fmt.Errorf("write version of record %s: %w", record, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return models.Version{}, fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return models.Version{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Link(tmp, filepath.Join(dir, v.Name())); err != nil {
		if os.IsExist(err) {
			return models.Version{}, fmt.Errorf("publish version %s: %w", v.Name(), blobstore.ErrAlreadyExists)
		}
		return models.Version{}, fmt.Errorf("publish version %s: %w", v.Name(), err)
	}
	return v, nil
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Open returns the content of one version of record: the given version, or
// the latest when version is nil. The caller closes the file.
func (s *Store) Open(_ context.Context, record uuid.UUID, version *uuid.UUID) (*os.File, models.Version, error) {
	versions, err := allVersions(s.recordDir(record))
	if err != nil {
		return nil, models.Version{}, err
	}
	if len(versions) == 0 {
		return nil, models.Version{}, fmt.Errorf("%s: %w", record, ErrRecordNotFound)
	}
	v := versions[len(versions)-1]
	if version != nil {
		found := false
		for _, cand := range versions {
			if cand.ID == *version {
				v, found = cand, true
				break
			}
		}
		if !found {
			return nil, models.Version{}, fmt.Errorf("record %s version %s: %w", record, version, ErrVersionNotFound)
		}
	}
	f, err := os.Open(filepath.Join(s.recordDir(record), v.Name()))
	if err != nil {
		return nil, models.Version{}, fmt.Errorf("open version %s: %w", v.Name(), err)
	}
	return f, v, nil
}

// List answers a listing query. Records without matching versions are left
// out of record-specific queries; every version list is non-nil.
func (s *Store) List(ctx context.Context, q models.ListQuery) (models.Listing, error) {
	out := models.Listing{}
	if q.Record == nil {
		if q.Version != nil {
			return nil, fmt.Errorf("%w: listing a specific version requires a record", blobstore.ErrValidation)
		}
		records, err := s.Records(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			ids := []uuid.UUID{}
			if q.AllVersions {
				versions, err := s.Versions(ctx, r)
				if err != nil {
					return nil, err
				}
				ids = versionIDs(versions)
			}
			out[r] = ids
		}
		return out, nil
	}

	versions, err := s.Versions(ctx, *q.Record)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return out, nil
	}
	switch {
	case q.AllVersions:
		out[*q.Record] = versionIDs(versions)
	case q.Version != nil:
		for _, v := range versions {
			if v.ID == *q.Version {
				out[*q.Record] = []uuid.UUID{v.ID}
			}
		}
	default:
		out[*q.Record] = []uuid.UUID{versions[len(versions)-1].ID}
	}
	return out, nil
}

func versionIDs(versions []models.Version) []uuid.UUID {
	ids := make([]uuid.UUID, len(versions))
	for i, v := range versions {
		ids[i] = v.ID
	}
	return ids
}

// Fsck checks every record directory and reports all findings.
func (s *Store) Fsck(_ context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("fsck %s: %w", s.root, err)
	}
	var findings blobstore.Findings
	for _, e := range entries {
		if _, err := models.ParseUUID(e.Name()); err != nil || !e.IsDir() {
			findings.Addf("unexpected entry %q", e.Name())
			continue
		}
		if _, err := allVersions(filepath.Join(s.root, e.Name())); err != nil {
			findings.Addf("record %s: %v", e.Name(), err)
		}
	}
	return findings.Err()
}

// SweepTemps removes upload temp files older than olderThan from every record.
func (s *Store) SweepTemps(ctx context.Context, olderThan time.Duration) (int, error) {
	records, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", s.root, err)
	}
	total := 0
	for _, e := range records {
		if !e.IsDir() {
			continue
		}
		n, err := blobstore.SweepDir(ctx, filepath.Join(s.root, e.Name()), olderThan)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

var _ blobstore.TempSweeper = (*Store)(nil)
