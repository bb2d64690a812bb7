package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/models"
	bolt "go.etcd.io/bbolt"
)

var bucketBlobs = []byte("blobs")

// BoltStore implements Storage on a single bbolt file. Keys are the 16 raw
// bytes of the blob id. Put and Delete batches run in one transaction.
//
// Config: {"path": "<file>"}.
type BoltStore struct {
	mu   sync.RWMutex
	db   *bolt.DB
	path string
}

// NewBoltStore returns an unbound bbolt engine.
func NewBoltStore() *BoltStore {
	return &BoltStore{}
}

var _ Storage = (*BoltStore)(nil)

func openBolt(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open blob database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlobs); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketBlobs, err)
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *BoltStore) bind(db *bolt.DB, path string) {
	s.mu.Lock()
	old := s.db
	s.db, s.path = db, path
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *BoltStore) bound() (*bolt.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// Init opens an existing database file.
func (s *BoltStore) Init(_ context.Context, cfg Config) error {
	path, err := cfg.String("path")
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("init %s: %w", path, ErrNoStore)
		}
		return fmt.Errorf("init %s: %w", path, err)
	}
	db, err := openBolt(path)
	if err != nil {
		return err
	}
	s.bind(db, path)
	return nil
}

// Fini closes the database.
func (s *BoltStore) Fini(_ context.Context) error {
	s.mu.Lock()
	db := s.db
	s.db, s.path = nil, ""
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

// Create makes a new database file.
func (s *BoltStore) Create(_ context.Context, cfg Config) error {
	path, err := cfg.String("path")
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create %s: %w", path, ErrAlreadyExists)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create blob database directory: %w", err)
		}
	}
	db, err := openBolt(path)
	if err != nil {
		return err
	}
	s.bind(db, path)
	return nil
}

// Destroy removes the database file once it holds no blobs.
func (s *BoltStore) Destroy(ctx context.Context) error {
	db, err := s.bound()
	if err != nil {
		return err
	}
	var empty bool
	if err := db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketBlobs).Cursor().First()
		empty = k == nil
		return nil
	}); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	if !empty {
		return fmt.Errorf("destroy %s: %w", db.Path(), ErrNotEmpty)
	}
	path := db.Path()
	if err := s.Fini(ctx); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("destroy %s: %w", path, err)
	}
	return nil
}

func blobKey(id models.BlobID) []byte {
	k := id.UUID
	return k[:]
}

// lookup distinguishes a missing key from an empty value.
func lookup(b *bolt.Bucket, key []byte) ([]byte, bool) {
	k, v := b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}

// Get copies each stored value into inline data.
func (s *BoltStore) Get(_ context.Context, ids []models.BlobID) ([]*models.BlobData, error) {
	db, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobData, len(ids))
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		for i, id := range ids {
			v, ok := lookup(b, blobKey(id))
			if !ok {
				continue
			}
			data := models.InlineData(append([]byte{}, v...))
			out[i] = &data
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get blobs: %w", err)
	}
	return out, nil
}

// Put stores the batch in one transaction.
func (s *BoltStore) Put(ctx context.Context, entries []models.PutEntry) ([]models.IDInfo, error) {
	db, err := s.bound()
	if err != nil {
		return nil, err
	}
	if err := ValidatePut(entries); err != nil {
		return nil, err
	}
	out := make([]models.IDInfo, 0, len(entries))
	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		for i, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := resolveID(e)
			key := blobKey(id)
			if _, ok := lookup(b, key); ok {
				return fmt.Errorf("put entry %d (%s): %w", i, id, ErrAlreadyExists)
			}
			data, err := e.Data.Bytes()
			if err != nil {
				return fmt.Errorf("put entry %d (%s): %w", i, id, err)
			}
			if err := b.Put(key, data); err != nil {
				return fmt.Errorf("put entry %d (%s): %w", i, id, err)
			}
			out = append(out, models.IDInfo{ID: id, Info: &models.BlobInfo{Size: int64(len(data))}})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Head returns the stored value lengths.
func (s *BoltStore) Head(_ context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	db, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobInfo, len(ids))
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		for i, id := range ids {
			if v, ok := lookup(b, blobKey(id)); ok {
				out[i] = &models.BlobInfo{Size: int64(len(v))}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("head blobs: %w", err)
	}
	return out, nil
}

// Catalog walks the bucket. A key that is not a 16 byte id is a consistency error.
func (s *BoltStore) Catalog(_ context.Context) ([]models.IDInfo, error) {
	db, err := s.bound()
	if err != nil {
		return nil, err
	}
	var out []models.IDInfo
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).ForEach(func(k, v []byte) error {
			u, err := uuid.FromBytes(k)
			if err != nil {
				return fmt.Errorf("%w: malformed key %x", ErrConsistency, k)
			}
			out = append(out, models.IDInfo{ID: models.BlobID{UUID: u}, Info: &models.BlobInfo{Size: int64(len(v))}})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.IDInfo{}
	}
	return out, nil
}

// Delete removes the batch in one transaction.
func (s *BoltStore) Delete(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	db, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobInfo, len(ids))
	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := blobKey(id)
			v, ok := lookup(b, key)
			if !ok {
				continue
			}
			out[i] = &models.BlobInfo{Size: int64(len(v))}
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("delete entry %d (%s): %w", i, id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fsck runs the bbolt page check and validates every key.
func (s *BoltStore) Fsck(_ context.Context) error {
	db, err := s.bound()
	if err != nil {
		return err
	}
	var findings Findings
	err = db.View(func(tx *bolt.Tx) error {
		for err := range tx.Check() {
			findings.Addf("database: %v", err)
		}
		return tx.Bucket(bucketBlobs).ForEach(func(k, v []byte) error {
			if len(k) != 16 {
				findings.Addf("malformed key %x", k)
			}
			if v == nil {
				findings.Addf("key %x is a nested bucket", k)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("fsck: %w", err)
	}
	return findings.Err()
}
