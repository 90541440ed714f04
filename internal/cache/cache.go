// Package cache keeps the last fetched leads and sequences on disk so the
// dashboard can show them before the first refresh completes.
package cache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/followup/internal/api"
)

var (
	bucketLeads     = []byte("leads")
	bucketSequences = []byte("sequences")
	bucketMeta      = []byte("meta")
)

// BoltCache stores snapshots in BoltDB
type BoltCache struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the cache database
func Open(path string) (*BoltCache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLeads, bucketSequences, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCache{db: db, now: time.Now}, nil
}

// Close closes the database
func (c *BoltCache) Close() error {
	return c.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// replaceBucket swaps the contents of bucket for records, keyed by id
func replaceBucket[T any](tx *bolt.Tx, bucket []byte, records []T, id func(T) int64) error {
	if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
		return fmt.Errorf("failed to clear bucket %s: %w", bucket, err)
	}
	b, err := tx.CreateBucket(bucket)
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := b.Put(itob(id(r)), data); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
	}
	return nil
}

// loadBucket returns every record in bucket in key order
func loadBucket[T any](tx *bolt.Tx, bucket []byte) ([]T, error) {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil, nil
	}
	var out []T
	err := b.ForEach(func(k, v []byte) error {
		var r T
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (c *BoltCache) stamp(tx *bolt.Tx, key string) error {
	ts, err := c.now().UTC().MarshalText()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMeta).Put([]byte(key), ts)
}

// SaveLeads replaces the cached lead snapshot
func (c *BoltCache) SaveLeads(leads []api.Lead) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := replaceBucket(tx, bucketLeads, leads, func(l api.Lead) int64 { return l.ID }); err != nil {
			return err
		}
		return c.stamp(tx, "leads_saved_at")
	})
}

// LoadLeads returns the cached lead snapshot ordered by id
func (c *BoltCache) LoadLeads() ([]api.Lead, error) {
	var leads []api.Lead
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		leads, err = loadBucket[api.Lead](tx, bucketLeads)
		return err
	})
	return leads, err
}

// SaveSequences replaces the cached sequence snapshot
func (c *BoltCache) SaveSequences(seqs []api.Sequence) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := replaceBucket(tx, bucketSequences, seqs, func(s api.Sequence) int64 { return s.ID }); err != nil {
			return err
		}
		return c.stamp(tx, "sequences_saved_at")
	})
}

// LoadSequences returns the cached sequence snapshot ordered by id
func (c *BoltCache) LoadSequences() ([]api.Sequence, error) {
	var seqs []api.Sequence
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		seqs, err = loadBucket[api.Sequence](tx, bucketSequences)
		return err
	})
	return seqs, err
}

// SavedAt returns when the leads snapshot was written, or the zero time
func (c *BoltCache) SavedAt() time.Time {
	var t time.Time
	c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get([]byte("leads_saved_at")); v != nil {
			t.UnmarshalText(v)
		}
		return nil
	})
	return t
}

// Clear drops every snapshot. Called on logout so the next account never
// sees the previous one's pipeline.
func (c *BoltCache) Clear() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLeads, bucketSequences, bucketMeta} {
			if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("failed to clear bucket %s: %w", bucket, err)
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}
