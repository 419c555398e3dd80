// Package localstore is the device-local side of the sync engine: a cache of
// last known values and a durable queue of writes awaiting delivery, both kept
// in one bbolt file.
package localstore

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	cacheBucket = []byte("cache")
	queueBucket = []byte("queue")
	deadBucket  = []byte("dead_letter")
)

// DB owns the bbolt file shared by Cache and Queue.
type DB struct {
	bolt *bbolt.DB
}

func Open(path string) (*DB, error) {
	b, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open local store %s: %w", path, err)
	}
	err = b.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{cacheBucket, queueBucket, deadBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("init local store buckets: %w", err)
	}
	return &DB{bolt: b}, nil
}

func (db *DB) Close() error {
	return db.bolt.Close()
}
