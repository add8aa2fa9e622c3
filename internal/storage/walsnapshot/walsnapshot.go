// Package walsnapshot gives MemoryStorage a best-effort warm restart: every
// snapshot interval it serializes the in-memory queues to a local boltdb
// file, and on startup a builder can reload the most recent snapshot
// instead of starting from an empty queue. It is not a replacement for
// RedisStorage's shared durability; a crash between snapshots still loses
// the requests accepted since the last write.
package walsnapshot

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"go.uber.org/zap"
)

var bucketName = []byte("block_builder_snapshot")

// Snapshotter periodically persists a caller-supplied state value to a
// boltdb file and can reload the most recent one.
type Snapshotter struct {
	db  *bolt.DB
	log *zap.SugaredLogger
}

// Open opens (creating if needed) the boltdb file at path.
func Open(path string, log *zap.SugaredLogger) (*Snapshotter, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("walsnapshot: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("walsnapshot: create bucket: %w", err)
	}
	return &Snapshotter{db: db, log: log.Named("storage.walsnapshot")}, nil
}

func (s *Snapshotter) Close() error { return s.db.Close() }

// Save writes state under key, overwriting any prior snapshot with the
// same key (cmd/block-builder stores its whole storage.Snapshot under a
// single key).
func (s *Snapshotter) Save(key string, state any) error {
	buf, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("walsnapshot: marshal %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), buf)
	})
}

// Load reads the most recent snapshot for key into out. It reports
// whether a snapshot existed.
func (s *Snapshotter) Load(key string, out any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, out)
	})
	if err != nil {
		return false, fmt.Errorf("walsnapshot: load %s: %w", key, err)
	}
	return found, nil
}

// Run periodically calls snapshot() until stop is closed.
func (s *Snapshotter) Run(interval time.Duration, stop <-chan struct{}, snapshot func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := snapshot(); err != nil {
				s.log.Errorw("snapshot failed", "error", err)
			}
		}
	}
}
