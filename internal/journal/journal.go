// Package journal keeps a bbolt-backed log of index operations that failed
// during a flush, so they can be inspected and replayed later.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/wvsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

var bucketFailed = []byte("failed_operations")

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("journal entry not found")

// Entry is one failed operation
type Entry struct {
	Seq       uint64                  `json:"seq"`
	Operation models.PendingOperation `json:"operation"`
	Error     string                  `json:"error"`
	FailedAt  time.Time               `json:"failed_at"`
}

// Journal is the dead-letter log.
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal at the given path.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFailed)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketFailed, err)
	}

	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Record appends a failed operation and returns its sequence number.
func (j *Journal) Record(op models.PendingOperation, cause error) (uint64, error) {
	var seq uint64
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailed)
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = next

		entry := Entry{Seq: seq, Operation: op, FailedAt: time.Now().UTC()}
		if cause != nil {
			entry.Error = cause.Error()
		}
		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("record %s %s/%s: %w", op.Kind, op.Collection, op.ID, err)
	}
	return seq, nil
}

// List returns all entries, oldest first.
func (j *Journal) List() ([]*Entry, error) {
	var entries []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailed).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, &e)
			return nil
		})
	})
	return entries, err
}

// Remove deletes the entry with the given sequence number.
func (j *Journal) Remove(seq uint64) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailed)
		key := seqKey(seq)
		if b.Get(key) == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, seq)
		}
		return b.Delete(key)
	})
}

// Len returns the number of entries.
func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketFailed).Stats().KeyN
		return nil
	})
	return n, err
}
