// Package history keeps a local journal of command executions.
// Each record holds the exit status of one run, not its output. Nothing is
// replayed from the journal on restart; it exists for `cmdsched history`
// and for troubleshooting.

package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

const executionsBucket = "executions"

// ErrMissingBucket is returned when the journal file has no executions bucket.
var ErrMissingBucket = errors.New("history bucket missing")

// Record is one execution of a command.
type Record struct {
	ID           uint64    `json:"id"`
	Command      string    `json:"command"`
	Kind         string    `json:"kind"`
	Line         int       `json:"line"`
	ScheduledFor time.Time `json:"scheduled_for"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
	ExitCode     int       `json:"exit_code"`
	Error        string    `json:"error,omitempty"`
	TimedOut     bool      `json:"timed_out"`
}

// Succeeded reports whether the command ran and exited 0.
func (r *Record) Succeeded() bool {
	return r.Error == "" && !r.TimedOut && r.ExitCode == 0
}

// Journal is a bbolt-backed append-only log of executions.
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(executionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// OpenReadOnly opens an existing journal without taking the write lock,
// so it can be inspected while the daemon runs.
func OpenReadOnly(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  1 * time.Second,
		ReadOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Append stores r, assigning it the next ID.
func (j *Journal) Append(r *Record) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(executionsBucket))
		if b == nil {
			return ErrMissingBucket
		}

		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		r.ID = id

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]*Record, error) {
	var records []*Record

	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(executionsBucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()

		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				continue // Skip corrupt entries
			}
			records = append(records, &r)
		}
		return nil
	})

	return records, err
}

// Count returns the number of stored records.
func (j *Journal) Count() (int, error) {
	var count int
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(executionsBucket))
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}

// Prune deletes the oldest records so that at most keep remain.
// It returns how many were removed.
func (j *Journal) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	removed := 0
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(executionsBucket))
		if b == nil {
			return nil
		}
		excess := b.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}

		// Collect first: deleting while iterating skips keys in bbolt.
		keys := make([][]byte, 0, excess)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(keys) < excess; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// itob converts uint64 to big-endian bytes for ordered keys
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Shutdown closes the journal; it lets the shutdown coordinator own its lifetime.
func (j *Journal) Shutdown(ctx context.Context) error {
	return j.Close()
}
