package localstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"points_ledger/internal/domain"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var ErrOperationNotFound = errors.New("localstore: operation not found")

// Queue is a durable FIFO of operations keyed by a monotonically increasing
// bbolt sequence. Order is global; the sync engine enforces per-path order.
type Queue struct {
	db  *DB
	now func() time.Time
}

func NewQueue(db *DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

func (q *Queue) SetClock(now func() time.Time) { q.now = now }

func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

// Enqueue appends op, filling in ID and EnqueuedAt when unset.
func (q *Queue) Enqueue(op *domain.Operation) error {
	if op.Path == "" {
		return domain.Validation("operation path is required")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.now().UTC()
	}
	return q.db.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(queueBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		v, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), v)
	})
}

// List returns every queued operation in enqueue order.
func (q *Queue) List() ([]domain.Operation, error) {
	return q.list(queueBucket, "")
}

// Pending returns the queued operations whose path starts with prefix.
func (q *Queue) Pending(prefix string) ([]domain.Operation, error) {
	return q.list(queueBucket, prefix)
}

// DeadLetters returns operations that gave up.
func (q *Queue) DeadLetters() ([]domain.Operation, error) {
	return q.list(deadBucket, "")
}

func (q *Queue) list(bucket []byte, prefix string) ([]domain.Operation, error) {
	var out []domain.Operation
	err := q.db.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			var op domain.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("decode queued operation: %w", err)
			}
			if strings.HasPrefix(op.Path, prefix) {
				out = append(out, op)
			}
			return nil
		})
	})
	return out, err
}

func (q *Queue) Len() (int, error) {
	n := 0
	err := q.db.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(queueBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Update rewrites op in place, keeping its position.
func (q *Queue) Update(op domain.Operation) error {
	return q.db.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(queueBucket)
		k, err := findKey(b, op.ID)
		if err != nil {
			return err
		}
		v, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put(k, v)
	})
}

// Remove deletes a delivered operation.
func (q *Queue) Remove(id string) error {
	return q.db.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(queueBucket)
		k, err := findKey(b, id)
		if err != nil {
			return err
		}
		return b.Delete(k)
	})
}

// DeadLetter moves op out of the queue, recording the final error.
func (q *Queue) DeadLetter(op domain.Operation, cause error) error {
	if cause != nil {
		op.LastError = cause.Error()
	}
	return q.db.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(queueBucket)
		k, err := findKey(b, op.ID)
		if err != nil {
			return err
		}
		if err := b.Delete(k); err != nil {
			return err
		}
		dead := tx.Bucket(deadBucket)
		seq, err := dead.NextSequence()
		if err != nil {
			return err
		}
		v, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return dead.Put(seqKey(seq), v)
	})
}

func findKey(b *bbolt.Bucket, id string) ([]byte, error) {
	var found []byte
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var op struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(v, &op); err != nil {
			return nil, err
		}
		if op.ID == id {
			found = append([]byte(nil), k...)
			break
		}
	}
	if found == nil {
		return nil, ErrOperationNotFound
	}
	return found, nil
}
