package journal

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/corral/pkg/types"
)

var (
	// Bucket names
	bucketTransitions = []byte("transitions")
)

// Journal is a BoltDB-backed append-only log of world transitions.
// Keys are ULIDs, so iteration order is commit order.
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal database at path
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTransitions); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketTransitions, err)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// OpenReadOnly opens an existing journal without taking the write lock.
// Used by the audit tool so it can read while the daemon is running.
func OpenReadOnly(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a transition to the journal
func (j *Journal) Record(tr *types.Transition) error {
	if tr.ID == "" {
		tr.ID = ulid.Make().String()
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransitions)
		data, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		return b.Put([]byte(tr.ID), data)
	})
}

// List returns all transitions in commit order
func (j *Journal) List() ([]*types.Transition, error) {
	var transitions []*types.Transition
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransitions)
		return b.ForEach(func(k, v []byte) error {
			var tr types.Transition
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			transitions = append(transitions, &tr)
			return nil
		})
	})
	return transitions, err
}

// ListWorld returns transitions for one event, optionally narrowed to one
// user, in commit order
func (j *Journal) ListWorld(event, user string) ([]*types.Transition, error) {
	var transitions []*types.Transition
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransitions)
		return b.ForEach(func(k, v []byte) error {
			var tr types.Transition
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			if tr.Event != event {
				return nil
			}
			if user != "" && tr.User != user {
				return nil
			}
			transitions = append(transitions, &tr)
			return nil
		})
	})
	return transitions, err
}

// Tail returns the most recent n transitions in commit order
func (j *Journal) Tail(n int) ([]*types.Transition, error) {
	if n <= 0 {
		return nil, nil
	}
	var transitions []*types.Transition
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransitions)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(transitions) < n; k, v = c.Prev() {
			var tr types.Transition
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			transitions = append(transitions, &tr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Collected newest-first, flip back to commit order
	for l, r := 0, len(transitions)-1; l < r; l, r = l+1, r-1 {
		transitions[l], transitions[r] = transitions[r], transitions[l]
	}
	return transitions, nil
}

// Count returns the number of recorded transitions
func (j *Journal) Count() (int, error) {
	var count int
	err := j.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketTransitions).Stats().KeyN
		return nil
	})
	return count, err
}
