package queue

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// The journal persists queue entries so pending jobs survive a process
// restart. Only the enqueue-time facts are stored; in-flight state is
// reconstructed by simply re-queueing anything that was not terminal.

var journalBucket = []byte("jobs")

type journal struct {
	db *bolt.DB
}

type journalEntry struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	State      JobState  `json:"state"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// openJournal opens (creating if needed) the journal file. An empty
// path disables journaling.
func openJournal(path string) (*journal, error) {
	if path == "" {
		return &journal{}, nil
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init queue journal: %w", err)
	}
	return &journal{db: db}, nil
}

func (j *journal) close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// record upserts the job's journal entry; terminal jobs are removed
// instead, the journal only carries work still owed.
func (j *journal) record(job *Job) error {
	if j.db == nil {
		return nil
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(journalBucket)
		if job.State.Terminal() {
			return bucket.Delete([]byte(job.ID))
		}
		entry := journalEntry{
			ID:         job.ID,
			SourcePath: job.SourcePath,
			State:      job.State,
			EnqueuedAt: job.EnqueuedAt,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(job.ID), data)
	})
}

func (j *journal) remove(jobID string) error {
	if j.db == nil {
		return nil
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(journalBucket).Delete([]byte(jobID))
	})
}

// load returns all journaled jobs in id (and therefore enqueue) order.
func (j *journal) load() ([]journalEntry, error) {
	if j.db == nil {
		return nil, nil
	}
	var entries []journalEntry
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(journalBucket).ForEach(func(_, v []byte) error {
			var entry journalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load queue journal: %w", err)
	}
	return entries, nil
}
