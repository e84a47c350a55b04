// Package audit provides an append-only dispatch-history log, backed by
// go.etcd.io/bbolt: a single embedded, ACID, pure-Go file.
//
// This is deliberately NOT queue-state persistence — recovery of the
// idle/pending sets across a restart is out of scope, and this package does
// not attempt it. What it logs is a record of every BeginExecute call the
// scheduler made, for operators who want to know "did we actually page
// anyone, and when" after the fact. There is no WAL, compaction, or
// segment-log machinery here: that level of durability exists to make
// message delivery itself replayable, and nothing in this service needs
// notification dispatch to be replayable.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

var bucketDispatches = []byte("dispatches")

// Record is one logged dispatch.
type Record struct {
	Notification string  `json:"notification"`
	Checkable    string  `json:"checkable"`
	Type         string  `json:"type"`
	State        int     `json:"state"`
	Forced       bool    `json:"forced"`
	Reminder     bool    `json:"reminder"`
	FiredAt      float64 `json:"fired_at"` // seconds since epoch
	DeliveryErr  string  `json:"delivery_err,omitempty"`
}

// Log is an append-only bbolt-backed dispatch-history log. Keys are ULIDs,
// so iteration order is insertion order without needing a separate sequence
// counter or timestamp index.
type Log struct {
	db *bbolt.DB
}

// Open opens (or creates) the audit log at path.
func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDispatches)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: init bucket: %w", err)
	}
	return &Log{db: db}, nil
}

// Append writes r as a new entry, keyed by a freshly generated ULID so that
// bbolt's byte-ordered keys iterate in chronological order.
func (l *Log) Append(r Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	id := ulid.Make()
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDispatches).Put(id[:], val)
	})
}

// Recent returns up to limit of the most recently appended records, newest
// first. limit <= 0 means no limit.
func (l *Log) Recent(limit int) ([]Record, error) {
	var out []Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDispatches).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("audit: unmarshal record: %w", err)
			}
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Close closes the underlying bbolt database.
func (l *Log) Close() error {
	return l.db.Close()
}
