// Package ledger keeps an on-disk audit trail of accepted knocks.
//
// Events are stored in a bbolt bucket keyed by ULID, so iteration order is
// chronological. The ledger is write-only from the door's point of view: it
// is never consulted when deciding whether a knock is accepted, and replay
// protection stays purely in memory.
//
// bbolt holds an exclusive file lock while a database is open for writing,
// so a Ledger opens the file only for the duration of each operation. A
// running door and `rknock history` can therefore share one file.
package ledger

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

var bucketKnocks = []byte("knocks")

// lockTimeout bounds how long an operation waits for another process to
// release the file.
const lockTimeout = 2 * time.Second

// Event is one accepted knock.
type Event struct {
	// ID is a ULID derived from Time; it doubles as the storage key.
	ID string `json:"id"`

	// Time is when the door accepted the knock.
	Time time.Time `json:"time"`

	// Source is the knocker's IP address.
	Source string `json:"source"`

	// Nonce is the accepted nonce, salt included.
	Nonce string `json:"nonce"`
}

// Ledger is a bbolt-backed event log.
type Ledger struct {
	path string

	// mu serialises opens within this process; bbolt's flock is per open
	// file, so two concurrent opens here would block each other.
	mu      sync.Mutex
	entropy io.Reader
}

// Open creates the ledger file at path if needed and returns a Ledger for it.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, entropy: ulid.Monotonic(rand.Reader, 0)}
	err := l.update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKnocks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initialising ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(l.path, 0o600, &bbolt.Options{Timeout: lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", l.path, err)
	}
	return db, nil
}

func (l *Ledger) update(fn func(*bbolt.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	db, err := l.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func (l *Ledger) view(fn func(*bbolt.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	db, err := l.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketKnocks) == nil {
			return fmt.Errorf("ledger %s has no knocks bucket", l.path)
		}
		return fn(tx)
	})
}

// Record appends ev, assigning ev.ID (and ev.Time, if zero).
func (l *Ledger) Record(ev *Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	// Monotonic entropy keeps IDs ordered within the same millisecond.
	l.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(ev.Time), l.entropy)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("generating event id: %w", err)
	}
	ev.ID = id.String()

	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return l.update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKnocks).Put(id[:], val)
	})
}

// Recent returns up to n events, newest first. n <= 0 returns all events.
func (l *Ledger) Recent(n int) ([]Event, error) {
	var out []Event
	err := l.view(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketKnocks).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(out) >= n {
				break
			}
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decoding event %x: %w", k, err)
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

// Count returns the number of recorded events.
func (l *Ledger) Count() (int, error) {
	var n int
	err := l.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKnocks).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// Close releases the Ledger. The file is not held open between operations,
// so there is nothing to flush.
func (l *Ledger) Close() error {
	return nil
}
