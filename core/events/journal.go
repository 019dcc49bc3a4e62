package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"lendpool/core/types"
	"lendpool/observability"
)

var journalBucket = []byte("events")

// attributed is satisfied by event payloads that can render themselves into a
// flat attribute map for storage and RPC responses.
type attributed interface {
	Event() *types.Event
}

// StoredEvent is the persisted form of an emitted event.
type StoredEvent struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Journal is an append-only bbolt-backed event log consumed by external
// indexers. It implements Emitter; journal write failures are logged rather
// than propagated so a broken indexer feed never aborts a ledger operation
// that has already committed.
type Journal struct {
	db     *bolt.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event journal: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, now: time.Now}, nil
}

// Emit implements the Emitter interface.
func (j *Journal) Emit(evt Event) {
	if j == nil || evt == nil {
		return
	}
	record := StoredEvent{
		ID:        uuid.NewString(),
		Timestamp: j.now().UTC(),
		Type:      evt.EventType(),
	}
	if flat, ok := evt.(attributed); ok {
		if rendered := flat.Event(); rendered != nil {
			record.Attributes = rendered.Attributes
		}
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(journalBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		record.Sequence = seq
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, payload)
	})
	if err != nil {
		j.logger.Error("append event journal", "type", record.Type, "err", err)
		return
	}
	observability.Events().RecordEvent(record.Type)
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]StoredEvent, error) {
	if j == nil {
		return nil, fmt.Errorf("event journal not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	out := make([]StoredEvent, 0, limit)
	err := j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(journalBucket).Cursor()
		for key, value := cursor.Last(); key != nil && len(out) < limit; key, value = cursor.Prev() {
			var record StoredEvent
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decode event %x: %w", key, err)
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
