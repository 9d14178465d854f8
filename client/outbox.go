package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Delivery states for queued outbound messages.
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

var outboxBucket = []byte("outbox")

// ErrOutboxRecordNotFound indicates an unknown queued message ID.
var ErrOutboxRecordNotFound = errors.New("client: outbox record not found")

// OutboxRecord is one locally queued message awaiting delivery. Content
// is already encrypted when the record is enqueued.
type OutboxRecord struct {
	ID         string `json:"id"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	CreatedAt  int64  `json:"createdAt"`
	State      string `json:"state"`
	Attempts   int    `json:"attempts"`
}

// Outbox is a persistent queue of messages sent while offline, flushed
// on reconnect.
type Outbox struct {
	db *bolt.DB
}

// OpenOutbox opens (or creates) the outbox database file.
func OpenOutbox(path string) (*Outbox, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(outboxBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create outbox bucket: %w", err)
	}

	return &Outbox{db: db}, nil
}

// Close closes the underlying database.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Enqueue stores a new pending record.
func (o *Outbox) Enqueue(record OutboxRecord) error {
	if record.ID == "" {
		return errors.New("outbox record id is required")
	}
	if record.ReceiverID == "" {
		return errors.New("outbox record receiver id is required")
	}
	if record.State == "" {
		record.State = DeliveryPending
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().UnixMilli()
	}

	return o.put(record)
}

// Pending returns queued records in creation order.
func (o *Outbox) Pending() ([]OutboxRecord, error) {
	var pending []OutboxRecord

	err := o.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).ForEach(func(_, value []byte) error {
			var record OutboxRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decode outbox record: %w", err)
			}
			if record.State == DeliveryPending {
				pending = append(pending, record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt != pending[j].CreatedAt {
			return pending[i].CreatedAt < pending[j].CreatedAt
		}
		return pending[i].ID < pending[j].ID
	})

	return pending, nil
}

// MarkSent removes a delivered record from the queue.
func (o *Outbox) MarkSent(recordID string) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(outboxBucket)
		if bucket.Get([]byte(recordID)) == nil {
			return ErrOutboxRecordNotFound
		}
		return bucket.Delete([]byte(recordID))
	})
}

// MarkFailed flags a record as permanently failed and counts the
// attempt. Failed records stay queued for inspection but are skipped by
// Pending.
func (o *Outbox) MarkFailed(recordID string) error {
	record, err := o.get(recordID)
	if err != nil {
		return err
	}

	record.State = DeliveryFailed
	record.Attempts++
	return o.put(*record)
}

// BumpAttempts counts one failed delivery attempt while keeping the
// record pending.
func (o *Outbox) BumpAttempts(recordID string) error {
	record, err := o.get(recordID)
	if err != nil {
		return err
	}

	record.Attempts++
	return o.put(*record)
}

func (o *Outbox) get(recordID string) (*OutboxRecord, error) {
	var record OutboxRecord

	err := o.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(outboxBucket).Get([]byte(recordID))
		if raw == nil {
			return ErrOutboxRecordNotFound
		}
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (o *Outbox) put(record OutboxRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode outbox record: %w", err)
	}

	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Put([]byte(record.ID), raw)
	})
}
