// internal/database/boltstore.go - BoltDB implementation of the event log,
// flapping incidents and planned downtime windows
package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	EventsBucket    = []byte("events")
	IncidentsBucket = []byte("flapping_incidents")
	DowntimeBucket  = []byte("planned_downtime")
	MetaBucket      = []byte("meta")
)

var allBuckets = [][]byte{EventsBucket, IncidentsBucket, DowntimeBucket, MetaBucket}

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// eventKey orders events by occurrence time, then by insertion sequence.
func eventKey(at time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(at.UnixNano()))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func eventKeyTime(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[:8]))
}

// deviceBucket returns the nested events/<account>/<device> bucket, or nil
// when it doesn't exist in a read-only transaction.
func deviceBucket(tx *bbolt.Tx, accountID, deviceID string, create bool) (*bbolt.Bucket, error) {
	root := tx.Bucket(EventsBucket)
	if !create {
		account := root.Bucket([]byte(accountID))
		if account == nil {
			return nil, nil
		}
		return account.Bucket([]byte(deviceID)), nil
	}

	account, err := root.CreateBucketIfNotExists([]byte(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to create account bucket: %w", err)
	}
	device, err := account.CreateBucketIfNotExists([]byte(deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to create device bucket: %w", err)
	}
	return device, nil
}

func (s *BoltStore) AppendEvent(ctx context.Context, event *StateChangeEvent) error {
	if event.AccountID == "" || event.DeviceID == "" {
		return fmt.Errorf("%w: account and device are required", ErrInvalidEvent)
	}
	if event.Status != StatusUp && event.Status != StatusDown {
		return fmt.Errorf("%w: status %q", ErrInvalidEvent, event.Status)
	}
	// keys hold unsigned nanoseconds, earlier times would sort last
	if event.OccurredAt.Before(time.Unix(0, 0)) {
		return fmt.Errorf("%w: occurred_at %s is before 1970", ErrInvalidEvent, event.OccurredAt.Format(time.RFC3339))
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := deviceBucket(tx, event.AccountID, event.DeviceID, true)
		if err != nil {
			return err
		}

		if k, _ := b.Cursor().Last(); k != nil && event.OccurredAt.UnixNano() < eventKeyTime(k) {
			return fmt.Errorf("%w: %s/%s at %s", ErrOutOfOrder, event.AccountID, event.DeviceID, event.OccurredAt.Format(time.RFC3339Nano))
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		return b.Put(eventKey(event.OccurredAt, seq), data)
	})
}

func (s *BoltStore) GetEvents(ctx context.Context, accountID, deviceID string, from, to time.Time) ([]StateChangeEvent, error) {
	var events []StateChangeEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := deviceBucket(tx, accountID, deviceID, false)
		if err != nil || b == nil {
			return err
		}

		end := to.UnixNano()
		c := b.Cursor()
		for k, v := c.Seek(eventKey(from, 0)); k != nil && eventKeyTime(k) <= end; k, v = c.Next() {
			var event StateChangeEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("failed to unmarshal event: %w", err)
			}
			events = append(events, event)
		}
		return nil
	})

	return events, err
}

func (s *BoltStore) GetLatestEvent(ctx context.Context, accountID, deviceID string) (*StateChangeEvent, error) {
	var event *StateChangeEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := deviceBucket(tx, accountID, deviceID, false)
		if err != nil || b == nil {
			return err
		}

		k, v := b.Cursor().Last()
		if k == nil {
			return nil
		}
		event = &StateChangeEvent{}
		return json.Unmarshal(v, event)
	})

	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("no events for %s/%s: %w", accountID, deviceID, ErrNotFound)
	}
	return event, nil
}

// CreateIncidentUnlessOpen stores the incident unless the device already has
// an unacknowledged incident starting at or after since. The lookup and the
// insert share one write transaction.
func (s *BoltStore) CreateIncidentUnlessOpen(ctx context.Context, incident *FlappingIncident, since time.Time) (bool, error) {
	created := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(IncidentsBucket)

		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var existing FlappingIncident
			if err := json.Unmarshal(v, &existing); err != nil {
				continue
			}
			if existing.AccountID == incident.AccountID &&
				existing.DeviceID == incident.DeviceID &&
				!existing.Acknowledged &&
				!existing.StartTime.Before(since) {
				return nil
			}
		}

		if incident.ID == "" {
			incident.ID = uuid.New().String()
		}
		if incident.CreatedAt.IsZero() {
			incident.CreatedAt = time.Now()
		}

		data, err := json.Marshal(incident)
		if err != nil {
			return fmt.Errorf("failed to marshal incident: %w", err)
		}
		if err := b.Put([]byte(incident.ID), data); err != nil {
			return err
		}
		created = true
		return nil
	})

	return created, err
}

func (s *BoltStore) GetIncidents(ctx context.Context, filters IncidentFilters) ([]FlappingIncident, error) {
	var incidents []FlappingIncident

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(IncidentsBucket)
		return b.ForEach(func(k, v []byte) error {
			var incident FlappingIncident
			if err := json.Unmarshal(v, &incident); err != nil {
				return nil // Skip malformed entries
			}

			// Apply filters
			if filters.AccountID != "" && incident.AccountID != filters.AccountID {
				return nil
			}
			if filters.DeviceID != "" && incident.DeviceID != filters.DeviceID {
				return nil
			}
			if filters.Acknowledged != nil && incident.Acknowledged != *filters.Acknowledged {
				return nil
			}
			if filters.Since != nil && incident.StartTime.Before(*filters.Since) {
				return nil
			}

			incidents = append(incidents, incident)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortIncidents(incidents)
	if filters.Limit > 0 && len(incidents) > filters.Limit {
		incidents = incidents[:filters.Limit]
	}
	return incidents, nil
}

func (s *BoltStore) GetIncident(ctx context.Context, id string) (*FlappingIncident, error) {
	var incident FlappingIncident

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(IncidentsBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("incident %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(v, &incident)
	})

	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// AcknowledgeIncident is the only mutation an incident ever sees.
func (s *BoltStore) AcknowledgeIncident(ctx context.Context, id, by string, at time.Time) (*FlappingIncident, error) {
	var incident FlappingIncident

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(IncidentsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("incident %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(v, &incident); err != nil {
			return err
		}
		if incident.Acknowledged {
			return nil
		}

		incident.Acknowledged = true
		incident.AcknowledgedBy = by
		incident.AcknowledgedAt = &at

		data, err := json.Marshal(&incident)
		if err != nil {
			return fmt.Errorf("failed to marshal incident: %w", err)
		}
		return b.Put([]byte(id), data)
	})

	if err != nil {
		return nil, err
	}
	return &incident, nil
}

func (s *BoltStore) CreateDowntime(ctx context.Context, window *PlannedDowntimeWindow) error {
	if window.ID == "" {
		window.ID = uuid.New().String()
	}
	window.CreatedAt = time.Now()
	window.UpdatedAt = window.CreatedAt

	return s.putDowntime(window)
}

func (s *BoltStore) GetDowntime(ctx context.Context, id string) (*PlannedDowntimeWindow, error) {
	var window PlannedDowntimeWindow

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(DowntimeBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("downtime window %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(v, &window)
	})

	if err != nil {
		return nil, err
	}
	return &window, nil
}

func (s *BoltStore) GetDowntimes(ctx context.Context, filters DowntimeFilters) ([]PlannedDowntimeWindow, error) {
	var windows []PlannedDowntimeWindow

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(DowntimeBucket).ForEach(func(k, v []byte) error {
			var window PlannedDowntimeWindow
			if err := json.Unmarshal(v, &window); err != nil {
				return fmt.Errorf("failed to unmarshal downtime window %s: %w", k, err)
			}

			if filters.AccountID != "" && window.AccountID != filters.AccountID {
				return nil
			}
			if filters.DeviceID != "" && window.DeviceID != filters.DeviceID {
				return nil
			}

			windows = append(windows, window)
			return nil
		})
	})

	return windows, err
}

func (s *BoltStore) UpdateDowntime(ctx context.Context, window *PlannedDowntimeWindow) error {
	if _, err := s.GetDowntime(ctx, window.ID); err != nil {
		return err
	}
	window.UpdatedAt = time.Now()

	return s.putDowntime(window)
}

func (s *BoltStore) DeleteDowntime(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(DowntimeBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("downtime window %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) putDowntime(window *PlannedDowntimeWindow) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(window)
		if err != nil {
			return fmt.Errorf("failed to marshal downtime window: %w", err)
		}
		return tx.Bucket(DowntimeBucket).Put([]byte(window.ID), data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
