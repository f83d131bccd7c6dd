// internal/database/boltstore_extended.go - retention, compaction and stats
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

var _ ExtendedStore = (*BoltStore)(nil)

// DeleteEventsBefore removes event log entries that occurred before cutoff
func (s *BoltStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deletedCount := 0
	limit := cutoff.UnixNano()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(EventsBucket)

		return forEachDeviceBucket(root, func(accountID, deviceID string, b *bbolt.Bucket) error {
			// Collect keys first, deleting while iterating skips entries
			var keysToDelete [][]byte
			c := b.Cursor()
			for k, _ := c.First(); k != nil && eventKeyTime(k) < limit; k, _ = c.Next() {
				keysToDelete = append(keysToDelete, copyBytes(k))
			}

			for _, key := range keysToDelete {
				if err := b.Delete(key); err != nil {
					return fmt.Errorf("failed to delete event for %s/%s: %w", accountID, deviceID, err)
				}
				deletedCount++
			}
			return nil
		})
	})

	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_count": deletedCount,
		"cutoff_time":   cutoff,
	}).Info("Deleted old state change events")

	return deletedCount, nil
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(EventsBucket)
		accounts := make(map[string]bool)

		err := forEachDeviceBucket(root, func(accountID, deviceID string, b *bbolt.Bucket) error {
			accounts[accountID] = true
			stats.TotalDevices++
			stats.TotalEvents += b.Stats().KeyN

			c := b.Cursor()
			if k, _ := c.First(); k != nil {
				oldest := time.Unix(0, eventKeyTime(k))
				if stats.OldestEvent.IsZero() || oldest.Before(stats.OldestEvent) {
					stats.OldestEvent = oldest
				}
			}
			if k, _ := c.Last(); k != nil {
				newest := time.Unix(0, eventKeyTime(k))
				if newest.After(stats.NewestEvent) {
					stats.NewestEvent = newest
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		stats.TotalAccounts = len(accounts)

		if err := tx.Bucket(IncidentsBucket).ForEach(func(k, v []byte) error {
			stats.TotalIncidents++
			var incident FlappingIncident
			if err := json.Unmarshal(v, &incident); err == nil && !incident.Acknowledged {
				stats.OpenIncidents++
			}
			return nil
		}); err != nil {
			return err
		}

		stats.DowntimeWindows = tx.Bucket(DowntimeBucket).Stats().KeyN
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	// Get file size
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return stats, nil
}

// CompactDatabase rewrites the database into a fresh file and swaps it in
func (s *BoltStore) CompactDatabase(ctx context.Context) error {
	logrus.Info("Starting database compaction")

	compactPath := s.path + ".compact.tmp"

	newDB, err := bbolt.Open(compactPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy data from old to new database
	err = s.db.View(func(oldTx *bbolt.Tx) error {
		return newDB.Update(func(newTx *bbolt.Tx) error {
			for _, name := range allBuckets {
				oldBucket := oldTx.Bucket(name)
				if oldBucket == nil {
					continue
				}
				newBucket, err := newTx.CreateBucketIfNotExists(name)
				if err != nil {
					return fmt.Errorf("failed to create bucket %s: %w", name, err)
				}
				if err := copyBucket(oldBucket, newBucket); err != nil {
					return fmt.Errorf("failed to copy bucket %s: %w", name, err)
				}
			}
			return nil
		})
	})

	if err != nil {
		newDB.Close()
		os.Remove(compactPath)
		return fmt.Errorf("failed to copy data to compact database: %w", err)
	}

	newDB.Close()
	s.db.Close()

	// Replace old database with compacted version
	if err := os.Rename(compactPath, s.path); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}

	s.db, err = bbolt.Open(s.path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to reopen compacted database: %w", err)
	}

	logrus.Info("Database compaction completed successfully")
	return nil
}

// forEachDeviceBucket walks the events/<account>/<device> hierarchy.
func forEachDeviceBucket(root *bbolt.Bucket, fn func(accountID, deviceID string, b *bbolt.Bucket) error) error {
	return root.ForEach(func(accountKey, v []byte) error {
		if v != nil {
			return nil
		}
		account := root.Bucket(accountKey)
		return account.ForEach(func(deviceKey, v []byte) error {
			if v != nil {
				return nil
			}
			return fn(string(accountKey), string(deviceKey), account.Bucket(deviceKey))
		})
	})
}

// copyBucket copies keys and nested buckets, preserving sequences.
func copyBucket(src, dst *bbolt.Bucket) error {
	if err := dst.SetSequence(src.Sequence()); err != nil {
		return err
	}

	c := src.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v == nil {
			child, err := dst.CreateBucketIfNotExists(copyBytes(k))
			if err != nil {
				return err
			}
			if err := copyBucket(src.Bucket(k), child); err != nil {
				return err
			}
			continue
		}
		if err := dst.Put(copyBytes(k), copyBytes(v)); err != nil {
			return err
		}
	}
	return nil
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
