package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAccessories = []byte("accessories")

// Cache persists accessory records between runs.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens or creates the cache database.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAccessories)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not create cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Load returns every cached record.
func (c *Cache) Load() ([]Record, error) {
	var records []Record
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccessories).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				log.Warn("ignoring invalid cached accessory", "uuid", string(k), "err", err)
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("could not load cache: %w", err)
	}
	return records, nil
}

// Save creates or replaces records.
func (c *Cache) Save(records ...Record) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		for _, rec := range records {
			bts, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("could not encode %s: %w", rec.UUID, err)
			}
			if err := b.Put([]byte(rec.UUID), bts); err != nil {
				return fmt.Errorf("could not save %s: %w", rec.UUID, err)
			}
		}
		return nil
	})
}

// Delete removes records by uuid.
func (c *Cache) Delete(uuids ...string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		for _, id := range uuids {
			if err := b.Delete([]byte(id)); err != nil {
				return fmt.Errorf("could not delete %s: %w", id, err)
			}
		}
		return nil
	})
}

func (c *Cache) Close() error {
	return c.db.Close()
}
