package keyindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"certanchor.dev/node/errs"
)

var bucketRecords = []byte("index_by_anchor")

// BoltIndex stores one record per key in a bbolt bucket, so Put is
// incremental rather than a full rewrite.
type BoltIndex struct {
	db   *bolt.DB
	wrap keyWrapper
}

// OpenBoltIndex opens (creating if needed) the database at path. A non-nil
// kek wraps key material before it reaches disk.
func OpenBoltIndex(path string, kek []byte) (*BoltIndex, error) {
	if path == "" {
		return nil, errs.New(errs.ERR_CONFIG, "index path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("keyindex: mkdir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return fmt.Errorf("create bucket %s: %w", string(bucketRecords), err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltIndex{db: db, wrap: keyWrapper{kek: kek}}, nil
}

func (b *BoltIndex) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltIndex) Put(rec IndexRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	s, err := b.wrap.seal(rec)
	if err != nil {
		return err
	}
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("keyindex: encode: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		key := []byte(rec.AnchorID)
		if bucket.Get(key) != nil {
			return errs.Newf(errs.ERR_ALREADY_EXISTS, "anchor %s already indexed", rec.AnchorID)
		}
		return bucket.Put(key, val)
	})
}

func (b *BoltIndex) Get(anchorID string) (IndexRecord, error) {
	var s storedRecord
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRecords).Get([]byte(anchorID))
		if v == nil {
			return nil
		}
		found = true
		// v is only valid inside the transaction; Unmarshal copies.
		return json.Unmarshal(v, &s)
	})
	if err != nil {
		return IndexRecord{}, errs.Wrap(errs.ERR_DECODE, err, "index record "+anchorID)
	}
	if !found {
		return IndexRecord{}, errs.Newf(errs.ERR_NOT_FOUND, "anchor %s not indexed", anchorID)
	}
	return b.wrap.open(s)
}

func (b *BoltIndex) GetAll() ([]IndexRecord, error) {
	var list []storedRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var s storedRecord
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("record %s: %w", string(k), err)
			}
			list = append(list, s)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.ERR_DECODE, err, "index scan")
	}
	out := make([]IndexRecord, 0, len(list))
	for _, s := range list {
		rec, err := b.wrap.open(s)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (b *BoltIndex) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketRecords); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketRecords)
		return err
	})
}
