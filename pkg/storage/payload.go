package storage

import (
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"adwatch/pkg/log"
	"adwatch/pkg/utils"
)

const payloadKeyPrefix = "payload:" // Prefix for raw page body keys in DB

// PayloadStore retains the raw page bodies of a crawl in a local BadgerDB,
// keyed by the run's payload key and page index. The relational store keeps
// only the key; the bodies themselves stay out of Postgres so a crawl can be
// re-parsed or inspected later without bloating the primary database.
type PayloadStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewPayloadStore opens (or creates) the payload database at dir.
func NewPayloadStore(dir string, logger *logrus.Entry) (*PayloadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create payload directory %s: %w", dir, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open payload store at %s: %v", utils.ErrDatabase, dir, err)
	}

	logger.WithField("dir", dir).Debug("Payload store opened")
	return &PayloadStore{db: db, log: logger}, nil
}

func pageKey(payloadKey string, page int) []byte {
	return []byte(fmt.Sprintf("%s%s:page:%04d", payloadKeyPrefix, payloadKey, page))
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction
// conflicts. Concurrent refreshes writing distinct runs rarely conflict, but
// badger.ErrConflict resolves in microseconds when they do.
func (s *PayloadStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("Payload store transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// SavePage stores the raw body of one fetched page under the run's key.
func (s *PayloadStore) SavePage(payloadKey string, page int, body string) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Set(pageKey(payloadKey, page), []byte(body))
	})
	if err != nil {
		return fmt.Errorf("%w: save payload page: %v", utils.ErrDatabase, err)
	}
	return nil
}

// GetPage retrieves the raw body of one page. exists is false when the run
// kept no payload for that page.
func (s *PayloadStore) GetPage(payloadKey string, page int) (body string, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(payloadKey, page))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			body = string(val)
			exists = true
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: get payload page: %v", utils.ErrDatabase, err)
	}
	return body, exists, nil
}

// DeleteRun removes every page stored under a run's payload key.
func (s *PayloadStore) DeleteRun(payloadKey string) error {
	prefix := []byte(payloadKeyPrefix + payloadKey + ":")
	err := s.dbUpdate(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete payload run: %v", utils.ErrDatabase, err)
	}
	return nil
}

// RunGC runs periodic value-log garbage collection until stop is closed.
// Should be run in a goroutine.
func (s *PayloadStore) RunGC(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Repeat while GC keeps reclaiming space
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		case <-stop:
			return
		}
	}
}

// Close cleanly closes the database.
func (s *PayloadStore) Close() error {
	return s.db.Close()
}
