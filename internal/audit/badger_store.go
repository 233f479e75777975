// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/skyfence/internal/logging"
)

// Key layout:
//
//	audit:<20-digit unix nanos>:<id>  -> event JSON
//	audit_id:<id>                     -> primary key
const (
	eventKeyPrefix = "audit:"
	idKeyPrefix    = "audit_id:"
)

// BadgerStore implements Store on BadgerDB. Keys sort by time so queries
// walk newest first without an index.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
}

// OpenBadgerStore opens (or creates) a store at dir. An empty dir opens an
// in-memory database. Entries expire after retention when it is positive.
func OpenBadgerStore(dir string, retention time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return &BadgerStore{db: db, retention: retention}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func eventKey(e *Event) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", eventKeyPrefix, e.Timestamp.UnixNano(), e.ID))
}

// Save stores event and its id index in one transaction.
func (s *BadgerStore) Save(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := eventKey(event)

	return s.db.Update(func(txn *badger.Txn) error {
		primary := badger.NewEntry(key, data)
		index := badger.NewEntry([]byte(idKeyPrefix+event.ID), key)
		if s.retention > 0 {
			primary = primary.WithTTL(s.retention)
			index = index.WithTTL(s.retention)
		}
		if err := txn.SetEntry(primary); err != nil {
			return fmt.Errorf("set audit event: %w", err)
		}
		if err := txn.SetEntry(index); err != nil {
			return fmt.Errorf("set audit index: %w", err)
		}
		return nil
	})
}

// Get returns the event with id.
func (s *BadgerStore) Get(_ context.Context, id string) (*Event, error) {
	var event Event
	err := s.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(idKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get audit index: %w", err)
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get audit event: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Query returns matching events, newest first.
func (s *BadgerStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	limit := filter.limit()
	var out []Event

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(eventKeyPrefix + "\xff")
		if filter.EndTime != nil {
			seek = []byte(fmt.Sprintf("%s%020d:\xff", eventKeyPrefix, filter.EndTime.UnixNano()))
		}

		skipped := 0
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			var e Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode audit event: %w", err)
			}
			if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
				break
			}
			if !filter.Matches(&e) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes events older than olderThan.
func (s *BadgerStore) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	var keys [][]byte
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id, ok := parseEventKey(string(key))
			if !ok {
				continue
			}
			if ts >= olderThan.UnixNano() {
				break
			}
			keys = append(keys, key)
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan audit events: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete audit event: %w", err)
		}
		if err := wb.Delete([]byte(idKeyPrefix + ids[i])); err != nil {
			return 0, fmt.Errorf("delete audit index: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush audit delete: %w", err)
	}
	return int64(len(keys)), nil
}

func parseEventKey(key string) (int64, string, bool) {
	rest, ok := strings.CutPrefix(key, eventKeyPrefix)
	if !ok {
		return 0, "", false
	}
	tsPart, id, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ts, id, true
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (badgerLogger) Warningf(f string, v ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (badgerLogger) Infof(f string, v ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (badgerLogger) Debugf(f string, v ...interface{}) {
	logging.Trace().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}
