// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package tokenstore persists device registration tokens in BadgerDB.
//
// The store is one source of the device allow-list; tokens configured in
// the environment form the other. Tokens added here survive restarts when
// a directory is configured, and live only in memory otherwise.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const tokenKeyPrefix = "device_token:"

const gcDiscardRatio = 0.5

var (
	// ErrEmptyToken is returned when adding or removing a blank token.
	ErrEmptyToken = errors.New("token cannot be empty")

	// ErrNotFound is returned when removing a token that is not stored.
	ErrNotFound = errors.New("token not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("token store is closed")
)

// Entry is one persisted token.
type Entry struct {
	Token     string    `json:"token"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a BadgerDB-backed token set. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	db       *badger.DB
	closed   bool
	inMemory bool
}

// Open opens the store at path. An empty path keeps tokens in memory.
func Open(path string) (*Store, error) {
	inMemory := path == ""
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Tokens are tiny; the default 1GB value log is wasteful.
		opts.ValueLogFileSize = 16 << 20
		opts.SyncWrites = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for device tokens: %w", err)
	}
	return &Store{db: db, inMemory: inMemory}, nil
}

func (s *Store) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

// Add stores token with an optional label. Adding an existing token
// replaces its label and keeps its creation time.
func (s *Store) Add(ctx context.Context, token, label string) (Entry, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Entry{}, ErrEmptyToken
	}

	entry := Entry{Token: token, Label: label, CreatedAt: time.Now().UTC()}
	err := s.update(func(txn *badger.Txn) error {
		key := []byte(tokenKeyPrefix + token)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err == nil && !existing.CreatedAt.IsZero() {
				entry.CreatedAt = existing.CreatedAt
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("get token: %w", err)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal token: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Remove deletes token.
func (s *Store) Remove(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	return s.update(func(txn *badger.Txn) error {
		key := []byte(tokenKeyPrefix + token)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get token: %w", err)
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		return nil
	})
}

// List returns every stored entry ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(tokenKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Tokens returns the stored token strings. It satisfies
// devices.TokenSource.
func (s *Store) Tokens(ctx context.Context) ([]string, error) {
	var tokens []string
	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(tokenKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			tokens = append(tokens, strings.TrimPrefix(string(it.Item().Key()), tokenKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tokens: %w", err)
	}
	return tokens, nil
}

// Count returns the number of stored tokens.
func (s *Store) Count(ctx context.Context) (int, error) {
	tokens, err := s.Tokens(ctx)
	return len(tokens), err
}

// RunGC reclaims value log space until nothing is left to rewrite. It is
// a no-op for in-memory stores.
func (s *Store) RunGC() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.inMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the underlying database. Later calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
