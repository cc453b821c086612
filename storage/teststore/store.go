// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"context"
	"sort"
	"sync"

	"storj.io/drivesweep/storage"
)

// Store implements storage.KeyValueStore in memory for tests.
type Store struct {
	mu     sync.Mutex
	data   map[string][]byte
	closed bool

	// CallCount tracks store operations for tests that assert on
	// persistence behavior.
	CallCount struct {
		Put, Get, Delete, List int
	}
}

// New creates an in-memory key/value store.
func New() *Store {
	return &Store{data: map[string][]byte{}}
}

// Put adds or replaces the value under key.
func (store *Store) Put(ctx context.Context, key storage.Key, value storage.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++
	store.data[key.String()] = append([]byte{}, value...)
	return nil
}

// Get returns the value under key.
func (store *Store) Get(ctx context.Context, key storage.Key) (storage.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++
	value, ok := store.data[key.String()]
	if !ok {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	return append(storage.Value{}, value...), nil
}

// Delete removes key.
func (store *Store) Delete(ctx context.Context, key storage.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++
	delete(store.data, key.String())
	return nil
}

// List returns up to limit keys starting with prefix, in lexical order.
func (store *Store) List(ctx context.Context, prefix storage.Key, limit storage.Limit) (storage.Keys, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.List++

	var keys storage.Keys
	for key := range store.data {
		if storage.Key(key).HasPrefix(prefix) {
			keys = append(keys, storage.Key(key))
		}
	}
	sort.Slice(keys, func(i, k int) bool { return keys[i].String() < keys[k].String() })
	if limit > 0 && storage.Limit(len(keys)) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Iterate calls fn for every key/value with the given prefix, in order.
func (store *Store) Iterate(ctx context.Context, prefix storage.Key, fn func(storage.Key, storage.Value) error) error {
	keys, err := store.List(ctx, prefix, 0)
	if err != nil {
		return err
	}
	for _, key := range keys {
		value, err := store.Get(ctx, key)
		if err != nil {
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store.
func (store *Store) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.closed = true
	return nil
}
