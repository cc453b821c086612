// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"bytes"
	"context"

	"github.com/zeebo/errs"
)

// ErrKeyNotFound is returned when a key is not found in the store.
var ErrKeyNotFound = errs.Class("key not found")

// Key is the type for keys in a KeyValueStore.
type Key []byte

// Value is the type for values in a KeyValueStore.
type Value []byte

// Keys is a slice of keys.
type Keys []Key

// Limit indicates how many keys to return when calling List.
type Limit int

// KeyValueStore describes a durable key/value namespace such as a bolt
// bucket or a redis key prefix.
type KeyValueStore interface {
	// Put adds or replaces a value under key.
	Put(ctx context.Context, key Key, value Value) error
	// Get returns the value under key or ErrKeyNotFound.
	Get(ctx context.Context, key Key) (Value, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// List returns up to limit keys with the given prefix, in order.
	List(ctx context.Context, prefix Key, limit Limit) (Keys, error)
	// Iterate calls fn for every key with the given prefix, in order.
	// Returning an error from fn stops iteration and is returned.
	Iterate(ctx context.Context, prefix Key, fn func(Key, Value) error) error
	// Close closes the store.
	Close() error
}

// IsZero returns true when the value is empty.
func (v Value) IsZero() bool { return len(v) == 0 }

// IsZero returns true when the key is empty.
func (k Key) IsZero() bool { return len(k) == 0 }

// String implements the Stringer interface.
func (k Key) String() string { return string(k) }

// HasPrefix returns true when the key starts with prefix.
func (k Key) HasPrefix(prefix Key) bool { return bytes.HasPrefix(k, prefix) }
