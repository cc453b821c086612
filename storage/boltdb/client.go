// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package boltdb

import (
	"bytes"
	"context"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"

	"storj.io/drivesweep/storage"
)

// Error is the default boltdb errs class.
var Error = errs.Class("boltdb")

const (
	// fileMode sets permissions so only the owner can read and write.
	fileMode       = 0600
	defaultTimeout = 1 * time.Second
)

// Client is a bolt-backed storage.KeyValueStore scoped to one bucket.
type Client struct {
	db     *bolt.DB
	bucket []byte

	// when the client shares db with other namespaces only the
	// last Close should close the underlying handle.
	owns bool
}

// New opens the bolt database at path and returns a client scoped to bucket.
func New(path, bucket string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	client := &Client{db: db, bucket: []byte(bucket), owns: true}
	if err := client.ensureBucket(); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	return client, nil
}

// NewShared returns a client for bucket on an already open database.
func NewShared(db *bolt.DB, bucket string) (*Client, error) {
	client := &Client{db: db, bucket: []byte(bucket)}
	if err := client.ensureBucket(); err != nil {
		return nil, Error.Wrap(err)
	}
	return client, nil
}

// DB exposes the underlying bolt handle for sharing across namespaces.
func (client *Client) DB() *bolt.DB { return client.db }

func (client *Client) ensureBucket() error {
	return client.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(client.bucket)
		return err
	})
}

// Put adds or replaces the value under key.
func (client *Client) Put(ctx context.Context, key storage.Key, value storage.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return Error.New("empty key")
	}
	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(client.bucket).Put(key, value)
	}))
}

// Get returns the value under key.
func (client *Client) Get(ctx context.Context, key storage.Key) (_ storage.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	var value storage.Value
	err = client.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(client.bucket).Get(key)
		if data == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		value = append(storage.Value{}, data...)
		return nil
	})
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return value, nil
}

// Delete removes key.
func (client *Client) Delete(ctx context.Context, key storage.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(client.bucket).Delete(key)
	}))
}

// List returns up to limit keys starting with prefix, in lexical order.
func (client *Client) List(ctx context.Context, prefix storage.Key, limit storage.Limit) (_ storage.Keys, err error) {
	defer mon.Task()(&ctx)(&err)
	var keys storage.Keys
	err = client.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(client.bucket).Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			if limit > 0 && storage.Limit(len(keys)) >= limit {
				break
			}
			keys = append(keys, append(storage.Key{}, k...))
		}
		return nil
	})
	return keys, Error.Wrap(err)
}

// Iterate calls fn for every key/value with the given prefix, in order.
func (client *Client) Iterate(ctx context.Context, prefix storage.Key, fn func(storage.Key, storage.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(client.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(client.bucket).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			if err := fn(append(storage.Key{}, k...), append(storage.Value{}, v...)); err != nil {
				return err
			}
		}
		return nil
	}))
}

// Close closes the underlying database when this client owns it.
func (client *Client) Close() error {
	if !client.owns {
		return nil
	}
	return Error.Wrap(client.db.Close())
}
