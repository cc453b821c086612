// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package redis

import (
	"context"
	"sort"
	"strings"

	"github.com/go-redis/redis"
	"github.com/zeebo/errs"

	"storj.io/drivesweep/storage"
)

// Error is the default redis errs class.
var Error = errs.Class("redis")

// Client is a redis-backed storage.KeyValueStore scoped to a key prefix.
type Client struct {
	db        *redis.Client
	namespace string
}

// Open connects to the redis instance at url ("redis://host:port/db")
// and returns a client scoped to namespace.
func Open(url, namespace string) (*Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	db := redis.NewClient(options)
	if err := db.Ping().Err(); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	return &Client{db: db, namespace: namespace}, nil
}

// NewShared returns a client for namespace on an already open connection.
func NewShared(db *redis.Client, namespace string) *Client {
	return &Client{db: db, namespace: namespace}
}

func (client *Client) scoped(key storage.Key) string {
	return client.namespace + ":" + key.String()
}

func (client *Client) unscoped(key string) storage.Key {
	return storage.Key(strings.TrimPrefix(key, client.namespace+":"))
}

// Put adds or replaces the value under key.
func (client *Client) Put(ctx context.Context, key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return Error.New("empty key")
	}
	return Error.Wrap(client.db.Set(client.scoped(key), []byte(value), 0).Err())
}

// Get returns the value under key.
func (client *Client) Get(ctx context.Context, key storage.Key) (storage.Value, error) {
	data, err := client.db.Get(client.scoped(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, storage.ErrKeyNotFound.New("%q", key)
		}
		return nil, Error.Wrap(err)
	}
	return data, nil
}

// Delete removes key.
func (client *Client) Delete(ctx context.Context, key storage.Key) error {
	return Error.Wrap(client.db.Del(client.scoped(key)).Err())
}

// List returns up to limit keys starting with prefix, in lexical order.
func (client *Client) List(ctx context.Context, prefix storage.Key, limit storage.Limit) (storage.Keys, error) {
	matched, err := client.matching(prefix)
	if err != nil {
		return nil, err
	}
	if limit > 0 && storage.Limit(len(matched)) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Iterate calls fn for every key/value with the given prefix, in order.
func (client *Client) Iterate(ctx context.Context, prefix storage.Key, fn func(storage.Key, storage.Value) error) error {
	matched, err := client.matching(prefix)
	if err != nil {
		return err
	}
	for _, key := range matched {
		value, err := client.Get(ctx, key)
		if err != nil {
			// deleted concurrently
			if storage.ErrKeyNotFound.Has(err) {
				continue
			}
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// matching scans for namespace keys with the given prefix and returns
// them sorted, since redis scan order is unspecified.
func (client *Client) matching(prefix storage.Key) (storage.Keys, error) {
	pattern := client.namespace + ":" + prefix.String() + "*"

	var keys storage.Keys
	var cursor uint64
	for {
		page, next, err := client.db.Scan(cursor, pattern, 1000).Result()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		for _, key := range page {
			keys = append(keys, client.unscoped(key))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Slice(keys, func(i, k int) bool { return keys[i].String() < keys[k].String() })
	return keys, nil
}

// Close closes the connection.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
