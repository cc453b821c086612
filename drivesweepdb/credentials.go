// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package drivesweepdb

import (
	"context"

	"storj.io/drivesweep/storage"
)

// credentialsDB stores one sealed blob per user.
type credentialsDB struct {
	store storage.KeyValueStore
}

func (db *credentialsDB) Put(ctx context.Context, userKey string, sealed []byte) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.store.Put(ctx, storage.Key(userKey), storage.Value(sealed))
}

func (db *credentialsDB) Get(ctx context.Context, userKey string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)
	value, err := db.store.Get(ctx, storage.Key(userKey))
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (db *credentialsDB) Delete(ctx context.Context, userKey string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.store.Delete(ctx, storage.Key(userKey))
}
