// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package drivesweepdb

import (
	"context"
	"encoding/json"

	"storj.io/drivesweep/action"
	"storj.io/drivesweep/storage"
)

// batchesDB stores one record per action batch.
type batchesDB struct {
	store storage.KeyValueStore
}

func (db *batchesDB) Create(ctx context.Context, batch *action.Batch) (err error) {
	defer mon.Task()(&ctx)(&err)
	data, err := json.Marshal(batch)
	if err != nil {
		return Error.Wrap(err)
	}
	return db.store.Put(ctx, storage.Key(batch.ID), data)
}

func (db *batchesDB) Get(ctx context.Context, batchID string) (_ *action.Batch, err error) {
	defer mon.Task()(&ctx)(&err)
	value, err := db.store.Get(ctx, storage.Key(batchID))
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, action.ErrNotFound.New("%s", batchID)
		}
		return nil, Error.Wrap(err)
	}
	var batch action.Batch
	if err := json.Unmarshal(value, &batch); err != nil {
		return nil, Error.Wrap(err)
	}
	return &batch, nil
}

func (db *batchesDB) Update(ctx context.Context, batch *action.Batch) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.Create(ctx, batch)
}
