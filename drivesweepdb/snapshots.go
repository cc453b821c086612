// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package drivesweepdb

import (
	"context"
	"encoding/json"
	"fmt"

	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/scan"
	"storj.io/drivesweep/storage"
)

// snapshotsDB stores record chunks under "chunk:<id>:<n>" and the
// header under "header:<id>". The header is written last, so a
// snapshot without one is invisible. "latest:<userKey>" points at the
// user's most recent snapshot.
type snapshotsDB struct {
	store storage.KeyValueStore
}

func headerKey(snapshotID string) storage.Key { return storage.Key("header:" + snapshotID) }
func latestKey(userKey string) storage.Key    { return storage.Key("latest:" + userKey) }

func chunkKey(snapshotID string, chunk int) storage.Key {
	// zero padding keeps chunk iteration in write order
	return storage.Key(fmt.Sprintf("chunk:%s:%08d", snapshotID, chunk))
}

func chunkPrefix(snapshotID string) storage.Key {
	return storage.Key("chunk:" + snapshotID + ":")
}

func (db *snapshotsDB) WriteChunk(ctx context.Context, snapshotID string, chunk int, records []gateway.FileInfo) (err error) {
	defer mon.Task()(&ctx)(&err)
	data, err := json.Marshal(records)
	if err != nil {
		return Error.Wrap(err)
	}
	return db.store.Put(ctx, chunkKey(snapshotID, chunk), data)
}

func (db *snapshotsDB) Publish(ctx context.Context, snapshot *scan.Snapshot) (err error) {
	defer mon.Task()(&ctx)(&err)
	data, err := json.Marshal(snapshot)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := db.store.Put(ctx, headerKey(snapshot.ID), data); err != nil {
		return err
	}
	return db.store.Put(ctx, latestKey(snapshot.UserKey), storage.Value(snapshot.ID))
}

func (db *snapshotsDB) Get(ctx context.Context, snapshotID string) (_ *scan.Snapshot, err error) {
	defer mon.Task()(&ctx)(&err)
	value, err := db.store.Get(ctx, headerKey(snapshotID))
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, scan.ErrSnapshotNotFound.New("%s", snapshotID)
		}
		return nil, Error.Wrap(err)
	}
	var snapshot scan.Snapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return nil, Error.Wrap(err)
	}
	return &snapshot, nil
}

func (db *snapshotsDB) Latest(ctx context.Context, userKey string) (_ *scan.Snapshot, err error) {
	defer mon.Task()(&ctx)(&err)
	value, err := db.store.Get(ctx, latestKey(userKey))
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, scan.ErrSnapshotNotFound.New("no snapshot for %s", userKey)
		}
		return nil, Error.Wrap(err)
	}
	return db.Get(ctx, string(value))
}

func (db *snapshotsDB) ReadRecords(ctx context.Context, snapshotID string, fn func(gateway.FileInfo) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	// only published snapshots are readable
	if _, err := db.Get(ctx, snapshotID); err != nil {
		return err
	}
	return db.store.Iterate(ctx, chunkPrefix(snapshotID), func(key storage.Key, value storage.Value) error {
		var records []gateway.FileInfo
		if err := json.Unmarshal(value, &records); err != nil {
			return Error.Wrap(err)
		}
		for _, record := range records {
			if err := fn(record); err != nil {
				return err
			}
		}
		return nil
	})
}
