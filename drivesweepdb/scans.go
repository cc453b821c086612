// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package drivesweepdb

import (
	"context"
	"encoding/json"

	"storj.io/drivesweep/scan"
	"storj.io/drivesweep/storage"
)

// scansDB stores scan jobs under "job:" and their checkpoints under
// "checkpoint:".
type scansDB struct {
	store storage.KeyValueStore
}

func jobKey(scanID string) storage.Key        { return storage.Key("job:" + scanID) }
func checkpointKey(scanID string) storage.Key { return storage.Key("checkpoint:" + scanID) }

func (db *scansDB) Create(ctx context.Context, job *scan.Job) (err error) {
	defer mon.Task()(&ctx)(&err)
	data, err := json.Marshal(job)
	if err != nil {
		return Error.Wrap(err)
	}
	return db.store.Put(ctx, jobKey(job.ID), data)
}

func (db *scansDB) Get(ctx context.Context, scanID string) (_ *scan.Job, err error) {
	defer mon.Task()(&ctx)(&err)
	value, err := db.store.Get(ctx, jobKey(scanID))
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, scan.ErrNotFound.New("%s", scanID)
		}
		return nil, Error.Wrap(err)
	}
	var job scan.Job
	if err := json.Unmarshal(value, &job); err != nil {
		return nil, Error.Wrap(err)
	}
	return &job, nil
}

func (db *scansDB) Update(ctx context.Context, job *scan.Job) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.Create(ctx, job)
}

func (db *scansDB) ListActive(ctx context.Context) (active []*scan.Job, err error) {
	defer mon.Task()(&ctx)(&err)
	err = db.store.Iterate(ctx, storage.Key("job:"), func(key storage.Key, value storage.Value) error {
		var job scan.Job
		if err := json.Unmarshal(value, &job); err != nil {
			return Error.Wrap(err)
		}
		if job.Status.Active() {
			active = append(active, &job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

func (db *scansDB) WriteCheckpoint(ctx context.Context, scanID string, checkpoint *scan.Checkpoint) (err error) {
	defer mon.Task()(&ctx)(&err)
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return Error.Wrap(err)
	}
	return db.store.Put(ctx, checkpointKey(scanID), data)
}

func (db *scansDB) ReadCheckpoint(ctx context.Context, scanID string) (_ *scan.Checkpoint, err error) {
	defer mon.Task()(&ctx)(&err)
	value, err := db.store.Get(ctx, checkpointKey(scanID))
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, scan.ErrNoCheckpoint.New("%s", scanID)
		}
		return nil, Error.Wrap(err)
	}
	var checkpoint scan.Checkpoint
	if err := json.Unmarshal(value, &checkpoint); err != nil {
		return nil, scan.ErrCheckpointCorrupt.New("%s: %v", scanID, err)
	}
	return &checkpoint, nil
}

func (db *scansDB) DeleteCheckpoint(ctx context.Context, scanID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.store.Delete(ctx, checkpointKey(scanID))
}
