// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package drivesweepdb implements the master database over a
// key-value store, one namespace per record family.
package drivesweepdb

import (
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/drivesweep/action"
	"storj.io/drivesweep/scan"
	"storj.io/drivesweep/storage"
	"storj.io/drivesweep/storage/boltdb"
	"storj.io/drivesweep/storage/redis"
	"storj.io/drivesweep/storage/teststore"
	"storj.io/drivesweep/tokens"
)

var (
	// Error is the default drivesweepdb errs class.
	Error = errs.Class("drivesweepdb")

	mon = monkit.Package()
)

// Namespaces of the persisted state layout.
const (
	namespaceCredentials = "credentials"
	namespaceScans       = "scans"
	namespaceSnapshots   = "snapshots"
	namespaceBatches     = "batches"
)

// DB is the master database.
type DB struct {
	log *zap.Logger

	credentials storage.KeyValueStore
	scans       storage.KeyValueStore
	snapshots   storage.KeyValueStore
	batches     storage.KeyValueStore
}

// Open connects to the database named by databaseURL. A redis:// URL
// selects the redis backend; anything else is treated as a bolt file
// path.
func Open(log *zap.Logger, databaseURL string) (*DB, error) {
	if strings.HasPrefix(databaseURL, "redis://") || strings.HasPrefix(databaseURL, "rediss://") {
		return openRedis(log, databaseURL)
	}
	return openBolt(log, databaseURL)
}

func openBolt(log *zap.Logger, path string) (*DB, error) {
	credentials, err := boltdb.New(path, namespaceCredentials)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	handle := credentials.DB()

	scans, err := boltdb.NewShared(handle, namespaceScans)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, credentials.Close()))
	}
	snapshots, err := boltdb.NewShared(handle, namespaceSnapshots)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, credentials.Close()))
	}
	batches, err := boltdb.NewShared(handle, namespaceBatches)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, credentials.Close()))
	}

	log.Debug("database opened", zap.String("backend", "bolt"), zap.String("path", path))
	return &DB{
		log:         log,
		credentials: credentials,
		scans:       scans,
		snapshots:   snapshots,
		batches:     batches,
	}, nil
}

func openRedis(log *zap.Logger, databaseURL string) (*DB, error) {
	open := func(namespace string) (storage.KeyValueStore, error) {
		return redis.Open(databaseURL, namespace)
	}
	credentials, err := open(namespaceCredentials)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	scans, err := open(namespaceScans)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, credentials.Close()))
	}
	snapshots, err := open(namespaceSnapshots)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, credentials.Close(), scans.Close()))
	}
	batches, err := open(namespaceBatches)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, credentials.Close(), scans.Close(), snapshots.Close()))
	}

	log.Debug("database opened", zap.String("backend", "redis"))
	return &DB{
		log:         log,
		credentials: credentials,
		scans:       scans,
		snapshots:   snapshots,
		batches:     batches,
	}, nil
}

// OpenInMemory returns a database backed by in-memory stores, for
// tests.
func OpenInMemory(log *zap.Logger) *DB {
	return &DB{
		log:         log,
		credentials: teststore.New(),
		scans:       teststore.New(),
		snapshots:   teststore.New(),
		batches:     teststore.New(),
	}
}

// Credentials returns the sealed credential store.
func (db *DB) Credentials() tokens.DB { return &credentialsDB{store: db.credentials} }

// Scans returns the scan job store.
func (db *DB) Scans() scan.DB { return &scansDB{store: db.scans} }

// Snapshots returns the snapshot store.
func (db *DB) Snapshots() scan.Snapshots { return &snapshotsDB{store: db.snapshots} }

// Batches returns the action batch store.
func (db *DB) Batches() action.DB { return &batchesDB{store: db.batches} }

// Close releases all namespaces.
func (db *DB) Close() error {
	return Error.Wrap(errs.Combine(
		db.batches.Close(),
		db.snapshots.Close(),
		db.scans.Close(),
		db.credentials.Close(),
	))
}
