// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package drivesweep wires the drive-organization services into a
// runnable peer.
package drivesweep

import (
	"storj.io/drivesweep/action"
	"storj.io/drivesweep/scan"
	"storj.io/drivesweep/tokens"
)

// DB is the master database, one accessor per record family.
type DB interface {
	// Credentials returns the sealed credential store.
	Credentials() tokens.DB
	// Scans returns the scan job store.
	Scans() scan.DB
	// Snapshots returns the snapshot store.
	Snapshots() scan.Snapshots
	// Batches returns the action batch store.
	Batches() action.DB

	// Close releases all resources.
	Close() error
}
