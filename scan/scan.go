// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package scan implements the resumable namespace traversal engine.
package scan

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/drivesweep/gateway"
)

var (
	// Error is the default scan errs class.
	Error = errs.Class("scan")
	// ErrNotFound means the scan job does not exist.
	ErrNotFound = errs.Class("scan not found")
	// ErrCheckpointCorrupt means the persisted checkpoint could not be
	// decoded.
	ErrCheckpointCorrupt = errs.Class("checkpoint corrupt")
	// ErrNoCheckpoint means no checkpoint has been written for the scan.
	ErrNoCheckpoint = errs.Class("no checkpoint")
	// ErrSnapshotNotFound means the snapshot does not exist.
	ErrSnapshotNotFound = errs.Class("snapshot not found")

	mon = monkit.Package()
)

// Status is the lifecycle status of a scan job.
type Status string

// Scan statuses. Terminal statuses are final; a job never leaves them.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (status Status) Terminal() bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the status occupies the user's scan slot.
func (status Status) Active() bool {
	switch status {
	case StatusQueued, StatusRunning, StatusPaused:
		return true
	}
	return false
}

// Options is the per-scan configuration supplied by the caller.
type Options struct {
	MaxDepth            int  `json:"maxDepth"`
	IncludeTrashed      bool `json:"includeTrashed"`
	IncludeSharedDrives bool `json:"includeSharedDrives"`
}

// Progress is the reported scan progress. FilesSeen and BytesSeen are
// monotonic non-decreasing while the scan runs.
type Progress struct {
	FilesSeen int64 `json:"filesSeen"`
	BytesSeen int64 `json:"bytesSeen"`
	Percent   int   `json:"percent"`
}

// Job is one scan's persisted state. Only the engine owning the job
// mutates it.
type Job struct {
	ID      string  `json:"id"`
	UserKey string  `json:"userKey"`
	Status  Status  `json:"status"`
	Options Options `json:"options"`

	Progress        Progress `json:"progress"`
	CancelRequested bool     `json:"cancelRequested"`

	StartedAt  time.Time `json:"startedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Error      string    `json:"error,omitempty"`
}

// QueuedFolder is a pending traversal entry.
type QueuedFolder struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// Checkpoint captures enough traversal state to resume after a crash
// or pause. Replaying from a checkpoint is idempotent: the visited set
// skips finished folders and Chunks names the next record chunk to
// write, so a replayed folder overwrites rather than duplicates.
type Checkpoint struct {
	Queue   []QueuedFolder `json:"queue"`
	Visited []string       `json:"visited"`
	Chunks  int            `json:"chunks"`

	FilesSeen    int64   `json:"filesSeen"`
	BytesSeen    int64   `json:"bytesSeen"`
	LastSequence int64   `json:"lastSequence"`
	AvgBranching float64 `json:"avgBranching"`
}

// Snapshot is the immutable result of a completed scan.
type Snapshot struct {
	ID         string    `json:"id"`
	ScanID     string    `json:"scanId"`
	UserKey    string    `json:"userKey"`
	TakenAt    time.Time `json:"takenAt"`
	TotalFiles int64     `json:"totalFiles"`
	TotalBytes int64     `json:"totalBytes"`
}

// DB persists scan jobs and their checkpoints.
type DB interface {
	// Create stores a new job.
	Create(ctx context.Context, job *Job) error
	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, scanID string) (*Job, error)
	// Update replaces the stored job.
	Update(ctx context.Context, job *Job) error
	// ListActive returns jobs whose status occupies a scan slot.
	ListActive(ctx context.Context) ([]*Job, error)

	// WriteCheckpoint replaces the scan's checkpoint.
	WriteCheckpoint(ctx context.Context, scanID string, checkpoint *Checkpoint) error
	// ReadCheckpoint returns the scan's checkpoint or ErrNoCheckpoint.
	ReadCheckpoint(ctx context.Context, scanID string) (*Checkpoint, error)
	// DeleteCheckpoint removes the scan's checkpoint.
	DeleteCheckpoint(ctx context.Context, scanID string) error
}

// Snapshots persists finished scan output. Record chunks are written
// during traversal; Publish writes the header last, which makes the
// snapshot visible atomically.
type Snapshots interface {
	// WriteChunk stores one chunk of records under the snapshot id.
	WriteChunk(ctx context.Context, snapshotID string, chunk int, records []gateway.FileInfo) error
	// Publish stores the snapshot header, finalizing the snapshot.
	Publish(ctx context.Context, snapshot *Snapshot) error
	// Get returns a published snapshot or ErrSnapshotNotFound.
	Get(ctx context.Context, snapshotID string) (*Snapshot, error)
	// Latest returns the most recently published snapshot for the user,
	// or ErrSnapshotNotFound.
	Latest(ctx context.Context, userKey string) (*Snapshot, error)
	// ReadRecords streams the records of a published snapshot.
	ReadRecords(ctx context.Context, snapshotID string, fn func(gateway.FileInfo) error) error
}
