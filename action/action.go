// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package action executes approved proposal batches against the
// remote drive with per-file safety preflight, bounded parallelism,
// and a rollback plan good for a retention window.
package action

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default action errs class.
	Error = errs.Class("action")
	// ErrNotFound means the batch does not exist.
	ErrNotFound = errs.Class("batch not found")
	// ErrBatchState means the requested transition is not allowed from
	// the batch's current status.
	ErrBatchState = errs.Class("batch state invalid")
	// ErrRestoreExpired means the rollback plan is past its retention.
	ErrRestoreExpired = errs.Class("restore expired")
	// ErrProposalInvalid means a submitted proposal is malformed.
	ErrProposalInvalid = errs.Class("proposal invalid")

	mon = monkit.Package()
)

// Kind is the proposal operation kind.
type Kind string

// Proposal kinds.
const (
	KindMove         Kind = "move"
	KindRename       Kind = "rename"
	KindTrash        Kind = "trash"
	KindArchive      Kind = "archive"
	KindCopy         Kind = "copy"
	KindCreateFolder Kind = "create_folder"
)

// SafetyLevel selects how strict the per-file preflight is.
type SafetyLevel string

// Safety levels.
const (
	SafetyAggressive   SafetyLevel = "aggressive"
	SafetyNormal       SafetyLevel = "normal"
	SafetyConservative SafetyLevel = "conservative"
)

// Status is the batch lifecycle status.
type Status string

// Batch statuses.
const (
	StatusDraft      Status = "draft"
	StatusApproved   Status = "approved"
	StatusExecuting  Status = "executing"
	StatusExecuted   Status = "executed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusExpired    Status = "expired"
)

// Mode selects how Execute runs.
type Mode string

// Execution modes.
const (
	ModePreview   Mode = "preview"
	ModeImmediate Mode = "immediate"
)

// Proposal is one intended change to one file. FileID is empty for
// create_folder, which instead uses TargetID as the parent and NewName
// as the folder name. TargetRef names a create_folder proposal in the
// same batch whose created folder becomes the destination.
type Proposal struct {
	ID        string `json:"id"`
	FileID    string `json:"fileId,omitempty"`
	Kind      Kind   `json:"kind"`
	TargetID  string `json:"targetId,omitempty"`
	TargetRef string `json:"targetRef,omitempty"`
	NewName   string `json:"newName,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// ResultStatus is the per-proposal outcome.
type ResultStatus string

// Per-proposal outcomes.
const (
	ResultSuccess   ResultStatus = "success"
	ResultSkipped   ResultStatus = "skipped"
	ResultFailed    ResultStatus = "failed"
	ResultCancelled ResultStatus = "cancelled"
)

// Result is the recorded outcome of one proposal.
type Result struct {
	ProposalID string       `json:"proposalId"`
	Status     ResultStatus `json:"status"`
	Warnings   []string     `json:"warnings,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedID  string       `json:"createdId,omitempty"`
}

// RollbackEntry captures the pre-state of one successful operation.
type RollbackEntry struct {
	ProposalID      string   `json:"proposalId"`
	FileID          string   `json:"fileId,omitempty"`
	Kind            Kind     `json:"kind"`
	PreviousParents []string `json:"previousParents,omitempty"`
	PreviousName    string   `json:"previousName,omitempty"`
	CreatedID       string   `json:"createdId,omitempty"`
	ArchiveFolderID string   `json:"archiveFolderId,omitempty"`
}

// RollbackPlan is the batch's undo record. It expires at ExpiresAt.
type RollbackPlan struct {
	Entries    []RollbackEntry `json:"entries"`
	ExecutedAt time.Time       `json:"executedAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
}

// RestoreLog is one entry of a restore run.
type RestoreLog struct {
	ProposalID string `json:"proposalId"`
	FileID     string `json:"fileId,omitempty"`
	Op         string `json:"op"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Restore log statuses.
const (
	RestoreRestored = "restored"
	RestoreNoop     = "noop"
	RestoreFailed   = "failed"
)

// Progress summarizes per-proposal outcomes.
type Progress struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Batch is one persisted action batch. Only the engine owning the
// batch mutates it.
type Batch struct {
	ID      string `json:"id"`
	UserKey string `json:"userKey"`
	Status  Status `json:"status"`

	SafetyLevel     SafetyLevel `json:"safetyLevel"`
	ContinueOnError bool        `json:"continueOnError"`
	MaxConcurrency  int         `json:"maxConcurrency"`

	Proposals []Proposal    `json:"proposals"`
	Results   []Result      `json:"results,omitempty"`
	Rollback  *RollbackPlan `json:"rollback,omitempty"`

	CancelRequested bool `json:"cancelRequested"`

	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Error      string    `json:"error,omitempty"`
}

// Progress tallies the recorded results.
func (batch *Batch) Progress() Progress {
	progress := Progress{Total: len(batch.Proposals)}
	for _, result := range batch.Results {
		switch result.Status {
		case ResultSuccess:
			progress.Succeeded++
		case ResultSkipped:
			progress.Skipped++
		case ResultFailed:
			progress.Failed++
		case ResultCancelled:
			progress.Cancelled++
		}
	}
	return progress
}

// canTransition reports whether the batch may move to the next status.
func canTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusApproved
	case StatusApproved:
		return to == StatusExecuting
	case StatusExecuting:
		return to == StatusExecuted || to == StatusFailed
	case StatusExecuted, StatusFailed:
		return to == StatusRolledBack || to == StatusExpired
	}
	return false
}

// DB persists action batches.
type DB interface {
	// Create stores a new batch.
	Create(ctx context.Context, batch *Batch) error
	// Get returns the batch or ErrNotFound.
	Get(ctx context.Context, batchID string) (*Batch, error)
	// Update replaces the stored batch.
	Update(ctx context.Context, batch *Batch) error
}

// Config contains configurable values for the action engine.
type Config struct {
	MaxConcurrency    int           `help:"parallel operations within one execution wave" default:"5"`
	Cooldown          time.Duration `help:"pause between execution waves" default:"1s"`
	PreviewLimit      int           `help:"proposals inspected by a preview run" default:"10"`
	RollbackRetention time.Duration `help:"how long a rollback plan stays restorable" default:"720h"`
	FreshWindow       time.Duration `help:"maximum credential age accepted for restore" default:"10m"`
	ArchiveFolder     string        `help:"name of the on-demand archive folder" default:"Archive"`
}
