// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package action

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"storj.io/drivesweep/gateway"
)

// Restore undoes the successful operations recorded in the batch's
// rollback plan. A non-empty subset restricts restoration to those
// file ids. Restore requires a fresh credential and refuses once the
// plan is past retention, without touching the remote.
func (engine *Engine) Restore(ctx context.Context, batchID string, subset []string) (logs []RestoreLog, err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := engine.db.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !canTransition(batch.Status, StatusRolledBack) {
		return nil, ErrBatchState.New("cannot restore batch in status %q", batch.Status)
	}
	if batch.Rollback == nil || len(batch.Rollback.Entries) == 0 {
		return nil, ErrBatchState.New("batch %s has no rollback plan", batchID)
	}

	now := engine.nowFn()
	if now.After(batch.Rollback.ExpiresAt) {
		batch.Status = StatusExpired
		if updateErr := engine.db.Update(ctx, batch); updateErr != nil {
			engine.log.Warn("failed to mark batch expired",
				zap.String("batchID", batchID), zap.Error(updateErr))
		}
		return nil, ErrRestoreExpired.New("rollback plan expired at %s", batch.Rollback.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	}

	if err := engine.tokens.RequireFresh(ctx, batch.UserKey, engine.config.FreshWindow); err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, fileID := range subset {
		wanted[fileID] = true
	}

	for _, entry := range batch.Rollback.Entries {
		if len(wanted) > 0 && !wanted[entry.FileID] && !wanted[entry.CreatedID] {
			continue
		}
		logs = append(logs, engine.restoreEntry(ctx, batch, entry))
	}

	if len(wanted) == 0 {
		batch.Status = StatusRolledBack
		if err := engine.db.Update(ctx, batch); err != nil {
			return logs, err
		}
	}
	engine.log.Info("batch restored",
		zap.String("batchID", batchID),
		zap.Int("entries", len(logs)))
	return logs, nil
}

func (engine *Engine) restoreEntry(ctx context.Context, batch *Batch, entry RollbackEntry) RestoreLog {
	switch entry.Kind {
	case KindTrash:
		return engine.restoreTrash(ctx, batch, entry)
	case KindMove, KindArchive:
		return engine.restoreMove(ctx, batch, entry)
	case KindRename:
		return engine.restoreRename(ctx, batch, entry)
	case KindCopy, KindCreateFolder:
		return engine.restoreCreated(ctx, batch, entry)
	}
	return RestoreLog{
		ProposalID: entry.ProposalID,
		FileID:     entry.FileID,
		Op:         string(entry.Kind),
		Status:     RestoreFailed,
		Error:      "unknown rollback entry kind",
	}
}

// restoreTrash un-trashes and re-parents to the recorded previous
// parents when they still exist.
func (engine *Engine) restoreTrash(ctx context.Context, batch *Batch, entry RollbackEntry) RestoreLog {
	log := RestoreLog{ProposalID: entry.ProposalID, FileID: entry.FileID, Op: "untrash"}

	file, err := engine.gateway.Untrash(ctx, batch.UserKey, entry.FileID)
	if err != nil {
		return failedRestore(log, err)
	}
	if sameParents(file.Parents, entry.PreviousParents) {
		log.Status = RestoreNoop
		return log
	}
	previous := engine.existingParents(ctx, batch.UserKey, entry.PreviousParents)
	if len(previous) == 0 {
		log.Status = RestoreFailed
		log.Error = "DependencyMissing: no previous parent exists"
		return log
	}
	if _, err := engine.gateway.Move(ctx, batch.UserKey, entry.FileID, previous, file.Parents); err != nil {
		return failedRestore(log, err)
	}
	log.Status = RestoreRestored
	log.From = strings.Join(file.Parents, ",")
	log.To = strings.Join(previous, ",")
	return log
}

// restoreMove re-parents to the previous parents, filtering parents
// that no longer exist. Re-homing to nowhere is refused.
func (engine *Engine) restoreMove(ctx context.Context, batch *Batch, entry RollbackEntry) RestoreLog {
	log := RestoreLog{ProposalID: entry.ProposalID, FileID: entry.FileID, Op: "reparent"}

	file, err := engine.gateway.GetFile(ctx, batch.UserKey, entry.FileID)
	if err != nil {
		return failedRestore(log, err)
	}
	if sameParents(file.Parents, entry.PreviousParents) {
		log.Status = RestoreNoop
		return log
	}
	previous := engine.existingParents(ctx, batch.UserKey, entry.PreviousParents)
	if len(previous) == 0 {
		log.Status = RestoreFailed
		log.Error = "DependencyMissing: no previous parent exists"
		return log
	}
	if _, err := engine.gateway.Move(ctx, batch.UserKey, entry.FileID, previous, file.Parents); err != nil {
		return failedRestore(log, err)
	}
	log.Status = RestoreRestored
	log.From = strings.Join(file.Parents, ",")
	log.To = strings.Join(previous, ",")
	return log
}

func (engine *Engine) restoreRename(ctx context.Context, batch *Batch, entry RollbackEntry) RestoreLog {
	log := RestoreLog{ProposalID: entry.ProposalID, FileID: entry.FileID, Op: "rename"}

	file, err := engine.gateway.GetFile(ctx, batch.UserKey, entry.FileID)
	if err != nil {
		return failedRestore(log, err)
	}
	if file.Name == entry.PreviousName {
		log.Status = RestoreNoop
		return log
	}
	if _, err := engine.gateway.Rename(ctx, batch.UserKey, entry.FileID, entry.PreviousName); err != nil {
		return failedRestore(log, err)
	}
	log.Status = RestoreRestored
	log.From = file.Name
	log.To = entry.PreviousName
	return log
}

// restoreCreated trashes the id created by a copy or create_folder. A
// file that is already gone counts as done.
func (engine *Engine) restoreCreated(ctx context.Context, batch *Batch, entry RollbackEntry) RestoreLog {
	log := RestoreLog{ProposalID: entry.ProposalID, FileID: entry.CreatedID, Op: "trash"}

	if _, err := engine.gateway.Trash(ctx, batch.UserKey, entry.CreatedID); err != nil {
		if gateway.ErrNotFound.Has(err) {
			log.Status = RestoreNoop
			return log
		}
		return failedRestore(log, err)
	}
	log.Status = RestoreRestored
	return log
}

// existingParents keeps only the parents that still resolve and are
// not trashed.
func (engine *Engine) existingParents(ctx context.Context, userKey string, parents []string) []string {
	var existing []string
	for _, parent := range parents {
		folder, err := engine.gateway.GetFile(ctx, userKey, parent)
		if err != nil || folder.Trashed {
			continue
		}
		existing = append(existing, parent)
	}
	return existing
}

func sameParents(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	left := append([]string(nil), a...)
	right := append([]string(nil), b...)
	sort.Strings(left)
	sort.Strings(right)
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func failedRestore(log RestoreLog, err error) RestoreLog {
	log.Status = RestoreFailed
	log.Error = err.Error()
	return log
}
