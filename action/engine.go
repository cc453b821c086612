// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package action

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/common/uuid"
	"storj.io/drivesweep/events"
	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/jobs"
	"storj.io/drivesweep/tokens"
)

// Engine executes approved batches and restores from rollback plans.
type Engine struct {
	log      *zap.Logger
	db       DB
	gateway  *gateway.Service
	tokens   *tokens.Store
	bus      *events.Bus
	registry *jobs.Registry
	config   Config

	nowFn func() time.Time
}

// NewEngine creates an action engine.
func NewEngine(log *zap.Logger, db DB, gw *gateway.Service, tokenStore *tokens.Store, bus *events.Bus, registry *jobs.Registry, config Config) *Engine {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = time.Second
	}
	if config.PreviewLimit <= 0 {
		config.PreviewLimit = 10
	}
	if config.RollbackRetention <= 0 {
		config.RollbackRetention = 30 * 24 * time.Hour
	}
	if config.FreshWindow <= 0 {
		config.FreshWindow = 10 * time.Minute
	}
	if config.ArchiveFolder == "" {
		config.ArchiveFolder = "Archive"
	}
	return &Engine{
		log:      log,
		db:       db,
		gateway:  gw,
		tokens:   tokenStore,
		bus:      bus,
		registry: registry,
		config:   config,
		nowFn:    time.Now,
	}
}

// TestSetNow overrides the engine clock, for tests.
func (engine *Engine) TestSetNow(now func() time.Time) { engine.nowFn = now }

// Submit validates the proposals and persists an approved batch.
func (engine *Engine) Submit(ctx context.Context, userKey string, proposals []Proposal, level SafetyLevel, continueOnError bool, maxConcurrency int) (_ *Batch, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(proposals) == 0 {
		return nil, ErrProposalInvalid.New("batch has no proposals")
	}
	switch level {
	case SafetyAggressive, SafetyNormal, SafetyConservative:
	case "":
		level = SafetyNormal
	default:
		return nil, ErrProposalInvalid.New("unknown safety level %q", level)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = engine.config.MaxConcurrency
	}
	if maxConcurrency > 10 {
		maxConcurrency = 10
	}

	creators := map[string]bool{}
	for i := range proposals {
		if proposals[i].ID == "" {
			id, err := uuid.New()
			if err != nil {
				return nil, Error.Wrap(err)
			}
			proposals[i].ID = id.String()
		}
		if proposals[i].Kind == KindCreateFolder {
			creators[proposals[i].ID] = true
		}
	}
	for _, proposal := range proposals {
		if err := validateProposal(proposal, creators); err != nil {
			return nil, err
		}
	}

	id, err := uuid.New()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	batch := &Batch{
		ID:              id.String(),
		UserKey:         userKey,
		Status:          StatusApproved,
		SafetyLevel:     level,
		ContinueOnError: continueOnError,
		MaxConcurrency:  maxConcurrency,
		Proposals:       proposals,
		CreatedAt:       engine.nowFn(),
	}
	if err := engine.db.Create(ctx, batch); err != nil {
		return nil, err
	}
	engine.log.Info("batch submitted",
		zap.String("batchID", batch.ID),
		zap.String("userKey", userKey),
		zap.Int("proposals", len(proposals)),
		zap.String("safetyLevel", string(level)))
	return batch, nil
}

func validateProposal(proposal Proposal, creators map[string]bool) error {
	if proposal.TargetRef != "" && !creators[proposal.TargetRef] {
		return ErrProposalInvalid.New("proposal %s references unknown folder proposal %q", proposal.ID, proposal.TargetRef)
	}
	switch proposal.Kind {
	case KindCreateFolder:
		if proposal.NewName == "" {
			return ErrProposalInvalid.New("proposal %s: create_folder needs a name", proposal.ID)
		}
	case KindMove, KindCopy:
		if proposal.FileID == "" {
			return ErrProposalInvalid.New("proposal %s: missing file id", proposal.ID)
		}
		if proposal.TargetID == "" && proposal.TargetRef == "" {
			return ErrProposalInvalid.New("proposal %s: %s needs a destination", proposal.ID, proposal.Kind)
		}
	case KindRename:
		if proposal.FileID == "" || proposal.NewName == "" {
			return ErrProposalInvalid.New("proposal %s: rename needs a file id and a new name", proposal.ID)
		}
	case KindTrash, KindArchive:
		if proposal.FileID == "" {
			return ErrProposalInvalid.New("proposal %s: missing file id", proposal.ID)
		}
	default:
		return ErrProposalInvalid.New("proposal %s: unknown kind %q", proposal.ID, proposal.Kind)
	}
	return nil
}

// Status returns the batch with its recorded results.
func (engine *Engine) Status(ctx context.Context, batchID string) (_ *Batch, err error) {
	defer mon.Task()(&ctx)(&err)
	return engine.db.Get(ctx, batchID)
}

// Cancel requests cancellation of an executing batch. The executor
// observes the request before dispatching the next wave.
func (engine *Engine) Cancel(ctx context.Context, batchID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := engine.db.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status != StatusExecuting {
		return ErrBatchState.New("cannot cancel batch in status %q", batch.Status)
	}
	batch.CancelRequested = true
	return engine.db.Update(ctx, batch)
}

// Execute runs the batch. Preview mode runs only the safety preflight
// on the first few proposals and never touches the remote; immediate
// mode executes the full batch and records the rollback plan.
func (engine *Engine) Execute(ctx context.Context, batchID string, mode Mode) (_ []Result, err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := engine.db.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !canTransition(batch.Status, StatusExecuting) {
		return nil, ErrBatchState.New("cannot execute batch in status %q", batch.Status)
	}

	switch mode {
	case ModePreview:
		return engine.preview(ctx, batch)
	case ModeImmediate:
		return engine.execute(ctx, batch)
	}
	return nil, Error.New("unknown execution mode %q", mode)
}

// preview projects preflight outcomes without mutating anything.
func (engine *Engine) preview(ctx context.Context, batch *Batch) (results []Result, err error) {
	defer mon.Task()(&ctx)(&err)

	limit := engine.config.PreviewLimit
	if limit > len(batch.Proposals) {
		limit = len(batch.Proposals)
	}
	for _, proposal := range batch.Proposals[:limit] {
		if proposal.Kind == KindCreateFolder {
			results = append(results, Result{ProposalID: proposal.ID, Status: ResultSuccess})
			continue
		}
		file, err := engine.gateway.GetFile(ctx, batch.UserKey, proposal.FileID)
		if err != nil {
			if gateway.ErrNotFound.Has(err) {
				results = append(results, Result{ProposalID: proposal.ID, Status: ResultFailed, Error: err.Error()})
				continue
			}
			return nil, err
		}
		warnings, skipReason := preflight(batch.SafetyLevel, proposal.Kind, file)
		if skipReason != "" {
			results = append(results, Result{ProposalID: proposal.ID, Status: ResultSkipped, Reason: skipReason})
			continue
		}
		results = append(results, Result{ProposalID: proposal.ID, Status: ResultSuccess, Warnings: warnings})
	}
	return results, nil
}

// executionState is shared between the workers of one run.
type executionState struct {
	mu        sync.Mutex
	results   map[string]Result
	rollback  []RollbackEntry
	created   map[string]string // proposal id -> created folder id
	archiveID string
	halted    bool
}

func (state *executionState) record(result Result, entry *RollbackEntry, continueOnError bool) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.results[result.ProposalID] = result
	if entry != nil {
		state.rollback = append(state.rollback, *entry)
	}
	if result.Status == ResultFailed && !continueOnError {
		state.halted = true
	}
}

func (engine *Engine) execute(ctx context.Context, batch *Batch) (_ []Result, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := engine.registry.AdmitBatch(batch.UserKey, batch.ID); err != nil {
		return nil, err
	}
	defer engine.registry.Release(batch.ID)

	batch.Status = StatusExecuting
	batch.StartedAt = engine.nowFn()
	if err := engine.db.Update(ctx, batch); err != nil {
		return nil, err
	}
	topic := events.ActionTopic(batch.ID)
	engine.bus.Publish(topic, events.KindPhase, "executing")

	// create_folder proposals run to completion before any dependent
	// starts, so a TargetRef always resolves to an existing folder
	var creators, dependents []Proposal
	for _, proposal := range batch.Proposals {
		if proposal.Kind == KindCreateFolder {
			creators = append(creators, proposal)
		} else {
			dependents = append(dependents, proposal)
		}
	}
	ordered := append(append(make([]Proposal, 0, len(batch.Proposals)), creators...), dependents...)

	state := &executionState{
		results: make(map[string]Result, len(ordered)),
		created: map[string]string{},
	}

	waveSize := batch.MaxConcurrency
	if waveSize > 10 {
		waveSize = 10
	}
	limiter := sync2.NewLimiter(waveSize)

	cancelled := false
	firstWave := true
	for _, phase := range [][]Proposal{creators, dependents} {
		for start := 0; start < len(phase) && !cancelled; start += waveSize {
			if !firstWave && !sync2.Sleep(ctx, engine.config.Cooldown) {
				cancelled = true
				break
			}
			firstWave = false
			state.mu.Lock()
			halted := state.halted
			state.mu.Unlock()
			if halted {
				break
			}
			if fresh, err := engine.db.Get(ctx, batch.ID); err == nil && fresh.CancelRequested {
				cancelled = true
				break
			}

			end := start + waveSize
			if end > len(phase) {
				end = len(phase)
			}
			for _, proposal := range phase[start:end] {
				proposal := proposal
				started := limiter.Go(ctx, func() {
					result, entry := engine.runProposal(ctx, batch, proposal, state)
					state.record(result, entry, batch.ContinueOnError)
				})
				if !started {
					cancelled = true
					break
				}
			}
			limiter.Wait()

			engine.bus.Publish(topic, events.KindProgress, engine.tally(batch, state))
		}
		if cancelled {
			break
		}
	}

	return engine.finalize(ctx, batch, ordered, state, cancelled)
}

func (engine *Engine) tally(batch *Batch, state *executionState) Progress {
	state.mu.Lock()
	defer state.mu.Unlock()
	return engine.tallyLocked(batch, state)
}

func (engine *Engine) finalize(ctx context.Context, batch *Batch, ordered []Proposal, state *executionState, cancelled bool) ([]Result, error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	hardFailure := false
	results := make([]Result, 0, len(ordered))
	for _, proposal := range batch.Proposals {
		result, done := state.results[proposal.ID]
		if !done {
			result = Result{ProposalID: proposal.ID, Status: ResultCancelled}
		}
		if result.Status == ResultFailed {
			hardFailure = true
		}
		results = append(results, result)
	}
	batch.Results = results

	now := engine.nowFn()
	batch.FinishedAt = now
	if len(state.rollback) > 0 {
		sort.Slice(state.rollback, func(i, k int) bool {
			return state.rollback[i].ProposalID < state.rollback[k].ProposalID
		})
		batch.Rollback = &RollbackPlan{
			Entries:    state.rollback,
			ExecutedAt: now,
			ExpiresAt:  now.Add(engine.config.RollbackRetention),
		}
	}

	topic := events.ActionTopic(batch.ID)
	switch {
	case cancelled:
		batch.Status = StatusFailed
		batch.Error = "cancelled"
		engine.bus.Publish(topic, events.KindError, "cancelled")
	case hardFailure && !batch.ContinueOnError:
		batch.Status = StatusFailed
		batch.Error = "proposal failed"
		engine.bus.Publish(topic, events.KindError, "proposal failed")
	default:
		batch.Status = StatusExecuted
		engine.bus.Publish(topic, events.KindComplete, engine.tallyLocked(batch, state))
	}

	if err := engine.db.Update(ctx, batch); err != nil {
		return nil, err
	}
	mon.IntVal("action_batch_proposals").Observe(int64(len(results)))
	engine.log.Info("batch finished",
		zap.String("batchID", batch.ID),
		zap.String("status", string(batch.Status)))
	return results, nil
}

// tallyLocked is tally for callers already holding state.mu.
func (engine *Engine) tallyLocked(batch *Batch, state *executionState) Progress {
	progress := Progress{Total: len(batch.Proposals)}
	for _, result := range state.results {
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

// resolveTarget returns the destination folder id for a proposal.
func (engine *Engine) resolveTarget(proposal Proposal, state *executionState) (string, error) {
	if proposal.TargetRef == "" {
		return proposal.TargetID, nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	created, ok := state.created[proposal.TargetRef]
	if !ok {
		return "", Error.New("folder proposal %s has not completed", proposal.TargetRef)
	}
	return created, nil
}

// archiveFolder creates the archive folder once per run.
func (engine *Engine) archiveFolder(ctx context.Context, batch *Batch, state *executionState) (string, error) {
	state.mu.Lock()
	if state.archiveID != "" {
		id := state.archiveID
		state.mu.Unlock()
		return id, nil
	}
	state.mu.Unlock()

	root, err := engine.gateway.Root(ctx, batch.UserKey)
	if err != nil {
		return "", err
	}
	folder, err := engine.gateway.CreateFolder(ctx, batch.UserKey, root.ID, engine.config.ArchiveFolder)
	if err != nil {
		return "", err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.archiveID == "" {
		state.archiveID = folder.ID
	}
	return state.archiveID, nil
}

func (engine *Engine) runProposal(ctx context.Context, batch *Batch, proposal Proposal, state *executionState) (Result, *RollbackEntry) {
	result := Result{ProposalID: proposal.ID}

	if proposal.Kind == KindCreateFolder {
		parent, err := engine.resolveTarget(proposal, state)
		if err != nil {
			return failed(result, err), nil
		}
		if parent == "" {
			root, err := engine.gateway.Root(ctx, batch.UserKey)
			if err != nil {
				return failed(result, err), nil
			}
			parent = root.ID
		}
		folder, err := engine.gateway.CreateFolder(ctx, batch.UserKey, parent, proposal.NewName)
		if err != nil {
			return failed(result, err), nil
		}
		state.mu.Lock()
		state.created[proposal.ID] = folder.ID
		state.mu.Unlock()

		result.Status = ResultSuccess
		result.CreatedID = folder.ID
		return result, &RollbackEntry{ProposalID: proposal.ID, Kind: proposal.Kind, CreatedID: folder.ID}
	}

	file, err := engine.gateway.GetFile(ctx, batch.UserKey, proposal.FileID)
	if err != nil {
		return failed(result, err), nil
	}
	warnings, skipReason := preflight(batch.SafetyLevel, proposal.Kind, file)
	if skipReason != "" {
		result.Status = ResultSkipped
		result.Reason = skipReason
		return result, nil
	}
	result.Warnings = warnings

	entry := &RollbackEntry{ProposalID: proposal.ID, FileID: proposal.FileID, Kind: proposal.Kind}

	switch proposal.Kind {
	case KindMove:
		target, err := engine.resolveTarget(proposal, state)
		if err != nil {
			return failed(result, err), nil
		}
		if _, err := engine.gateway.Move(ctx, batch.UserKey, proposal.FileID, []string{target}, file.Parents); err != nil {
			return failed(result, err), nil
		}
		entry.PreviousParents = file.Parents

	case KindRename:
		if _, err := engine.gateway.Rename(ctx, batch.UserKey, proposal.FileID, proposal.NewName); err != nil {
			return failed(result, err), nil
		}
		entry.PreviousName = file.Name

	case KindTrash:
		if _, err := engine.gateway.Trash(ctx, batch.UserKey, proposal.FileID); err != nil {
			return failed(result, err), nil
		}
		entry.PreviousParents = file.Parents

	case KindArchive:
		archiveID, err := engine.archiveFolder(ctx, batch, state)
		if err != nil {
			return failed(result, err), nil
		}
		if _, err := engine.gateway.Move(ctx, batch.UserKey, proposal.FileID, []string{archiveID}, file.Parents); err != nil {
			return failed(result, err), nil
		}
		entry.PreviousParents = file.Parents
		entry.ArchiveFolderID = archiveID

	case KindCopy:
		target, err := engine.resolveTarget(proposal, state)
		if err != nil {
			return failed(result, err), nil
		}
		name := proposal.NewName
		if name == "" {
			name = file.Name
		}
		copied, err := engine.gateway.Copy(ctx, batch.UserKey, proposal.FileID, target, name)
		if err != nil {
			return failed(result, err), nil
		}
		result.CreatedID = copied.ID
		entry.CreatedID = copied.ID
	}

	result.Status = ResultSuccess
	return result, entry
}

func failed(result Result, err error) Result {
	result.Status = ResultFailed
	result.Error = err.Error()
	return result
}
