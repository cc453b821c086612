// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package scan

import (
	"context"
	"errors"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/common/uuid"

	"storj.io/drivesweep/events"
	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/jobs"
	"storj.io/drivesweep/tokens"
)

// ErrCancelled is the terminal classification of a cancelled scan.
var ErrCancelled = errs.Class("scan cancelled")

// Config contains configurable values for the scan engine.
type Config struct {
	CheckpointEveryFiles int           `help:"write a checkpoint after this many files" default:"500"`
	CheckpointInterval   time.Duration `help:"write a checkpoint at least this often" default:"5s"`
	ProgressInterval     time.Duration `help:"minimum interval between progress events" default:"500ms"`
	MaxDepth             int           `help:"default traversal depth limit" default:"20"`
	DepthCap             int           `help:"hard cap on the traversal depth limit" default:"50"`
	OverallTimeout       time.Duration `help:"overall deadline for a single scan" default:"60m"`
	Concurrency          int           `help:"how many scans may run at once across users" default:"4"`
	QueueSize            int           `help:"pending scan intake queue size" default:"128"`
}

// Engine drives resumable breadth-first scans. Traversal within one
// scan is single-threaded for simple checkpointing; scans of different
// users run in parallel up to Concurrency.
type Engine struct {
	log       *zap.Logger
	db        DB
	snapshots Snapshots
	gateway   *gateway.Service
	bus       *events.Bus
	registry  *jobs.Registry
	config    Config

	intake chan string
	nowFn  func() time.Time
}

// NewEngine creates a scan engine.
func NewEngine(log *zap.Logger, db DB, snapshots Snapshots, gw *gateway.Service, bus *events.Bus, registry *jobs.Registry, config Config) *Engine {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 128
	}
	return &Engine{
		log:       log,
		db:        db,
		snapshots: snapshots,
		gateway:   gw,
		bus:       bus,
		registry:  registry,
		config:    config,
		intake:    make(chan string, config.QueueSize),
		nowFn:     time.Now,
	}
}

// Run processes admitted scans until ctx is done. On startup it sweeps
// the database for scans interrupted by a previous shutdown and resumes
// them from their checkpoints.
func (engine *Engine) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := engine.recoverInterrupted(ctx); err != nil {
		engine.log.Error("recovery sweep failed", zap.Error(err))
	}

	limiter := sync2.NewLimiter(engine.config.Concurrency)
	defer limiter.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scanID := <-engine.intake:
			started := limiter.Go(ctx, func() {
				engine.process(ctx, scanID)
			})
			if !started {
				return ctx.Err()
			}
		}
	}
}

func (engine *Engine) recoverInterrupted(ctx context.Context) error {
	active, err := engine.db.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, job := range active {
		if err := engine.registry.AdmitScan(job.UserKey, job.ID); err != nil {
			continue
		}
		select {
		case engine.intake <- job.ID:
			engine.log.Info("resuming interrupted scan",
				zap.String("scanID", job.ID),
				zap.String("userKey", job.UserKey))
		default:
			engine.registry.Release(job.ID)
		}
	}
	return nil
}

// Start admits and queues a scan for the user. At most one scan per
// user may be active; a second request fails with ErrScanAlreadyActive.
func (engine *Engine) Start(ctx context.Context, userKey string, options Options) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if options.MaxDepth <= 0 {
		options.MaxDepth = engine.config.MaxDepth
	}
	if options.MaxDepth > engine.config.DepthCap {
		options.MaxDepth = engine.config.DepthCap
	}

	id, err := uuid.New()
	if err != nil {
		return "", Error.Wrap(err)
	}
	scanID := id.String()

	if err := engine.registry.AdmitScan(userKey, scanID); err != nil {
		return "", err
	}

	job := &Job{
		ID:        scanID,
		UserKey:   userKey,
		Status:    StatusQueued,
		Options:   options,
		UpdatedAt: engine.nowFn(),
	}
	if err := engine.db.Create(ctx, job); err != nil {
		engine.registry.Release(scanID)
		return "", Error.Wrap(err)
	}

	select {
	case engine.intake <- scanID:
	default:
		engine.registry.Release(scanID)
		engine.finishJob(ctx, job, StatusFailed, "scan intake queue full")
		return "", Error.New("scan intake queue full")
	}
	return scanID, nil
}

// Status returns the job's current state.
func (engine *Engine) Status(ctx context.Context, scanID string) (*Job, error) {
	return engine.db.Get(ctx, scanID)
}

// Cancel requests cancellation. The traversal observes the request
// after the folder in flight and shuts the scan down cleanly.
func (engine *Engine) Cancel(ctx context.Context, scanID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	job, err := engine.db.Get(ctx, scanID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	job.CancelRequested = true
	job.UpdatedAt = engine.nowFn()
	return engine.db.Update(ctx, job)
}

// process runs one admitted scan to a terminal status.
func (engine *Engine) process(ctx context.Context, scanID string) {
	log := engine.log.With(zap.String("scanID", scanID))

	job, err := engine.db.Get(ctx, scanID)
	if err != nil {
		log.Error("loading admitted scan", zap.Error(err))
		engine.registry.Release(scanID)
		return
	}
	defer engine.registry.Release(scanID)

	scanCtx := ctx
	var cancel context.CancelFunc
	if engine.config.OverallTimeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, engine.config.OverallTimeout)
		defer cancel()
	}

	state, err := engine.restore(scanCtx, job)
	if err == nil {
		if job.StartedAt.IsZero() {
			job.StartedAt = engine.nowFn()
		}
		job.Status = StatusRunning
		job.UpdatedAt = engine.nowFn()
		if updateErr := engine.db.Update(scanCtx, job); updateErr != nil {
			err = updateErr
		}
	}
	if err == nil {
		err = engine.traverse(scanCtx, job, state)
	}

	topic := events.ScanTopic(job.ID)
	switch {
	case err == nil:
		// traverse finalized the snapshot and the job

	case ErrCancelled.Has(err):
		engine.finishJob(ctx, job, StatusCancelled, "")
		engine.bus.Publish(topic, events.KindPhase, "cancelled")
		log.Info("scan cancelled")

	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		engine.finishJob(ctx, job, StatusFailed, "Deadline")
		engine.bus.Publish(topic, events.KindError, "Deadline")
		log.Warn("scan exceeded overall deadline")

	case ctx.Err() != nil:
		// engine shutdown: leave the job resumable from its checkpoint
		job.Status = StatusPaused
		job.UpdatedAt = engine.nowFn()
		if updateErr := engine.db.Update(context.WithoutCancel(ctx), job); updateErr != nil {
			log.Error("pausing scan", zap.Error(updateErr))
		}
		log.Info("scan paused for shutdown")

	default:
		code := failureCode(err)
		engine.finishJob(ctx, job, StatusFailed, code)
		engine.bus.Publish(topic, events.KindError, code)
		log.Error("scan failed", zap.String("code", code), zap.Error(err))
	}
}

func failureCode(err error) string {
	switch {
	case tokens.ErrCredentialMissing.Has(err):
		return "CredentialMissing"
	case tokens.ErrCredentialRevoked.Has(err):
		return "CredentialRevoked"
	case gateway.ErrForbidden.Has(err):
		return "Forbidden"
	case gateway.ErrQuotaExceeded.Has(err):
		return "QuotaExceeded"
	case gateway.ErrCircuitOpen.Has(err):
		return "CircuitOpen"
	case gateway.ErrNotFound.Has(err):
		return "NotFound"
	default:
		return "Internal"
	}
}

func (engine *Engine) finishJob(ctx context.Context, job *Job, status Status, errorCode string) {
	ctx = context.WithoutCancel(ctx)
	job.Status = status
	job.Error = errorCode
	job.UpdatedAt = engine.nowFn()
	job.FinishedAt = engine.nowFn()
	if err := engine.db.Update(ctx, job); err != nil {
		engine.log.Error("writing terminal scan status",
			zap.String("scanID", job.ID), zap.Error(err))
	}
}

// traversal is the in-memory state restored from a checkpoint.
type traversal struct {
	Queue   []QueuedFolder
	Visited map[string]bool
	Chunks  int

	FilesSeen    int64
	BytesSeen    int64
	LastSequence int64
	AvgBranching float64

	// estimate seeded from the user's previous snapshot, zero when none
	PreviousTotal int64
}

// restore loads the checkpoint, or seeds a fresh traversal from the
// user's roots.
func (engine *Engine) restore(ctx context.Context, job *Job) (_ *traversal, err error) {
	defer mon.Task()(&ctx)(&err)

	state := &traversal{Visited: map[string]bool{}}

	if previous, err := engine.snapshots.Latest(ctx, job.UserKey); err == nil {
		state.PreviousTotal = previous.TotalFiles
	}

	checkpoint, err := engine.db.ReadCheckpoint(ctx, job.ID)
	if err == nil {
		state.Queue = checkpoint.Queue
		for _, id := range checkpoint.Visited {
			state.Visited[id] = true
		}
		state.Chunks = checkpoint.Chunks
		state.FilesSeen = checkpoint.FilesSeen
		state.BytesSeen = checkpoint.BytesSeen
		state.LastSequence = checkpoint.LastSequence
		state.AvgBranching = checkpoint.AvgBranching
		return state, nil
	}
	if !ErrNoCheckpoint.Has(err) {
		return nil, err
	}

	root, err := engine.gateway.Root(ctx, job.UserKey)
	if err != nil {
		return nil, err
	}
	state.Queue = append(state.Queue, QueuedFolder{ID: root.ID, Depth: 0})

	if job.Options.IncludeSharedDrives {
		drives, err := engine.gateway.SharedDrives(ctx, job.UserKey)
		if err != nil {
			return nil, err
		}
		for _, drive := range drives {
			state.Queue = append(state.Queue, QueuedFolder{ID: drive.ID, Depth: 0})
		}
	}
	return state, nil
}

func (engine *Engine) traverse(ctx context.Context, job *Job, state *traversal) (err error) {
	defer mon.Task()(&ctx)(&err)

	topic := events.ScanTopic(job.ID)
	lastCheckpoint := engine.nowFn()
	filesSinceCheckpoint := 0
	lastEmit := engine.nowFn()
	lastPercent := 0
	var lastFiles int64

	for len(state.Queue) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// cancellation is observed between folders
		if fresh, err := engine.db.Get(ctx, job.ID); err == nil && fresh.CancelRequested {
			if err := engine.writeCheckpoint(ctx, job.ID, state); err != nil {
				engine.log.Error("checkpoint on cancel", zap.Error(err))
			}
			return ErrCancelled.New("requested")
		}

		folder := state.Queue[0]
		state.Queue = state.Queue[1:]
		if state.Visited[folder.ID] {
			continue
		}

		records, children, err := engine.listFolder(ctx, job, folder)
		if err != nil {
			if checkpointErr := engine.writeCheckpoint(context.WithoutCancel(ctx), job.ID, state); checkpointErr != nil {
				engine.log.Error("checkpoint on failure", zap.Error(checkpointErr))
			}
			return err
		}

		if folder.Depth < job.Options.MaxDepth {
			for _, child := range children {
				if !state.Visited[child] {
					state.Queue = append(state.Queue, QueuedFolder{ID: child, Depth: folder.Depth + 1})
				}
			}
		}

		if len(records) > 0 {
			if err := engine.snapshots.WriteChunk(ctx, job.ID, state.Chunks, records); err != nil {
				return err
			}
			state.Chunks++
		}
		state.Visited[folder.ID] = true

		files := 0
		for _, record := range records {
			if !record.IsFolder() {
				files++
				state.BytesSeen += record.Size
			}
		}
		state.FilesSeen += int64(files)
		filesSinceCheckpoint += files

		// exponential average of the branching factor feeds the
		// estimate when there is no previous scan to seed from
		const smoothing = 0.3
		state.AvgBranching = (1-smoothing)*state.AvgBranching + smoothing*float64(len(records))

		percent := state.percent(len(state.Queue))
		job.Progress = Progress{FilesSeen: state.FilesSeen, BytesSeen: state.BytesSeen, Percent: percent}

		now := engine.nowFn()
		if percent != lastPercent ||
			(state.FilesSeen > lastFiles && now.Sub(lastEmit) >= engine.config.ProgressInterval) {
			state.LastSequence = engine.bus.Publish(topic, events.KindProgress, job.Progress)
			lastEmit, lastPercent, lastFiles = now, percent, state.FilesSeen
		}

		if filesSinceCheckpoint >= engine.config.CheckpointEveryFiles ||
			now.Sub(lastCheckpoint) >= engine.config.CheckpointInterval {
			// the write is awaited before the next folder starts
			if err := engine.writeCheckpoint(ctx, job.ID, state); err != nil {
				return err
			}
			job.UpdatedAt = now
			if err := engine.db.Update(ctx, job); err != nil {
				return err
			}
			lastCheckpoint = now
			filesSinceCheckpoint = 0
		}
	}

	return engine.finalize(ctx, job, state)
}

// listFolder lists one folder and partitions the result into snapshot
// records and child folders to enqueue.
func (engine *Engine) listFolder(ctx context.Context, job *Job, folder QueuedFolder) (records []gateway.FileInfo, children []string, err error) {
	defer mon.Task()(&ctx)(&err)

	iterator := engine.gateway.ListChildren(ctx, job.UserKey, folder.ID, "")
	for iterator.Next(ctx) {
		record := iterator.Item()
		if record.Trashed && !job.Options.IncludeTrashed {
			continue
		}
		records = append(records, record)
		if record.IsFolder() {
			children = append(children, record.ID)
		}
	}
	if err := iterator.Err(); err != nil {
		return nil, nil, err
	}
	return records, children, nil
}

func (engine *Engine) writeCheckpoint(ctx context.Context, scanID string, state *traversal) error {
	visited := make([]string, 0, len(state.Visited))
	for id := range state.Visited {
		visited = append(visited, id)
	}
	return engine.db.WriteCheckpoint(ctx, scanID, &Checkpoint{
		Queue:        state.Queue,
		Visited:      visited,
		Chunks:       state.Chunks,
		FilesSeen:    state.FilesSeen,
		BytesSeen:    state.BytesSeen,
		LastSequence: state.LastSequence,
		AvgBranching: state.AvgBranching,
	})
}

func (engine *Engine) finalize(ctx context.Context, job *Job, state *traversal) (err error) {
	defer mon.Task()(&ctx)(&err)

	snapshot := &Snapshot{
		ID:         job.ID,
		ScanID:     job.ID,
		UserKey:    job.UserKey,
		TakenAt:    engine.nowFn(),
		TotalFiles: state.FilesSeen,
		TotalBytes: state.BytesSeen,
	}
	if err := engine.snapshots.Publish(ctx, snapshot); err != nil {
		return err
	}

	topic := events.ScanTopic(job.ID)
	job.Progress = Progress{FilesSeen: state.FilesSeen, BytesSeen: state.BytesSeen, Percent: 100}
	engine.bus.Publish(topic, events.KindProgress, job.Progress)
	engine.bus.Publish(topic, events.KindComplete, snapshot)

	engine.finishJob(ctx, job, StatusCompleted, "")
	if err := engine.db.DeleteCheckpoint(ctx, job.ID); err != nil {
		engine.log.Error("deleting checkpoint", zap.String("scanID", job.ID), zap.Error(err))
	}

	mon.IntVal("scan_total_files").Observe(state.FilesSeen)
	mon.IntVal("scan_total_bytes").Observe(state.BytesSeen)
	return nil
}

// percent computes a bounded completion estimate. The estimate never
// reports 100 before finalize.
func (state *traversal) percent(pendingFolders int) int {
	estimated := float64(state.PreviousTotal)
	if estimated <= 0 {
		estimated = float64(state.FilesSeen) + float64(pendingFolders)*state.AvgBranching
	}
	if estimated < float64(state.FilesSeen) {
		estimated = float64(state.FilesSeen)
	}
	if estimated <= 0 {
		return 0
	}
	percent := int(100 * float64(state.FilesSeen) / estimated)
	if percent > 99 {
		percent = 99
	}
	return percent
}
