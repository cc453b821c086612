// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package action_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/drivesweep/action"
	"storj.io/drivesweep/drivesweepdb"
	"storj.io/drivesweep/events"
	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/gateway/testdrive"
	"storj.io/drivesweep/jobs"
	"storj.io/drivesweep/tokens"
)

const testUser = "user-1"

type stubProvider struct{}

func (stubProvider) Exchange(ctx context.Context, code string) (*tokens.Credential, error) {
	return nil, tokens.ErrProviderUnavailable.New("not configured")
}

func (stubProvider) Refresh(ctx context.Context, refreshToken string) (*tokens.Credential, error) {
	return nil, tokens.ErrProviderUnavailable.New("not configured")
}

type harness struct {
	drive  *testdrive.Drive
	tokens *tokens.Store
	bus    *events.Bus
	engine *action.Engine
}

// slowFolderDrive delays folder creation, to exercise orderings where
// a dependent proposal could overtake its folder.
type slowFolderDrive struct {
	*testdrive.Drive
	delay time.Duration
}

func (drive *slowFolderDrive) CreateFolder(ctx context.Context, accessToken, parentID, name string) (gateway.FileInfo, error) {
	time.Sleep(drive.delay)
	return drive.Drive.CreateFolder(ctx, accessToken, parentID, name)
}

func newHarness(t *testing.T, ctx *testcontext.Context, config action.Config) *harness {
	drive := testdrive.New()
	return newHarnessWithDriver(t, ctx, config, drive, drive)
}

func newHarnessWithDriver(t *testing.T, ctx *testcontext.Context, config action.Config, driver gateway.Driver, drive *testdrive.Drive) *harness {
	log := zaptest.NewLogger(t)
	db := drivesweepdb.OpenInMemory(log)

	store, err := tokens.NewStore(log, db.Credentials(), stubProvider{}, tokens.Config{
		EncryptionKey: strings.Repeat("e5", 32),
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, tokens.Credential{
		UserKey:      testUser,
		AccessToken:  "tok-A",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	service := gateway.NewService(log, driver, store, gateway.Config{
		RequestsPerSecond: 1000,
		Burst:             1000,
		PageSize:          100,
		CallTimeout:       10 * time.Second,
		Retry:             gateway.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Circuit:           gateway.CircuitConfig{FailuresToOpen: 100, Window: time.Minute, Cooldown: time.Minute},
	})

	bus := events.NewBus(log, events.Config{})
	t.Cleanup(func() { _ = bus.Close() })

	if config.Cooldown == 0 {
		config.Cooldown = time.Millisecond
	}
	engine := action.NewEngine(log, db.Batches(), service, store, bus, jobs.NewRegistry(), config)
	return &harness{drive: drive, tokens: store, bus: bus, engine: engine}
}

func resultFor(t *testing.T, results []action.Result, proposalID string) action.Result {
	for _, result := range results {
		if result.ProposalID == proposalID {
			return result
		}
	}
	t.Fatalf("no result for proposal %s", proposalID)
	return action.Result{}
}

func TestExecuteTrashSharedNormal(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	shared := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F1", Shared: true})
	private := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F2"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-f1", FileID: shared.ID, Kind: action.KindTrash},
		{ID: "trash-f2", FileID: private.ID, Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// the shared file is still trashed under normal safety, with a warning
	first := resultFor(t, results, "trash-f1")
	require.Equal(t, action.ResultSuccess, first.Status)
	require.Contains(t, first.Warnings, "shared")

	second := resultFor(t, results, "trash-f2")
	require.Equal(t, action.ResultSuccess, second.Status)
	require.Empty(t, second.Warnings)

	for _, id := range []string{shared.ID, private.ID} {
		file, ok := harness.drive.File(id)
		require.True(t, ok)
		require.True(t, file.Trashed)
	}

	stored, err := harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusExecuted, stored.Status)
	require.NotNil(t, stored.Rollback)
	require.Len(t, stored.Rollback.Entries, 2)

	// a full restore brings both files back to their prior parents
	logs, err := harness.engine.Restore(ctx, batch.ID, nil)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		require.Equal(t, "untrash", entry.Op)
		require.NotEqual(t, action.RestoreFailed, entry.Status)
	}
	for _, id := range []string{shared.ID, private.ID} {
		file, ok := harness.drive.File(id)
		require.True(t, ok)
		require.False(t, file.Trashed)
		require.Equal(t, []string{testdrive.RootID}, file.Parents)
	}

	stored, err = harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusRolledBack, stored.Status)
}

func TestExecuteTrashSharedConservative(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	shared := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F1", Shared: true})
	private := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F2"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-f1", FileID: shared.ID, Kind: action.KindTrash},
		{ID: "trash-f2", FileID: private.ID, Kind: action.KindTrash},
	}, action.SafetyConservative, true, 0)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)

	first := resultFor(t, results, "trash-f1")
	require.Equal(t, action.ResultSkipped, first.Status)
	require.Equal(t, "shared", first.Reason)
	require.Equal(t, action.ResultSuccess, resultFor(t, results, "trash-f2").Status)

	file, ok := harness.drive.File(shared.ID)
	require.True(t, ok)
	require.False(t, file.Trashed)

	// the rollback plan covers only the operation that ran
	stored, err := harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Rollback)
	require.Len(t, stored.Rollback.Entries, 1)
	require.Equal(t, private.ID, stored.Rollback.Entries[0].FileID)
}

func TestExecuteCollaboratorsDestructive(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{
		Name: "shared-doc", Shared: true, Permissions: 3,
	})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-1", FileID: file.ID, Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)
	require.Equal(t, action.ResultSkipped, results[0].Status)
	require.Equal(t, "shared_destructive", results[0].Reason)

	// aggressive safety lets the same operation through
	batch, err = harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-2", FileID: file.ID, Kind: action.KindTrash},
	}, action.SafetyAggressive, true, 0)
	require.NoError(t, err)

	results, err = harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)
	require.Equal(t, action.ResultSuccess, results[0].Status)
}

func TestExecuteAllMissingFiles(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-1", FileID: "ghost-1", Kind: action.KindTrash},
		{ID: "trash-2", FileID: "ghost-2", Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)
	for _, result := range results {
		require.Equal(t, action.ResultFailed, result.Status)
		require.Contains(t, result.Error, "not found")
	}

	// nothing succeeded, so there is nothing to roll back
	stored, err := harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusExecuted, stored.Status)
	require.Nil(t, stored.Rollback)

	_, err = harness.engine.Restore(ctx, batch.ID, nil)
	require.True(t, action.ErrBatchState.Has(err))
}

func TestExecuteHaltsOnFailure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "keep.txt"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-1", FileID: "ghost", Kind: action.KindTrash},
		{ID: "trash-2", FileID: file.ID, Kind: action.KindTrash},
	}, action.SafetyNormal, false, 1)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)
	require.Equal(t, action.ResultFailed, resultFor(t, results, "trash-1").Status)
	require.Equal(t, action.ResultCancelled, resultFor(t, results, "trash-2").Status)

	stored, err := harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusFailed, stored.Status)

	untouched, ok := harness.drive.File(file.ID)
	require.True(t, ok)
	require.False(t, untouched.Trashed)
}

func TestExecuteCreateFolderAndMove(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "report.pdf"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "mv-file", FileID: file.ID, Kind: action.KindMove, TargetRef: "mk-folder"},
		{ID: "mk-folder", Kind: action.KindCreateFolder, NewName: "Reports"},
	}, action.SafetyNormal, true, 1)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)

	created := resultFor(t, results, "mk-folder")
	require.Equal(t, action.ResultSuccess, created.Status)
	require.NotEmpty(t, created.CreatedID)
	require.Equal(t, action.ResultSuccess, resultFor(t, results, "mv-file").Status)

	moved, ok := harness.drive.File(file.ID)
	require.True(t, ok)
	require.Equal(t, []string{created.CreatedID}, moved.Parents)

	// restore moves the file home and trashes the created folder
	logs, err := harness.engine.Restore(ctx, batch.ID, nil)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	restored, ok := harness.drive.File(file.ID)
	require.True(t, ok)
	require.Equal(t, []string{testdrive.RootID}, restored.Parents)

	folder, ok := harness.drive.File(created.CreatedID)
	require.True(t, ok)
	require.True(t, folder.Trashed)
}

func TestExecuteFolderCompletesBeforeDependents(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// with a slow folder creation and room for both proposals to run in
	// parallel, the move must still wait for its destination
	drive := testdrive.New()
	harness := newHarnessWithDriver(t, ctx, action.Config{},
		&slowFolderDrive{Drive: drive, delay: 150 * time.Millisecond}, drive)
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "report.pdf"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "mv-file", FileID: file.ID, Kind: action.KindMove, TargetRef: "mk-folder"},
		{ID: "mk-folder", Kind: action.KindCreateFolder, NewName: "Reports"},
	}, action.SafetyNormal, true, 2)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)

	created := resultFor(t, results, "mk-folder")
	require.Equal(t, action.ResultSuccess, created.Status)
	require.Equal(t, action.ResultSuccess, resultFor(t, results, "mv-file").Status)

	moved, ok := harness.drive.File(file.ID)
	require.True(t, ok)
	require.Equal(t, []string{created.CreatedID}, moved.Parents)
}

func TestExecuteReadOnlyCloudNative(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{
		Name:         "Notes",
		MimeType:     "application/vnd.google-apps.document",
		Capabilities: gateway.Capabilities{CanTrash: true, CanMove: true},
	})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "mv-1", FileID: file.ID, Kind: action.KindMove, TargetID: testdrive.RootID},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)
	require.Equal(t, action.ResultSuccess, results[0].Status)
	require.Contains(t, results[0].Warnings, "read_only_cloud_native")

	// conservative safety refuses to touch a read-only native file
	batch, err = harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "mv-2", FileID: file.ID, Kind: action.KindMove, TargetID: testdrive.RootID},
	}, action.SafetyConservative, true, 0)
	require.NoError(t, err)

	results, err = harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)
	require.Equal(t, action.ResultSkipped, results[0].Status)
	require.Equal(t, "read_only_cloud_native", results[0].Reason)
}

func TestExecuteArchive(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	first := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "old-1.bin"})
	second := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "old-2.bin"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "arch-1", FileID: first.ID, Kind: action.KindArchive},
		{ID: "arch-2", FileID: second.ID, Kind: action.KindArchive},
	}, action.SafetyNormal, true, 1)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)
	for _, result := range results {
		require.Equal(t, action.ResultSuccess, result.Status)
	}

	// one archive folder serves the whole run
	require.Equal(t, 1, harness.drive.Calls("CreateFolder"))

	stored, err := harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, stored.Rollback.Entries, 2)
	archiveID := stored.Rollback.Entries[0].ArchiveFolderID
	require.NotEmpty(t, archiveID)

	for _, id := range []string{first.ID, second.ID} {
		file, ok := harness.drive.File(id)
		require.True(t, ok)
		require.Equal(t, []string{archiveID}, file.Parents)
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	shared := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F1", Shared: true})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-f1", FileID: shared.ID, Kind: action.KindTrash},
		{ID: "trash-ghost", FileID: "ghost", Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModePreview)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := resultFor(t, results, "trash-f1")
	require.Equal(t, action.ResultSuccess, first.Status)
	require.Contains(t, first.Warnings, "shared")
	require.Equal(t, action.ResultFailed, resultFor(t, results, "trash-ghost").Status)

	file, ok := harness.drive.File(shared.ID)
	require.True(t, ok)
	require.False(t, file.Trashed)

	// preview leaves the batch executable
	stored, err := harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusApproved, stored.Status)
}

func TestPreviewLimit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{PreviewLimit: 2})
	var proposals []action.Proposal
	for i := 0; i < 5; i++ {
		file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "f"})
		proposals = append(proposals, action.Proposal{FileID: file.ID, Kind: action.KindTrash})
	}

	batch, err := harness.engine.Submit(ctx, testUser, proposals, action.SafetyNormal, true, 0)
	require.NoError(t, err)

	results, err := harness.engine.Execute(ctx, batch.ID, action.ModePreview)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSubmitValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})

	_, err := harness.engine.Submit(ctx, testUser, nil, action.SafetyNormal, true, 0)
	require.True(t, action.ErrProposalInvalid.Has(err))

	_, err = harness.engine.Submit(ctx, testUser, []action.Proposal{
		{FileID: "f", Kind: "shred"},
	}, action.SafetyNormal, true, 0)
	require.True(t, action.ErrProposalInvalid.Has(err))

	_, err = harness.engine.Submit(ctx, testUser, []action.Proposal{
		{FileID: "f", Kind: action.KindMove},
	}, action.SafetyNormal, true, 0)
	require.True(t, action.ErrProposalInvalid.Has(err))

	_, err = harness.engine.Submit(ctx, testUser, []action.Proposal{
		{FileID: "f", Kind: action.KindMove, TargetRef: "nowhere"},
	}, action.SafetyNormal, true, 0)
	require.True(t, action.ErrProposalInvalid.Has(err))

	_, err = harness.engine.Submit(ctx, testUser, []action.Proposal{
		{FileID: "f", Kind: action.KindTrash},
	}, "reckless", true, 0)
	require.True(t, action.ErrProposalInvalid.Has(err))
}

func TestBatchStateMachine(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "f"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{FileID: file.ID, Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)

	// approved batches cannot be cancelled or restored
	err = harness.engine.Cancel(ctx, batch.ID)
	require.True(t, action.ErrBatchState.Has(err))
	_, err = harness.engine.Restore(ctx, batch.ID, nil)
	require.True(t, action.ErrBatchState.Has(err))

	_, err = harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)

	// executed batches cannot run again
	_, err = harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.True(t, action.ErrBatchState.Has(err))

	_, err = harness.engine.Status(ctx, "no-such-batch")
	require.True(t, action.ErrNotFound.Has(err))
}

func TestRestoreSubset(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	first := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F1"})
	second := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F2"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-f1", FileID: first.ID, Kind: action.KindTrash},
		{ID: "trash-f2", FileID: second.ID, Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)
	_, err = harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)

	logs, err := harness.engine.Restore(ctx, batch.ID, []string{first.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, first.ID, logs[0].FileID)

	restored, ok := harness.drive.File(first.ID)
	require.True(t, ok)
	require.False(t, restored.Trashed)
	untouched, ok := harness.drive.File(second.ID)
	require.True(t, ok)
	require.True(t, untouched.Trashed)

	// a partial restore keeps the batch restorable
	stored, err := harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusExecuted, stored.Status)

	_, err = harness.engine.Restore(ctx, batch.ID, nil)
	require.NoError(t, err)
	stored, err = harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusRolledBack, stored.Status)
}

func TestRestoreIdempotent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F1"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-f1", FileID: file.ID, Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)
	_, err = harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)

	logs, err := harness.engine.Restore(ctx, batch.ID, []string{file.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	// restoring again finds nothing left to undo
	logs, err = harness.engine.Restore(ctx, batch.ID, []string{file.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, action.RestoreNoop, logs[0].Status)
}

func TestRestoreExpired(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{RollbackRetention: time.Hour})
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F1"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-f1", FileID: file.ID, Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)
	_, err = harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)

	harness.engine.TestSetNow(func() time.Time { return time.Now().Add(2 * time.Hour) })

	calls := harness.drive.Calls("UpdateFile")
	_, err = harness.engine.Restore(ctx, batch.ID, nil)
	require.True(t, action.ErrRestoreExpired.Has(err))

	// the refusal happens before any remote call
	require.Equal(t, calls, harness.drive.Calls("UpdateFile"))

	stored, err := harness.engine.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, action.StatusExpired, stored.Status)
}

func TestRestoreRequiresFreshAuth(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	harness := newHarness(t, ctx, action.Config{})
	file := harness.drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "F1"})

	batch, err := harness.engine.Submit(ctx, testUser, []action.Proposal{
		{ID: "trash-f1", FileID: file.ID, Kind: action.KindTrash},
	}, action.SafetyNormal, true, 0)
	require.NoError(t, err)
	_, err = harness.engine.Execute(ctx, batch.ID, action.ModeImmediate)
	require.NoError(t, err)

	// age the credential beyond the fresh window
	require.NoError(t, harness.tokens.Put(ctx, tokens.Credential{
		UserKey:         testUser,
		AccessToken:     "tok-A",
		RefreshToken:    "refresh",
		ExpiresAt:       time.Now().Add(time.Hour),
		AuthenticatedAt: time.Now().Add(-time.Hour),
	}))

	_, err = harness.engine.Restore(ctx, batch.ID, nil)
	require.True(t, tokens.ErrFreshAuthRequired.Has(err))
}
