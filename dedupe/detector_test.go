// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dedupe_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/memory"
	"storj.io/common/testcontext"
	"storj.io/drivesweep/dedupe"
	"storj.io/drivesweep/drivesweepdb"
	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/gateway/testdrive"
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

func newDetector(t *testing.T) *dedupe.Detector {
	return dedupe.NewDetector(zaptest.NewLogger(t), nil, nil, dedupe.Config{})
}

func newDetectorWithDrive(t *testing.T, ctx *testcontext.Context, drive *testdrive.Drive, config dedupe.Config) *dedupe.Detector {
	log := zaptest.NewLogger(t)
	db := drivesweepdb.OpenInMemory(log)
	store, err := tokens.NewStore(log, db.Credentials(), stubProvider{}, tokens.Config{
		EncryptionKey: strings.Repeat("d4", 32),
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, tokens.Credential{
		UserKey:      testUser,
		AccessToken:  "tok-A",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	service := gateway.NewService(log, drive, store, gateway.Config{
		RequestsPerSecond: 1000,
		Burst:             1000,
		CallTimeout:       10 * time.Second,
		Retry:             gateway.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Circuit:           gateway.CircuitConfig{FailuresToOpen: 100, Window: time.Minute, Cooldown: time.Minute},
	})
	return dedupe.NewDetector(log, service, db.Snapshots(), config)
}

func TestDetectExactChecksum(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	now := time.Now()
	records := []gateway.FileInfo{
		{ID: "a", Name: "A", Size: 1000, Checksum: "x", ModifiedAt: now.Add(-24 * time.Hour)},
		{ID: "a2", Name: "A copy", Size: 1000, Checksum: "x", ModifiedAt: now.Add(-60 * 24 * time.Hour)},
		{ID: "b", Name: "B", Size: 500, Checksum: "y", ModifiedAt: now},
	}

	result, err := newDetector(t).DetectRecords(ctx, testUser, records, dedupe.Options{Depth: dedupe.DepthFast})
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)

	group := result.Groups[0]
	require.Equal(t, dedupe.MatchExactChecksum, group.MatchKind)
	require.Equal(t, 100, group.Confidence)
	require.Equal(t, dedupe.RiskLow, group.Risk)
	require.Len(t, group.Members, 2)

	require.Equal(t, dedupe.RecommendKeepBest, group.Recommendation.Kind)
	require.Equal(t, "a", group.Recommendation.KeepID)
	require.Equal(t, []string{"a2"}, group.Recommendation.DeleteIDs)
	require.Equal(t, int64(1000), group.SpaceReclaimable)

	require.Equal(t, 1, result.Summary.Groups)
	require.Equal(t, 2, result.Summary.DuplicateMembers)
	require.Equal(t, int64(1000), result.Summary.ReclaimableBytes)
	require.Equal(t, 1, result.Summary.RiskHistogram[dedupe.RiskLow])
}

func TestDetectSizeName(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	records := []gateway.FileInfo{
		{ID: "n1", Name: "Notes.txt", Size: 200, ModifiedAt: time.Now()},
		{ID: "n2", Name: "notes.TXT", Size: 200, ModifiedAt: time.Now().Add(-time.Hour)},
		{ID: "n3", Name: "notes.txt", Size: 999, ModifiedAt: time.Now()},
	}

	result, err := newDetector(t).DetectRecords(ctx, testUser, records, dedupe.Options{Depth: dedupe.DepthFast})
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)
	require.Equal(t, dedupe.MatchSizeName, result.Groups[0].MatchKind)
	require.Equal(t, 90, result.Groups[0].Confidence)
	require.Len(t, result.Groups[0].Members, 2)
}

func TestDetectVersionSibling(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	older := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	records := []gateway.FileInfo{
		{ID: "r1", Name: "Report.pdf", Size: 500000, ModifiedAt: older},
		{ID: "r2", Name: "Report (1).pdf", Size: 500100, ModifiedAt: newer},
	}

	result, err := newDetector(t).DetectRecords(ctx, testUser, records, dedupe.Options{
		Depth:           dedupe.DepthThorough,
		EnableFuzzyName: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)

	group := result.Groups[0]
	require.Equal(t, dedupe.MatchVersionSibling, group.MatchKind)
	require.GreaterOrEqual(t, group.Confidence, 75)
	require.LessOrEqual(t, group.Confidence, 85)
	require.Equal(t, dedupe.RiskMedium, group.Risk)

	// the newest revision wins a version chain
	require.Equal(t, "r2", group.Recommendation.KeepID)
	require.Equal(t, []string{"r1"}, group.Recommendation.DeleteIDs)
}

func TestDetectShortCircuit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	records := []gateway.FileInfo{
		{ID: "r1", Name: "Report.pdf", Size: 1000, Checksum: "x", ModifiedAt: time.Now()},
		{ID: "r2", Name: "Report (1).pdf", Size: 1000, Checksum: "x", ModifiedAt: time.Now()},
	}

	result, err := newDetector(t).DetectRecords(ctx, testUser, records, dedupe.Options{
		Depth:           dedupe.DepthThorough,
		EnableFuzzyName: true,
	})
	require.NoError(t, err)

	// members of the checksum group do not reappear in the fuzzy pass
	require.Len(t, result.Groups, 1)
	require.Equal(t, dedupe.MatchExactChecksum, result.Groups[0].MatchKind)
}

func TestDetectMinFileSize(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	records := []gateway.FileInfo{
		{ID: "t1", Name: "tiny", Size: 5, Checksum: "x", ModifiedAt: time.Now()},
		{ID: "t2", Name: "tiny", Size: 5, Checksum: "x", ModifiedAt: time.Now()},
	}

	result, err := newDetector(t).DetectRecords(ctx, testUser, records, dedupe.Options{
		Depth:       dedupe.DepthFast,
		MinFileSize: 100,
	})
	require.NoError(t, err)
	require.Empty(t, result.Groups)
}

func TestDetectContentHashAggregateCap(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	drive := testdrive.New()
	content := []byte(strings.Repeat("z", 100))
	var records []gateway.FileInfo
	for _, name := range []string{"alpha.bin", "beta.bin", "gamma.bin"} {
		file := drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: name})
		drive.SetContent(file.ID, content)
		stored, ok := drive.File(file.ID)
		require.True(t, ok)
		records = append(records, stored)
	}

	detector := newDetectorWithDrive(t, ctx, drive, dedupe.Config{
		ContentHashSizeCap:      memory.Size(100),
		ContentHashAggregateCap: memory.Size(250),
	})

	result, err := detector.DetectRecords(ctx, testUser, records, dedupe.Options{
		Depth:             dedupe.DepthDeep,
		EnableContentHash: true,
	})
	require.NoError(t, err)

	// the cap allows hashing only two of the three files
	require.Equal(t, int64(200), result.Summary.HashedBytes)
	require.Equal(t, 2, drive.Calls("Download"))
	require.Len(t, result.Groups, 1)
	require.Equal(t, dedupe.MatchContentHash, result.Groups[0].MatchKind)
	require.Len(t, result.Groups[0].Members, 2)
}
