// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
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

func fastConfig() gateway.Config {
	return gateway.Config{
		RequestsPerSecond: 1000,
		Burst:             1000,
		PageSize:          2,
		CallTimeout:       10 * time.Second,
		CacheTTL:          time.Minute,
		Retry: gateway.RetryConfig{
			MaxAttempts: 6,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		Circuit: gateway.CircuitConfig{
			FailuresToOpen: 5,
			Window:         time.Minute,
			Cooldown:       time.Minute,
		},
	}
}

func newTestService(t *testing.T, ctx *testcontext.Context, drive *testdrive.Drive, config gateway.Config) *gateway.Service {
	db := drivesweepdb.OpenInMemory(zaptest.NewLogger(t))
	store, err := tokens.NewStore(zaptest.NewLogger(t), db.Credentials(), stubProvider{}, tokens.Config{
		EncryptionKey: strings.Repeat("2b", 32),
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, tokens.Credential{
		UserKey:      testUser,
		AccessToken:  "tok-A",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	return gateway.NewService(zaptest.NewLogger(t), drive, store, config)
}

func TestServiceInjectsToken(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	drive := testdrive.New()
	service := newTestService(t, ctx, drive, fastConfig())

	root, err := service.Root(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, testdrive.RootID, root.ID)
	require.Equal(t, []string{"tok-A"}, drive.Tokens())
}

func TestServiceRetriesTransient(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	drive := testdrive.New()
	file := drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "report.pdf", Size: 10})

	drive.Fail("GetFile", gateway.ErrUnavailable.New("503"))
	drive.Fail("GetFile", gateway.ErrUnavailable.New("503"))

	service := newTestService(t, ctx, drive, fastConfig())

	got, err := service.GetFile(ctx, testUser, file.ID)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", got.Name)
	require.Equal(t, 3, drive.Calls("GetFile"))
}

func TestServiceHonorsRetryAfter(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	drive := testdrive.New()
	file := drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "a.txt"})

	retryAfter := 50 * time.Millisecond
	drive.Fail("GetFile", gateway.RateLimited(retryAfter))
	drive.Fail("GetFile", gateway.RateLimited(retryAfter))

	service := newTestService(t, ctx, drive, fastConfig())

	start := time.Now()
	_, err := service.GetFile(ctx, testUser, file.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 2*retryAfter)
	require.Equal(t, 3, drive.Calls("GetFile"))
}

func TestServiceDoesNotRetryPermanent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	drive := testdrive.New()
	service := newTestService(t, ctx, drive, fastConfig())

	_, err := service.GetFile(ctx, testUser, "does-not-exist")
	require.True(t, gateway.ErrNotFound.Has(err))
	require.Equal(t, 1, drive.Calls("GetFile"))
}

func TestServiceCircuitOpens(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	drive := testdrive.New()
	file := drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "a.txt"})

	config := fastConfig()
	config.Retry.MaxAttempts = 1
	config.Circuit.FailuresToOpen = 2

	drive.Fail("GetFile", gateway.ErrUnavailable.New("503"))
	drive.Fail("GetFile", gateway.ErrUnavailable.New("503"))

	service := newTestService(t, ctx, drive, config)

	_, err := service.GetFile(ctx, testUser, file.ID)
	require.True(t, gateway.ErrUnavailable.Has(err))
	_, err = service.GetFile(ctx, testUser, file.ID)
	require.True(t, gateway.ErrUnavailable.Has(err))

	// circuit is open now; the driver is not called again
	_, err = service.GetFile(ctx, testUser, file.ID)
	require.True(t, gateway.ErrCircuitOpen.Has(err))
	require.Equal(t, 2, drive.Calls("GetFile"))
}

func TestIteratorPageFusion(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	drive := testdrive.New()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: name})
	}
	service := newTestService(t, ctx, drive, fastConfig())

	iterator := service.ListChildren(ctx, testUser, testdrive.RootID, "")
	var names []string
	for iterator.Next(ctx) {
		names = append(names, iterator.Item().Name)
	}
	require.NoError(t, iterator.Err())
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
	require.Equal(t, 3, drive.Calls("ListChildren"))
}

func TestServiceMetadataCache(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	drive := testdrive.New()
	file := drive.AddFile(testdrive.RootID, gateway.FileInfo{Name: "cached.txt"})
	service := newTestService(t, ctx, drive, fastConfig())

	_, err := service.GetFile(ctx, testUser, file.ID)
	require.NoError(t, err)
	_, err = service.GetFile(ctx, testUser, file.ID)
	require.NoError(t, err)
	require.Equal(t, 1, drive.Calls("GetFile"))

	// mutation invalidates the cached record
	_, err = service.Rename(ctx, testUser, file.ID, "renamed.txt")
	require.NoError(t, err)
	got, err := service.GetFile(ctx, testUser, file.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed.txt", got.Name)
	require.Equal(t, 2, drive.Calls("GetFile"))
}
