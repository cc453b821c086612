// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package jobs_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/drivesweep/jobs"
)

func TestRegistryAdmitScan(t *testing.T) {
	registry := jobs.NewRegistry()

	require.NoError(t, registry.AdmitScan("alice", "scan-1"))
	err := registry.AdmitScan("alice", "scan-2")
	require.True(t, jobs.ErrScanAlreadyActive.Has(err))

	// other users and other kinds are unaffected
	require.NoError(t, registry.AdmitScan("bob", "scan-3"))
	require.NoError(t, registry.AdmitBatch("alice", "batch-1"))

	registry.Release("scan-1")
	require.NoError(t, registry.AdmitScan("alice", "scan-2"))
}

func TestRegistryAdmitBatch(t *testing.T) {
	registry := jobs.NewRegistry()

	require.NoError(t, registry.AdmitBatch("alice", "batch-1"))
	err := registry.AdmitBatch("alice", "batch-2")
	require.True(t, jobs.ErrBatchAlreadyExecuting.Has(err))

	job, ok := registry.Active("alice", jobs.KindBatch)
	require.True(t, ok)
	require.Equal(t, "batch-1", job.ID)
}

func TestRegistryReleaseUnknown(t *testing.T) {
	registry := jobs.NewRegistry()
	registry.Release("never-admitted")

	require.NoError(t, registry.AdmitScan("alice", "scan-1"))
	registry.Release("scan-1")
	registry.Release("scan-1")
	_, ok := registry.Active("alice", jobs.KindScan)
	require.False(t, ok)
}

func TestRegistryConcurrentAdmission(t *testing.T) {
	registry := jobs.NewRegistry()

	const racers = 32
	var group sync.WaitGroup
	admitted := make([]bool, racers)

	for i := 0; i < racers; i++ {
		i := i
		group.Add(1)
		go func() {
			defer group.Done()
			admitted[i] = registry.AdmitScan("alice", "scan") == nil
		}()
	}
	group.Wait()

	winners := 0
	for _, won := range admitted {
		if won {
			winners++
		}
	}
	require.Equal(t, 1, winners)
}
