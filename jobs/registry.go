// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package jobs tracks scan and batch lifecycle and enforces per-user
// single-flight admission.
package jobs

import (
	"sync"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default jobs errs class.
	Error = errs.Class("jobs")
	// ErrScanAlreadyActive is returned when a user already has a scan
	// in a non-terminal status.
	ErrScanAlreadyActive = errs.Class("scan already active")
	// ErrBatchAlreadyExecuting is returned when a user already has a
	// batch executing.
	ErrBatchAlreadyExecuting = errs.Class("batch already executing")
)

// Kind distinguishes tracked job kinds.
type Kind string

// Job kinds.
const (
	KindScan  Kind = "scan"
	KindBatch Kind = "batch"
)

// Job is a registry entry.
type Job struct {
	UserKey  string
	Kind     Kind
	ID       string
	Admitted time.Time
}

// Registry is an in-memory admission table. Admission is a CAS on the
// (userKey, kind) slot; a slot is freed by Release.
type Registry struct {
	mu     sync.Mutex
	active map[slot]Job
	byID   map[string]slot
}

type slot struct {
	userKey string
	kind    Kind
}

// NewRegistry creates a job registry.
func NewRegistry() *Registry {
	return &Registry{
		active: map[slot]Job{},
		byID:   map[string]slot{},
	}
}

// AdmitScan reserves the scan slot for userKey. It fails with
// ErrScanAlreadyActive when another scan is queued, running or paused.
func (registry *Registry) AdmitScan(userKey, scanID string) error {
	return registry.admit(userKey, KindScan, scanID, ErrScanAlreadyActive)
}

// AdmitBatch reserves the batch-execution slot for userKey.
func (registry *Registry) AdmitBatch(userKey, batchID string) error {
	return registry.admit(userKey, KindBatch, batchID, ErrBatchAlreadyExecuting)
}

func (registry *Registry) admit(userKey string, kind Kind, id string, conflict errs.Class) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	key := slot{userKey: userKey, kind: kind}
	if existing, ok := registry.active[key]; ok {
		return conflict.New("job %s", existing.ID)
	}
	registry.active[key] = Job{
		UserKey:  userKey,
		Kind:     kind,
		ID:       id,
		Admitted: time.Now(),
	}
	registry.byID[id] = key
	return nil
}

// Release frees the slot held by jobID. Releasing an unknown or already
// released job is a no-op, so terminal paths can release unconditionally.
func (registry *Registry) Release(jobID string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	key, ok := registry.byID[jobID]
	if !ok {
		return
	}
	// only release when the slot is still held by this job
	if held, ok := registry.active[key]; ok && held.ID == jobID {
		delete(registry.active, key)
	}
	delete(registry.byID, jobID)
}

// Active returns the job currently holding the (userKey, kind) slot.
func (registry *Registry) Active(userKey string, kind Kind) (Job, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	job, ok := registry.active[slot{userKey: userKey, kind: kind}]
	return job, ok
}
