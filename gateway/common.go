// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gateway wraps the remote file service with credential
// injection, rate limiting, retries and a per-user circuit breaker.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default gateway errs class.
	Error = errs.Class("gateway")

	// ErrNotFound means the file or folder does not exist.
	ErrNotFound = errs.Class("not found")
	// ErrForbidden means the credential lacks access to the target.
	ErrForbidden = errs.Class("forbidden")
	// ErrRateLimited means the provider or the local token bucket
	// refused the call; RetryAfter may carry a provider hint.
	ErrRateLimited = errs.Class("rate limited")
	// ErrConflict means the remote state conflicts with the request.
	ErrConflict = errs.Class("conflict")
	// ErrQuotaExceeded means the user's storage quota is exhausted.
	ErrQuotaExceeded = errs.Class("quota exceeded")
	// ErrUnavailable means the provider failed transiently.
	ErrUnavailable = errs.Class("unavailable")
	// ErrCircuitOpen means the per-user circuit breaker is open.
	ErrCircuitOpen = errs.Class("circuit open")
	// ErrPermanent means a non-retryable provider rejection.
	ErrPermanent = errs.Class("permanent")

	mon = monkit.Package()
)

// retryAfterError carries the provider's retry-after hint through an
// ErrRateLimited wrap.
type retryAfterError struct {
	after time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.after)
}

// RateLimited constructs a rate-limited error with a retry-after hint.
func RateLimited(after time.Duration) error {
	if after <= 0 {
		return ErrRateLimited.New("rate limited")
	}
	return ErrRateLimited.Wrap(&retryAfterError{after: after})
}

// RetryAfter extracts the provider's retry-after hint, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var hinted *retryAfterError
	if errors.As(err, &hinted) {
		return hinted.after, true
	}
	return 0, false
}

// IsTransient reports whether the error is worth retrying with backoff.
func IsTransient(err error) bool {
	return ErrRateLimited.Has(err) || ErrUnavailable.Has(err)
}
