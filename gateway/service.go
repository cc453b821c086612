// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/avast/retry-go"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storj.io/drivesweep/tokens"
)

// RetryConfig controls the transient-failure retry envelope.
type RetryConfig struct {
	MaxAttempts int           `help:"maximum attempts per call including the first" default:"6"`
	BaseDelay   time.Duration `help:"backoff base delay" default:"200ms"`
	MaxDelay    time.Duration `help:"backoff delay cap" default:"30s"`
}

// CircuitConfig controls the per-user circuit breaker.
type CircuitConfig struct {
	FailuresToOpen int           `help:"consecutive transient failures that open the circuit" default:"5"`
	Window         time.Duration `help:"window for counting failures" default:"1m"`
	Cooldown       time.Duration `help:"how long the circuit stays open before a half-open probe" default:"1m"`
}

// Config contains configurable values for the gateway.
type Config struct {
	RequestsPerSecond float64       `help:"per-user request budget" default:"10"`
	Burst             int           `help:"per-user burst allowance" default:"10"`
	PageSize          int           `help:"listing page size requested from the provider" default:"200"`
	CallTimeout       time.Duration `help:"default per-call deadline" default:"30s"`
	CacheTTL          time.Duration `help:"metadata cache time to live" default:"30s"`

	Retry   RetryConfig
	Circuit CircuitConfig
}

// Service is the rate-limited, retrying, credential-injecting wrapper
// around a Driver. All remote traffic of the other components goes
// through here.
type Service struct {
	log    *zap.Logger
	driver Driver
	tokens *tokens.Store
	config Config

	cache *gocache.Cache

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewService creates a gateway service.
func NewService(log *zap.Logger, driver Driver, tokenStore *tokens.Store, config Config) *Service {
	if config.PageSize <= 0 {
		config.PageSize = 200
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = 6
	}
	return &Service{
		log:    log,
		driver: driver,
		tokens: tokenStore,
		config: config,
		cache:  gocache.New(config.CacheTTL, 2*config.CacheTTL),
		users:  map[string]*userState{},
	}
}

func (service *Service) user(userKey string) *userState {
	service.mu.Lock()
	defer service.mu.Unlock()

	state, ok := service.users[userKey]
	if !ok {
		failures := uint32(service.config.Circuit.FailuresToOpen)
		state = &userState{
			limiter: rate.NewLimiter(rate.Limit(service.config.RequestsPerSecond), service.config.Burst),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:     userKey,
				Interval: service.config.Circuit.Window,
				Timeout:  service.config.Circuit.Cooldown,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= failures
				},
				IsSuccessful: func(err error) bool {
					// only transient downstream failures count against
					// the circuit; credential and permanent errors are
					// the caller's problem, not the provider's health.
					return err == nil || !IsTransient(err)
				},
			}),
		}
		service.users[userKey] = state
	}
	return state
}

// call runs fn with a valid access token under the user's rate budget,
// circuit breaker and the retry envelope.
func (service *Service) call(ctx context.Context, userKey string, fn func(ctx context.Context, accessToken string) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, ok := ctx.Deadline(); !ok && service.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, service.config.CallTimeout)
		defer cancel()
	}

	state := service.user(userKey)

	attempt := func() error {
		if err := state.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Error.Wrap(ctxErr)
			}
			return ErrRateLimited.New("local request budget exhausted: %v", err)
		}
		_, err := state.breaker.Execute(func() (interface{}, error) {
			return nil, service.tokens.WithValid(ctx, userKey, fn)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen.New("user %s", userKey)
		}
		return err
	}

	return retry.Do(attempt,
		retry.Context(ctx),
		retry.Attempts(uint(service.config.Retry.MaxAttempts)),
		retry.Delay(service.config.Retry.BaseDelay),
		retry.MaxDelay(service.config.Retry.MaxDelay),
		retry.DelayType(service.delayType),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
}

// delayType honors the provider's retry-after hint when present and
// falls back to exponential backoff with proportional jitter.
func (service *Service) delayType(n uint, err error, config *retry.Config) time.Duration {
	if after, ok := RetryAfter(err); ok {
		return after
	}
	return jittered(retry.BackOffDelay(n, err, config))
}

// jittered spreads the delay across a quarter on either side, so the
// jitter stays proportional to the backoff at every attempt.
func jittered(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay - delay/4 + jitter
}

// Root returns the root folder of the user's namespace.
func (service *Service) Root(ctx context.Context, userKey string) (root FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	err = service.call(ctx, userKey, func(ctx context.Context, accessToken string) error {
		root, err = service.driver.Root(ctx, accessToken)
		return err
	})
	return root, err
}

// SharedDrives lists the shared drive roots visible to the user.
func (service *Service) SharedDrives(ctx context.Context, userKey string) (drives []FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	err = service.call(ctx, userKey, func(ctx context.Context, accessToken string) error {
		drives, err = service.driver.SharedDrives(ctx, accessToken)
		return err
	})
	return drives, err
}

// ListChildren returns a lazy page-fused iterator over the folder's
// children, starting from pageToken. The iterator is finite and not
// restartable; callers persist the page token themselves if they need
// to resume.
func (service *Service) ListChildren(ctx context.Context, userKey, folderID, pageToken string) *Iterator {
	return &Iterator{
		service:   service,
		userKey:   userKey,
		folderID:  folderID,
		pageToken: pageToken,
		pageSize:  service.config.PageSize,
	}
}

// GetFile returns the file's metadata, served from a short-lived cache
// when possible.
func (service *Service) GetFile(ctx context.Context, userKey, fileID string) (file FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	cacheKey := userKey + "/" + fileID
	if cached, ok := service.cache.Get(cacheKey); ok {
		mon.Counter("gateway_cache_hit").Inc(1)
		return cached.(FileInfo), nil
	}

	err = service.call(ctx, userKey, func(ctx context.Context, accessToken string) error {
		file, err = service.driver.GetFile(ctx, accessToken, fileID)
		return err
	})
	if err != nil {
		return FileInfo{}, err
	}
	service.cache.Set(cacheKey, file, gocache.DefaultExpiration)
	return file, nil
}

// CreateFolder creates a folder under parentID.
func (service *Service) CreateFolder(ctx context.Context, userKey, parentID, name string) (folder FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	err = service.call(ctx, userKey, func(ctx context.Context, accessToken string) error {
		folder, err = service.driver.CreateFolder(ctx, accessToken, parentID, name)
		return err
	})
	return folder, err
}

// Move re-parents a file.
func (service *Service) Move(ctx context.Context, userKey, fileID string, addParents, removeParents []string) (FileInfo, error) {
	return service.update(ctx, userKey, fileID, Update{AddParents: addParents, RemoveParents: removeParents})
}

// Rename changes a file's name.
func (service *Service) Rename(ctx context.Context, userKey, fileID, newName string) (FileInfo, error) {
	return service.update(ctx, userKey, fileID, Update{Name: &newName})
}

// Trash moves a file into the provider's trash.
func (service *Service) Trash(ctx context.Context, userKey, fileID string) (FileInfo, error) {
	trashed := true
	return service.update(ctx, userKey, fileID, Update{Trashed: &trashed})
}

// Untrash restores a file from the provider's trash.
func (service *Service) Untrash(ctx context.Context, userKey, fileID string) (FileInfo, error) {
	trashed := false
	return service.update(ctx, userKey, fileID, Update{Trashed: &trashed})
}

func (service *Service) update(ctx context.Context, userKey, fileID string, update Update) (file FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	err = service.call(ctx, userKey, func(ctx context.Context, accessToken string) error {
		file, err = service.driver.UpdateFile(ctx, accessToken, fileID, update)
		return err
	})
	service.cache.Delete(userKey + "/" + fileID)
	return file, err
}

// Copy duplicates the file into parentID under newName.
func (service *Service) Copy(ctx context.Context, userKey, fileID, parentID, newName string) (file FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	err = service.call(ctx, userKey, func(ctx context.Context, accessToken string) error {
		file, err = service.driver.Copy(ctx, accessToken, fileID, parentID, newName)
		return err
	})
	return file, err
}

// Download returns up to limit bytes of the file's content. It is used
// only for bounded content hashing.
func (service *Service) Download(ctx context.Context, userKey, fileID string, limit int64) (data []byte, err error) {
	defer mon.Task()(&ctx)(&err)
	err = service.call(ctx, userKey, func(ctx context.Context, accessToken string) error {
		data, err = service.driver.Download(ctx, accessToken, fileID, limit)
		return err
	})
	return data, err
}
