// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package tokens implements the per-user OAuth credential store.
package tokens

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gtank/cryptopasta"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"storj.io/drivesweep/storage"
)

var (
	// Error is the default tokens errs class.
	Error = errs.Class("tokens")
	// ErrCredentialMissing means no credential exists for the user.
	ErrCredentialMissing = errs.Class("credential missing")
	// ErrCredentialRevoked means the credential was revoked, either
	// locally or by the provider.
	ErrCredentialRevoked = errs.Class("credential revoked")
	// ErrRefreshTransient means the refresh failed but may succeed if
	// retried with backoff.
	ErrRefreshTransient = errs.Class("transient refresh failure")
	// ErrProviderUnavailable means the provider could not be reached.
	ErrProviderUnavailable = errs.Class("provider unavailable")
	// ErrFreshAuthRequired means the credential's last authentication
	// is older than the required fresh window.
	ErrFreshAuthRequired = errs.Class("fresh authentication required")

	mon = monkit.Package()
)

// Config contains configurable values for the token store.
type Config struct {
	RefreshSkew   time.Duration `help:"refresh tokens that expire within this window" default:"1m"`
	FreshWindow   time.Duration `help:"how recent the last authentication must be for sensitive operations" default:"10m"`
	EncryptionKey string        `help:"hex-encoded 32-byte key sealing credentials at rest" default:""`
}

// Store manages per-user OAuth credentials: persistence, refresh,
// revocation. Token material is sealed with AES-GCM before it reaches
// the storage backend.
type Store struct {
	log      *zap.Logger
	db       DB
	provider Provider
	config   Config

	key   [32]byte
	group singleflight.Group

	nowFn func() time.Time
}

// NewStore creates a token store. The encryption key must be 32 bytes
// of hex; an empty key is rejected since credentials may never be
// stored in the clear.
func NewStore(log *zap.Logger, db DB, provider Provider, config Config) (*Store, error) {
	raw, err := hex.DecodeString(config.EncryptionKey)
	if err != nil {
		return nil, Error.New("invalid encryption key: %v", err)
	}
	if len(raw) != 32 {
		return nil, Error.New("encryption key must be 32 bytes, got %d", len(raw))
	}
	if config.RefreshSkew <= 0 {
		config.RefreshSkew = time.Minute
	}

	store := &Store{
		log:      log,
		db:       db,
		provider: provider,
		config:   config,
		nowFn:    time.Now,
	}
	copy(store.key[:], raw)
	return store, nil
}

// TestSetNow overrides the store's clock in tests.
func (store *Store) TestSetNow(now func() time.Time) { store.nowFn = now }

// Put seals and persists a credential, replacing any previous record
// for the user.
func (store *Store) Put(ctx context.Context, credential Credential) (err error) {
	defer mon.Task()(&ctx)(&err)

	if credential.UserKey == "" {
		return Error.New("missing user key")
	}
	if credential.AuthenticatedAt.IsZero() {
		credential.AuthenticatedAt = store.nowFn()
	}
	return store.put(ctx, &credential)
}

func (store *Store) put(ctx context.Context, credential *Credential) error {
	plaintext, err := json.Marshal(credential)
	if err != nil {
		return Error.Wrap(err)
	}
	sealed, err := cryptopasta.Encrypt(plaintext, &store.key)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(store.db.Put(ctx, credential.UserKey, sealed))
}

func (store *Store) load(ctx context.Context, userKey string) (*Credential, error) {
	sealed, err := store.db.Get(ctx, userKey)
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, ErrCredentialMissing.New("%s", userKey)
		}
		return nil, Error.Wrap(err)
	}
	plaintext, err := cryptopasta.Decrypt(sealed, &store.key)
	if err != nil {
		return nil, Error.New("unsealing credential for %s: %v", userKey, err)
	}
	var credential Credential
	if err := json.Unmarshal(plaintext, &credential); err != nil {
		return nil, Error.Wrap(err)
	}
	return &credential, nil
}

// Get returns the caller-visible view of the user's credential.
func (store *Store) Get(ctx context.Context, userKey string) (_ Info, err error) {
	defer mon.Task()(&ctx)(&err)

	credential, err := store.load(ctx, userKey)
	if err != nil {
		return Info{}, err
	}
	if credential.RevokedAt != nil {
		return Info{}, ErrCredentialRevoked.New("%s", userKey)
	}
	return credential.info(), nil
}

// Refresh exchanges the user's refresh token for fresh token material.
// Concurrent callers for the same user share one provider exchange.
func (store *Store) Refresh(ctx context.Context, userKey string) (_ Info, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err, _ := store.group.Do(userKey, func() (interface{}, error) {
		return store.refresh(ctx, userKey)
	})
	if err != nil {
		return Info{}, err
	}
	return result.(Info), nil
}

func (store *Store) refresh(ctx context.Context, userKey string) (Info, error) {
	credential, err := store.load(ctx, userKey)
	if err != nil {
		return Info{}, err
	}
	if credential.RevokedAt != nil {
		return Info{}, ErrCredentialRevoked.New("%s", userKey)
	}

	refreshed, err := store.provider.Refresh(ctx, credential.RefreshToken)
	if err != nil {
		if ErrCredentialRevoked.Has(err) {
			now := store.nowFn()
			credential.RevokedAt = &now
			if putErr := store.put(ctx, credential); putErr != nil {
				store.log.Error("marking credential revoked",
					zap.String("userKey", userKey), zap.Error(putErr))
			}
			return Info{}, ErrCredentialRevoked.New("%s", userKey)
		}
		return Info{}, err
	}

	credential.AccessToken = refreshed.AccessToken
	credential.ExpiresAt = refreshed.ExpiresAt
	if refreshed.RefreshToken != "" {
		// some providers rotate the refresh token on use
		credential.RefreshToken = refreshed.RefreshToken
	}
	if len(refreshed.Scopes) > 0 {
		credential.Scopes = refreshed.Scopes
	}

	if err := store.put(ctx, credential); err != nil {
		return Info{}, err
	}
	mon.Counter("token_refresh").Inc(1)
	return credential.info(), nil
}

// Revoke marks the user's credential revoked. Subsequent use fails with
// ErrCredentialRevoked until a new credential is stored.
func (store *Store) Revoke(ctx context.Context, userKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	credential, err := store.load(ctx, userKey)
	if err != nil {
		return err
	}
	if credential.RevokedAt != nil {
		return nil
	}
	now := store.nowFn()
	credential.RevokedAt = &now
	return store.put(ctx, credential)
}

// WithValid runs fn with an access token that stays valid for at least
// the configured skew window, refreshing once if necessary.
func (store *Store) WithValid(ctx context.Context, userKey string, fn func(ctx context.Context, accessToken string) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := store.Valid(ctx, userKey)
	if err != nil {
		return err
	}
	return fn(ctx, info.AccessToken)
}

// Valid returns a credential whose expiry is at least the skew window
// in the future, refreshing once if necessary.
func (store *Store) Valid(ctx context.Context, userKey string) (_ Info, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := store.Get(ctx, userKey)
	if err != nil {
		return Info{}, err
	}
	if store.nowFn().Add(store.config.RefreshSkew).Before(info.ExpiresAt) {
		return info, nil
	}
	return store.Refresh(ctx, userKey)
}

// RequireFresh fails with ErrFreshAuthRequired unless the user's most
// recent authentication happened within window. A zero window uses the
// configured default.
func (store *Store) RequireFresh(ctx context.Context, userKey string, window time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)

	if window <= 0 {
		window = store.config.FreshWindow
	}
	info, err := store.Get(ctx, userKey)
	if err != nil {
		return err
	}
	if store.nowFn().Sub(info.AuthenticatedAt) > window {
		return ErrFreshAuthRequired.New("last authentication %s ago", store.nowFn().Sub(info.AuthenticatedAt))
	}
	return nil
}

// HandleCallback exchanges an authorization code and stores the
// resulting credential for userKey.
func (store *Store) HandleCallback(ctx context.Context, userKey, code string) (err error) {
	defer mon.Task()(&ctx)(&err)

	credential, err := store.provider.Exchange(ctx, code)
	if err != nil {
		return err
	}
	credential.UserKey = userKey
	credential.AuthenticatedAt = store.nowFn()
	return store.put(ctx, credential)
}
