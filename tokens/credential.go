// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package tokens

import (
	"context"
	"time"
)

// Credential is the full OAuth token material for one user. Only the
// store sees this shape; callers receive Info with the refresh token
// stripped.
type Credential struct {
	UserKey         string     `json:"userKey"`
	AccessToken     string     `json:"accessToken"`
	RefreshToken    string     `json:"refreshToken"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	Scopes          []string   `json:"scopes"`
	AuthenticatedAt time.Time  `json:"authenticatedAt"`
	RevokedAt       *time.Time `json:"revokedAt,omitempty"`
}

// Info is the caller-visible view of a credential.
type Info struct {
	UserKey         string
	AccessToken     string
	ExpiresAt       time.Time
	Scopes          []string
	AuthenticatedAt time.Time
}

func (credential *Credential) info() Info {
	return Info{
		UserKey:         credential.UserKey,
		AccessToken:     credential.AccessToken,
		ExpiresAt:       credential.ExpiresAt,
		Scopes:          credential.Scopes,
		AuthenticatedAt: credential.AuthenticatedAt,
	}
}

// DB stores sealed credential blobs, at most one per user. The store
// seals before Put and unseals after Get; the backend never sees token
// material.
type DB interface {
	// Put stores the sealed blob for userKey, replacing any previous one.
	Put(ctx context.Context, userKey string, sealed []byte) error
	// Get returns the sealed blob for userKey.
	Get(ctx context.Context, userKey string) ([]byte, error)
	// Delete removes the record for userKey.
	Delete(ctx context.Context, userKey string) error
}

// Provider exchanges and refreshes tokens with the external OAuth
// provider. Implementations classify failures with this package's error
// classes: ErrCredentialRevoked for invalid_grant style rejections,
// ErrRefreshTransient for retryable failures, ErrProviderUnavailable
// when the provider cannot be reached.
type Provider interface {
	// Exchange trades an authorization code for token material.
	Exchange(ctx context.Context, code string) (*Credential, error)
	// Refresh trades a refresh token for fresh token material.
	Refresh(ctx context.Context, refreshToken string) (*Credential, error)
}
