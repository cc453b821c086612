// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package tokens

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuthProvider implements Provider on top of a standard OAuth 2.0
// authorization-code flow with offline access.
type OAuthProvider struct {
	config oauth2.Config
}

// NewOAuthProvider creates a provider from an oauth2 configuration.
func NewOAuthProvider(config oauth2.Config) *OAuthProvider {
	return &OAuthProvider{config: config}
}

// Exchange trades an authorization code for token material.
func (provider *OAuthProvider) Exchange(ctx context.Context, code string) (*Credential, error) {
	token, err := provider.config.Exchange(ctx, code, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, classify(err)
	}
	return fromToken(token, provider.config.Scopes), nil
}

// Refresh trades a refresh token for fresh token material.
func (provider *OAuthProvider) Refresh(ctx context.Context, refreshToken string) (*Credential, error) {
	source := provider.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, classify(err)
	}
	return fromToken(token, provider.config.Scopes), nil
}

func fromToken(token *oauth2.Token, scopes []string) *Credential {
	return &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Scopes:       scopes,
	}
}

// classify maps provider responses onto the package error classes. An
// invalid_grant means the user revoked access or the refresh token was
// superseded; 5xx and transport failures are worth retrying.
func classify(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		switch {
		case retrieve.ErrorCode == "invalid_grant":
			return ErrCredentialRevoked.Wrap(err)
		case retrieve.Response != nil && retrieve.Response.StatusCode >= http.StatusInternalServerError:
			return ErrRefreshTransient.Wrap(err)
		case retrieve.Response != nil && retrieve.Response.StatusCode == http.StatusTooManyRequests:
			return ErrRefreshTransient.Wrap(err)
		default:
			return ErrCredentialRevoked.Wrap(err)
		}
	}
	return ErrProviderUnavailable.Wrap(err)
}
