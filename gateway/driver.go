// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"context"
)

// Page is one page of a folder listing.
type Page struct {
	Files     []FileInfo
	NextToken string
}

// Update describes a metadata mutation on a remote file. Nil and empty
// fields are left untouched.
type Update struct {
	Name          *string
	Trashed       *bool
	AddParents    []string
	RemoveParents []string
}

// Driver is the raw remote file service surface. Implementations issue
// exactly one remote request per call, authenticate with the given
// access token, and classify failures with this package's error
// classes (ErrNotFound, ErrRateLimited with a retry-after hint, and so
// on). Retrying, rate limiting and credential handling belong to the
// Service wrapping the driver.
type Driver interface {
	// Root returns the root folder of the user's namespace.
	Root(ctx context.Context, accessToken string) (FileInfo, error)
	// SharedDrives lists the roots of shared drives visible to the user.
	SharedDrives(ctx context.Context, accessToken string) ([]FileInfo, error)
	// ListChildren returns one page of the folder's children.
	ListChildren(ctx context.Context, accessToken, folderID, pageToken string, pageSize int) (Page, error)
	// GetFile returns the file's current metadata.
	GetFile(ctx context.Context, accessToken, fileID string) (FileInfo, error)
	// CreateFolder creates a folder under parentID.
	CreateFolder(ctx context.Context, accessToken, parentID, name string) (FileInfo, error)
	// UpdateFile applies a metadata mutation.
	UpdateFile(ctx context.Context, accessToken, fileID string, update Update) (FileInfo, error)
	// Copy duplicates the file into parentID under newName.
	Copy(ctx context.Context, accessToken, fileID, parentID, newName string) (FileInfo, error)
	// Download returns up to limit bytes of the file's content.
	Download(ctx context.Context, accessToken, fileID string, limit int64) ([]byte, error)
}
