// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"time"
)

// Category buckets remote mime types into the classes the analyzers
// care about.
type Category string

// File categories.
const (
	CategoryDocument     Category = "document"
	CategorySpreadsheet  Category = "spreadsheet"
	CategoryPresentation Category = "presentation"
	CategoryImage        Category = "image"
	CategoryVideo        Category = "video"
	CategoryPDF          Category = "pdf"
	CategoryFolder       Category = "folder"
	CategoryOther        Category = "other"
)

// Capabilities is what the credential may do with a file.
type Capabilities struct {
	CanEdit  bool `json:"canEdit"`
	CanTrash bool `json:"canTrash"`
	CanMove  bool `json:"canMove"`
}

// FileInfo is the gateway's uniform view of a remote file or folder.
type FileInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	MimeType     string       `json:"mimeType"`
	Category     Category     `json:"category"`
	Size         int64        `json:"size"`
	ModifiedAt   time.Time    `json:"modifiedAt"`
	CreatedAt    time.Time    `json:"createdAt"`
	Parents      []string     `json:"parents"`
	Shared       bool         `json:"shared"`
	Permissions  int          `json:"permissions"`
	Checksum     string       `json:"checksum,omitempty"`
	Trashed      bool         `json:"trashed"`
	Capabilities Capabilities `json:"capabilities"`
}

// IsFolder reports whether the record is a folder.
func (file *FileInfo) IsFolder() bool { return file.Category == CategoryFolder }

// Categorize maps a raw mime type onto a Category.
func Categorize(mimeType string) Category {
	switch mimeType {
	case "application/vnd.google-apps.folder":
		return CategoryFolder
	case "application/vnd.google-apps.document",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain":
		return CategoryDocument
	case "application/vnd.google-apps.spreadsheet",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"text/csv":
		return CategorySpreadsheet
	case "application/vnd.google-apps.presentation",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return CategoryPresentation
	case "application/pdf":
		return CategoryPDF
	}
	switch {
	case len(mimeType) > 6 && mimeType[:6] == "image/":
		return CategoryImage
	case len(mimeType) > 6 && mimeType[:6] == "video/":
		return CategoryVideo
	}
	return CategoryOther
}

// IsCloudNative reports whether the file exists only inside the remote
// service and cannot be exported byte-for-byte.
func IsCloudNative(mimeType string) bool {
	const prefix = "application/vnd.google-apps."
	return len(mimeType) > len(prefix) && mimeType[:len(prefix)] == prefix &&
		mimeType != "application/vnd.google-apps.folder"
}
