// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package httpdrive implements gateway.Driver against the remote file
// service's HTTP/JSON API.
package httpdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"storj.io/drivesweep/gateway"
)

// Error is the default httpdrive errs class.
var Error = errs.Class("httpdrive")

const fileFields = "id,name,mimeType,size,modifiedTime,createdTime,parents,shared,md5Checksum,trashed,permissionIds,capabilities(canEdit,canTrash,canMoveItemWithinDrive)"

// Config contains configurable values for the HTTP driver.
type Config struct {
	BaseURL string `help:"base URL of the remote file service API" default:"https://www.googleapis.com/drive/v3"`
}

// Client implements gateway.Driver over HTTP.
type Client struct {
	base string
	http *http.Client
}

// New creates a driver client. A nil httpClient uses a default with
// sane transport timeouts; per-call deadlines come from the context.
func New(config Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &Client{base: config.BaseURL, http: httpClient}
}

type driveFile struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	MimeType      string   `json:"mimeType"`
	Size          int64    `json:"size,string"`
	ModifiedTime  string   `json:"modifiedTime"`
	CreatedTime   string   `json:"createdTime"`
	Parents       []string `json:"parents"`
	Shared        bool     `json:"shared"`
	MD5Checksum   string   `json:"md5Checksum"`
	Trashed       bool     `json:"trashed"`
	PermissionIDs []string `json:"permissionIds"`
	Capabilities  struct {
		CanEdit                 bool `json:"canEdit"`
		CanTrash                bool `json:"canTrash"`
		CanMoveItemWithinDrive  bool `json:"canMoveItemWithinDrive"`
	} `json:"capabilities"`
}

func (file *driveFile) toInfo() gateway.FileInfo {
	modified, _ := time.Parse(time.RFC3339, file.ModifiedTime)
	created, _ := time.Parse(time.RFC3339, file.CreatedTime)
	return gateway.FileInfo{
		ID:          file.ID,
		Name:        file.Name,
		MimeType:    file.MimeType,
		Category:    gateway.Categorize(file.MimeType),
		Size:        file.Size,
		ModifiedAt:  modified,
		CreatedAt:   created,
		Parents:     file.Parents,
		Shared:      file.Shared,
		Permissions: len(file.PermissionIDs),
		Checksum:    file.MD5Checksum,
		Trashed:     file.Trashed,
		Capabilities: gateway.Capabilities{
			CanEdit:  file.Capabilities.CanEdit,
			CanTrash: file.Capabilities.CanTrash,
			CanMove:  file.Capabilities.CanMoveItemWithinDrive,
		},
	}
}

func (client *Client) do(ctx context.Context, accessToken, method, path string, query url.Values, body interface{}, out interface{}) error {
	endpoint := client.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Error.Wrap(err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Error.Wrap(err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.http.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return Error.Wrap(ctx.Err())
		}
		return gateway.ErrUnavailable.Wrap(err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode >= 400 {
		return classifyStatus(response)
	}
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return Error.Wrap(err)
		}
	} else {
		_, _ = io.Copy(io.Discard, response.Body)
	}
	return nil
}

// classifyStatus maps an HTTP error response onto the gateway error
// kinds, honoring the provider's rate-limit headers.
func classifyStatus(response *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(response.Body, 4096))

	switch {
	case response.StatusCode == http.StatusNotFound:
		return gateway.ErrNotFound.New("%s", payload)
	case response.StatusCode == http.StatusForbidden:
		// the provider reports quota exhaustion as 403 with a reason
		if bytes.Contains(payload, []byte("storageQuotaExceeded")) {
			return gateway.ErrQuotaExceeded.New("%s", payload)
		}
		if bytes.Contains(payload, []byte("rateLimitExceeded")) {
			return gateway.RateLimited(retryAfter(response))
		}
		return gateway.ErrForbidden.New("%s", payload)
	case response.StatusCode == http.StatusConflict:
		return gateway.ErrConflict.New("%s", payload)
	case response.StatusCode == http.StatusTooManyRequests:
		return gateway.RateLimited(retryAfter(response))
	case response.StatusCode >= 500:
		return gateway.ErrUnavailable.New("status %d: %s", response.StatusCode, payload)
	default:
		return gateway.ErrPermanent.New("status %d: %s", response.StatusCode, payload)
	}
}

func retryAfter(response *http.Response) time.Duration {
	header := response.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		return time.Until(at)
	}
	return 0
}

// Root implements gateway.Driver.
func (client *Client) Root(ctx context.Context, accessToken string) (gateway.FileInfo, error) {
	var file driveFile
	query := url.Values{"fields": {fileFields}}
	if err := client.do(ctx, accessToken, http.MethodGet, "/files/root", query, nil, &file); err != nil {
		return gateway.FileInfo{}, err
	}
	return file.toInfo(), nil
}

// SharedDrives implements gateway.Driver.
func (client *Client) SharedDrives(ctx context.Context, accessToken string) ([]gateway.FileInfo, error) {
	var listing struct {
		Drives []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"drives"`
	}
	if err := client.do(ctx, accessToken, http.MethodGet, "/drives", nil, nil, &listing); err != nil {
		return nil, err
	}
	var drives []gateway.FileInfo
	for _, drive := range listing.Drives {
		drives = append(drives, gateway.FileInfo{
			ID:       drive.ID,
			Name:     drive.Name,
			MimeType: "application/vnd.google-apps.folder",
			Category: gateway.CategoryFolder,
			Shared:   true,
		})
	}
	return drives, nil
}

// ListChildren implements gateway.Driver.
func (client *Client) ListChildren(ctx context.Context, accessToken, folderID, pageToken string, pageSize int) (gateway.Page, error) {
	query := url.Values{
		"q":      {fmt.Sprintf("%q in parents", folderID)},
		"fields": {"nextPageToken,files(" + fileFields + ")"},
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	if pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(pageSize))
	}

	var listing struct {
		NextPageToken string      `json:"nextPageToken"`
		Files         []driveFile `json:"files"`
	}
	if err := client.do(ctx, accessToken, http.MethodGet, "/files", query, nil, &listing); err != nil {
		return gateway.Page{}, err
	}

	page := gateway.Page{NextToken: listing.NextPageToken}
	for i := range listing.Files {
		page.Files = append(page.Files, listing.Files[i].toInfo())
	}
	return page, nil
}

// GetFile implements gateway.Driver.
func (client *Client) GetFile(ctx context.Context, accessToken, fileID string) (gateway.FileInfo, error) {
	var file driveFile
	query := url.Values{"fields": {fileFields}}
	if err := client.do(ctx, accessToken, http.MethodGet, "/files/"+url.PathEscape(fileID), query, nil, &file); err != nil {
		return gateway.FileInfo{}, err
	}
	return file.toInfo(), nil
}

// CreateFolder implements gateway.Driver.
func (client *Client) CreateFolder(ctx context.Context, accessToken, parentID, name string) (gateway.FileInfo, error) {
	var file driveFile
	body := map[string]interface{}{
		"name":     name,
		"mimeType": "application/vnd.google-apps.folder",
		"parents":  []string{parentID},
	}
	query := url.Values{"fields": {fileFields}}
	if err := client.do(ctx, accessToken, http.MethodPost, "/files", query, body, &file); err != nil {
		return gateway.FileInfo{}, err
	}
	return file.toInfo(), nil
}

// UpdateFile implements gateway.Driver.
func (client *Client) UpdateFile(ctx context.Context, accessToken, fileID string, update gateway.Update) (gateway.FileInfo, error) {
	query := url.Values{"fields": {fileFields}}
	if len(update.AddParents) > 0 {
		query.Set("addParents", strings.Join(update.AddParents, ","))
	}
	if len(update.RemoveParents) > 0 {
		query.Set("removeParents", strings.Join(update.RemoveParents, ","))
	}

	body := map[string]interface{}{}
	if update.Name != nil {
		body["name"] = *update.Name
	}
	if update.Trashed != nil {
		body["trashed"] = *update.Trashed
	}

	var file driveFile
	if err := client.do(ctx, accessToken, http.MethodPatch, "/files/"+url.PathEscape(fileID), query, body, &file); err != nil {
		return gateway.FileInfo{}, err
	}
	return file.toInfo(), nil
}

// Copy implements gateway.Driver.
func (client *Client) Copy(ctx context.Context, accessToken, fileID, parentID, newName string) (gateway.FileInfo, error) {
	body := map[string]interface{}{"parents": []string{parentID}}
	if newName != "" {
		body["name"] = newName
	}
	var file driveFile
	query := url.Values{"fields": {fileFields}}
	if err := client.do(ctx, accessToken, http.MethodPost, "/files/"+url.PathEscape(fileID)+"/copy", query, body, &file); err != nil {
		return gateway.FileInfo{}, err
	}
	return file.toInfo(), nil
}

// Download implements gateway.Driver. It requests at most limit bytes
// using a range request.
func (client *Client) Download(ctx context.Context, accessToken, fileID string, limit int64) ([]byte, error) {
	endpoint := client.base + "/files/" + url.PathEscape(fileID) + "?alt=media"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	if limit > 0 {
		request.Header.Set("Range", fmt.Sprintf("bytes=0-%d", limit-1))
	}

	response, err := client.http.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Error.Wrap(ctx.Err())
		}
		return nil, gateway.ErrUnavailable.Wrap(err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode >= 400 {
		return nil, classifyStatus(response)
	}

	reader := io.Reader(response.Body)
	if limit > 0 {
		reader = io.LimitReader(reader, limit)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, gateway.ErrUnavailable.Wrap(err)
	}
	return data, nil
}
