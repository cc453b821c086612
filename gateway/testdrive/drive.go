// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testdrive implements an in-memory gateway.Driver with fault
// injection for tests.
package testdrive

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"storj.io/drivesweep/gateway"
)

// RootID is the identifier of the synthetic root folder.
const RootID = "root"

// Drive is an in-memory remote file service.
type Drive struct {
	mu sync.Mutex

	nextID  int
	files   map[string]*gateway.FileInfo
	content map[string][]byte

	faults map[string][]error
	calls  map[string]int
	tokens []string
}

// New creates a drive containing only the root folder.
func New() *Drive {
	drive := &Drive{
		files:   map[string]*gateway.FileInfo{},
		content: map[string][]byte{},
		faults:  map[string][]error{},
		calls:   map[string]int{},
	}
	drive.files[RootID] = &gateway.FileInfo{
		ID:       RootID,
		Name:     "My Drive",
		MimeType: "application/vnd.google-apps.folder",
		Category: gateway.CategoryFolder,
		Capabilities: gateway.Capabilities{
			CanEdit: true, CanTrash: false, CanMove: false,
		},
	}
	return drive
}

// AddFolder creates a folder under parentID and returns it.
func (drive *Drive) AddFolder(parentID, name string) gateway.FileInfo {
	drive.mu.Lock()
	defer drive.mu.Unlock()

	folder := &gateway.FileInfo{
		ID:         drive.allocateID(),
		Name:       name,
		MimeType:   "application/vnd.google-apps.folder",
		Category:   gateway.CategoryFolder,
		Parents:    []string{parentID},
		CreatedAt:  time.Now(),
		ModifiedAt: time.Now(),
		Capabilities: gateway.Capabilities{
			CanEdit: true, CanTrash: true, CanMove: true,
		},
	}
	drive.files[folder.ID] = folder
	return *folder
}

// AddFile adds a file record under parentID. Zero fields get usable
// defaults; a non-empty file.ID is kept.
func (drive *Drive) AddFile(parentID string, file gateway.FileInfo) gateway.FileInfo {
	drive.mu.Lock()
	defer drive.mu.Unlock()

	if file.ID == "" {
		file.ID = drive.allocateID()
	}
	if file.MimeType == "" {
		file.MimeType = "application/octet-stream"
	}
	if file.Category == "" {
		file.Category = gateway.Categorize(file.MimeType)
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	if file.ModifiedAt.IsZero() {
		file.ModifiedAt = time.Now()
	}
	if file.Capabilities == (gateway.Capabilities{}) {
		file.Capabilities = gateway.Capabilities{CanEdit: true, CanTrash: true, CanMove: true}
	}
	file.Parents = []string{parentID}
	drive.files[file.ID] = &file
	return file
}

// SetContent sets the file's downloadable bytes and size.
func (drive *Drive) SetContent(fileID string, content []byte) {
	drive.mu.Lock()
	defer drive.mu.Unlock()
	drive.content[fileID] = content
	if file, ok := drive.files[fileID]; ok {
		file.Size = int64(len(content))
	}
}

// File returns a copy of the current record for fileID.
func (drive *Drive) File(fileID string) (gateway.FileInfo, bool) {
	drive.mu.Lock()
	defer drive.mu.Unlock()
	file, ok := drive.files[fileID]
	if !ok {
		return gateway.FileInfo{}, false
	}
	return *file, true
}

// Fail queues an error to be returned by the next call of op. Repeated
// calls queue repeated failures.
func (drive *Drive) Fail(op string, err error) {
	drive.mu.Lock()
	defer drive.mu.Unlock()
	drive.faults[op] = append(drive.faults[op], err)
}

// Calls returns how many times op was invoked.
func (drive *Drive) Calls(op string) int {
	drive.mu.Lock()
	defer drive.mu.Unlock()
	return drive.calls[op]
}

// Tokens returns the access tokens presented, in call order.
func (drive *Drive) Tokens() []string {
	drive.mu.Lock()
	defer drive.mu.Unlock()
	return append([]string{}, drive.tokens...)
}

func (drive *Drive) allocateID() string {
	drive.nextID++
	return "file-" + strconv.Itoa(drive.nextID)
}

func (drive *Drive) enter(op, accessToken string) error {
	drive.mu.Lock()
	defer drive.mu.Unlock()
	drive.calls[op]++
	drive.tokens = append(drive.tokens, accessToken)
	if queued := drive.faults[op]; len(queued) > 0 {
		err := queued[0]
		drive.faults[op] = queued[1:]
		return err
	}
	return nil
}

// Root implements gateway.Driver.
func (drive *Drive) Root(ctx context.Context, accessToken string) (gateway.FileInfo, error) {
	if err := drive.enter("Root", accessToken); err != nil {
		return gateway.FileInfo{}, err
	}
	drive.mu.Lock()
	defer drive.mu.Unlock()
	return *drive.files[RootID], nil
}

// SharedDrives implements gateway.Driver.
func (drive *Drive) SharedDrives(ctx context.Context, accessToken string) ([]gateway.FileInfo, error) {
	if err := drive.enter("SharedDrives", accessToken); err != nil {
		return nil, err
	}
	return nil, nil
}

// ListChildren implements gateway.Driver.
func (drive *Drive) ListChildren(ctx context.Context, accessToken, folderID, pageToken string, pageSize int) (gateway.Page, error) {
	if err := drive.enter("ListChildren", accessToken); err != nil {
		return gateway.Page{}, err
	}
	drive.mu.Lock()
	defer drive.mu.Unlock()

	if _, ok := drive.files[folderID]; !ok {
		return gateway.Page{}, gateway.ErrNotFound.New("folder %s", folderID)
	}

	var children []gateway.FileInfo
	for _, file := range drive.files {
		for _, parent := range file.Parents {
			if parent == folderID && !file.Trashed {
				children = append(children, *file)
			}
		}
	}
	sort.Slice(children, func(i, k int) bool { return children[i].ID < children[k].ID })

	offset := 0
	if pageToken != "" {
		parsed, err := strconv.Atoi(pageToken)
		if err != nil {
			return gateway.Page{}, gateway.ErrPermanent.New("bad page token %q", pageToken)
		}
		offset = parsed
	}
	if offset >= len(children) {
		return gateway.Page{}, nil
	}

	end := len(children)
	next := ""
	if pageSize > 0 && offset+pageSize < end {
		end = offset + pageSize
		next = strconv.Itoa(end)
	}
	return gateway.Page{Files: children[offset:end], NextToken: next}, nil
}

// GetFile implements gateway.Driver.
func (drive *Drive) GetFile(ctx context.Context, accessToken, fileID string) (gateway.FileInfo, error) {
	if err := drive.enter("GetFile", accessToken); err != nil {
		return gateway.FileInfo{}, err
	}
	drive.mu.Lock()
	defer drive.mu.Unlock()

	file, ok := drive.files[fileID]
	if !ok {
		return gateway.FileInfo{}, gateway.ErrNotFound.New("file %s", fileID)
	}
	return *file, nil
}

// CreateFolder implements gateway.Driver.
func (drive *Drive) CreateFolder(ctx context.Context, accessToken, parentID, name string) (gateway.FileInfo, error) {
	if err := drive.enter("CreateFolder", accessToken); err != nil {
		return gateway.FileInfo{}, err
	}
	drive.mu.Lock()
	if _, ok := drive.files[parentID]; !ok {
		drive.mu.Unlock()
		return gateway.FileInfo{}, gateway.ErrNotFound.New("parent %s", parentID)
	}
	drive.mu.Unlock()
	return drive.AddFolder(parentID, name), nil
}

// UpdateFile implements gateway.Driver.
func (drive *Drive) UpdateFile(ctx context.Context, accessToken, fileID string, update gateway.Update) (gateway.FileInfo, error) {
	if err := drive.enter("UpdateFile", accessToken); err != nil {
		return gateway.FileInfo{}, err
	}
	drive.mu.Lock()
	defer drive.mu.Unlock()

	file, ok := drive.files[fileID]
	if !ok {
		return gateway.FileInfo{}, gateway.ErrNotFound.New("file %s", fileID)
	}

	if update.Name != nil {
		file.Name = *update.Name
	}
	if update.Trashed != nil {
		file.Trashed = *update.Trashed
	}
	if len(update.AddParents) > 0 || len(update.RemoveParents) > 0 {
		remove := map[string]bool{}
		for _, parent := range update.RemoveParents {
			remove[parent] = true
		}
		var parents []string
		for _, parent := range file.Parents {
			if !remove[parent] {
				parents = append(parents, parent)
			}
		}
		for _, parent := range update.AddParents {
			if _, ok := drive.files[parent]; !ok {
				return gateway.FileInfo{}, gateway.ErrNotFound.New("parent %s", parent)
			}
			parents = append(parents, parent)
		}
		file.Parents = parents
	}
	file.ModifiedAt = time.Now()
	return *file, nil
}

// Copy implements gateway.Driver.
func (drive *Drive) Copy(ctx context.Context, accessToken, fileID, parentID, newName string) (gateway.FileInfo, error) {
	if err := drive.enter("Copy", accessToken); err != nil {
		return gateway.FileInfo{}, err
	}
	drive.mu.Lock()
	defer drive.mu.Unlock()

	source, ok := drive.files[fileID]
	if !ok {
		return gateway.FileInfo{}, gateway.ErrNotFound.New("file %s", fileID)
	}
	if _, ok := drive.files[parentID]; !ok {
		return gateway.FileInfo{}, gateway.ErrNotFound.New("parent %s", parentID)
	}

	duplicate := *source
	duplicate.ID = drive.allocateID()
	duplicate.Parents = []string{parentID}
	if newName != "" {
		duplicate.Name = newName
	} else {
		duplicate.Name = fmt.Sprintf("Copy of %s", source.Name)
	}
	drive.files[duplicate.ID] = &duplicate
	if content, ok := drive.content[fileID]; ok {
		drive.content[duplicate.ID] = append([]byte{}, content...)
	}
	return duplicate, nil
}

// Download implements gateway.Driver.
func (drive *Drive) Download(ctx context.Context, accessToken, fileID string, limit int64) ([]byte, error) {
	if err := drive.enter("Download", accessToken); err != nil {
		return nil, err
	}
	drive.mu.Lock()
	defer drive.mu.Unlock()

	content, ok := drive.content[fileID]
	if !ok {
		if _, exists := drive.files[fileID]; !exists {
			return nil, gateway.ErrNotFound.New("file %s", fileID)
		}
		return nil, nil
	}
	if limit > 0 && int64(len(content)) > limit {
		content = content[:limit]
	}
	return append([]byte{}, content...), nil
}
