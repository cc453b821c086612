// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"context"
)

// Iterator is a lazy, page-fused folder listing. It fetches pages on
// demand through the gateway's call path, so every page is rate
// limited and retried like any other call.
type Iterator struct {
	service  *Service
	userKey  string
	folderID string
	pageSize int

	pageToken string
	fetched   bool
	buffer    []FileInfo
	index     int
	current   FileInfo
	done      bool
	err       error
}

// Next advances to the next child record. It returns false when the
// listing is exhausted or an error occurred; check Err afterwards.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for it.index >= len(it.buffer) {
		if it.done {
			return false
		}
		if !it.fetchPage(ctx) {
			return false
		}
	}
	it.current = it.buffer[it.index]
	it.index++
	return true
}

func (it *Iterator) fetchPage(ctx context.Context) bool {
	if it.fetched && it.pageToken == "" {
		it.done = true
		return false
	}

	var page Page
	err := it.service.call(ctx, it.userKey, func(ctx context.Context, accessToken string) error {
		var err error
		page, err = it.service.driver.ListChildren(ctx, accessToken, it.folderID, it.pageToken, it.pageSize)
		return err
	})
	if err != nil {
		it.err = err
		return false
	}

	it.fetched = true
	it.buffer = page.Files
	it.index = 0
	it.pageToken = page.NextToken
	if it.pageToken == "" && len(it.buffer) == 0 {
		it.done = true
		return false
	}
	return true
}

// Item returns the record Next advanced to.
func (it *Iterator) Item() FileInfo { return it.current }

// Err returns the terminal error, if any.
func (it *Iterator) Err() error { return it.err }

// PageToken returns the cursor of the next unfetched page. Persisting
// it lets a caller resume listing after the pages consumed so far.
func (it *Iterator) PageToken() string { return it.pageToken }
