// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package boltdb

import (
	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()
