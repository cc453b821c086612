// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package action

import (
	"storj.io/drivesweep/gateway"
)

// Preflight reason codes.
const (
	reasonShared              = "shared"
	reasonCollaborators       = "collaborators"
	reasonLargeFile           = "large_file"
	reasonSharedDestructive   = "shared_destructive"
	reasonReadOnlyCloudNative = "read_only_cloud_native"
)

const largeFileBytes = 100 << 20

// preflight applies the safety policy to one proposal given the
// file's current remote state. A non-empty skip reason wins over any
// warnings. Trash and archive of a file shared with additional
// collaborators is the destructive case that normal safety refuses;
// a merely shared file only warns there.
func preflight(level SafetyLevel, kind Kind, file gateway.FileInfo) (warnings []string, skipReason string) {
	destructive := kind == KindTrash || kind == KindArchive

	if file.Shared {
		switch level {
		case SafetyNormal:
			warnings = append(warnings, reasonShared)
		case SafetyConservative:
			return nil, reasonShared
		}
	}

	if file.Permissions > 1 {
		if destructive && level != SafetyAggressive {
			return nil, reasonSharedDestructive
		}
		if level != SafetyAggressive {
			warnings = append(warnings, reasonCollaborators)
		}
	}

	if file.Size > largeFileBytes {
		warnings = append(warnings, reasonLargeFile)
	}

	if !file.Capabilities.CanEdit && gateway.IsCloudNative(file.MimeType) {
		switch level {
		case SafetyNormal:
			warnings = append(warnings, reasonReadOnlyCloudNative)
		case SafetyConservative:
			return nil, reasonReadOnlyCloudNative
		}
	}

	return warnings, ""
}
