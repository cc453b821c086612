// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package organize derives folder-organization rules and per-file
// proposals from a scan snapshot. It never mutates the remote; its
// proposals are handed to the action engine.
package organize

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/common/memory"
	"storj.io/drivesweep/gateway"
)

var (
	// Error is the default organize errs class.
	Error = errs.Class("organize")

	mon = monkit.Package()
)

// RuleKind names the bucketing strategy that produced a rule.
type RuleKind string

// Rule kinds.
const (
	RuleCategory  RuleKind = "category"
	RuleExtension RuleKind = "extension"
	RuleLargeFile RuleKind = "large_file"
)

// Priority buckets proposals by confidence.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Criteria is what a rule matches files on. Zero fields are
// unspecified and do not participate in the match fraction.
type Criteria struct {
	Category  gateway.Category `json:"category,omitempty"`
	Extension string           `json:"extension,omitempty"`
	MinSize   int64            `json:"minSize,omitempty"`
}

// specified returns how many criteria the rule carries.
func (criteria Criteria) specified() int {
	count := 0
	if criteria.Category != "" {
		count++
	}
	if criteria.Extension != "" {
		count++
	}
	if criteria.MinSize > 0 {
		count++
	}
	return count
}

// Rule is a candidate organization rule derived from the namespace.
type Rule struct {
	ID           string   `json:"id"`
	Kind         RuleKind `json:"kind"`
	Criteria     Criteria `json:"criteria"`
	TargetFolder string   `json:"targetFolder"`
	Confidence   int      `json:"confidence"`
	MemberCount  int      `json:"memberCount"`
}

// Proposal is a suggested change for one file. TargetFolder is a path
// suggestion; the action engine resolves it to a folder id.
type Proposal struct {
	FileID       string   `json:"fileId"`
	Kind         string   `json:"kind"` // move or archive
	TargetFolder string   `json:"targetFolder"`
	RuleID       string   `json:"ruleId"`
	Confidence   int      `json:"confidence"`
	Priority     Priority `json:"priority"`
}

// Result is the output of one analysis run.
type Result struct {
	Rules     []Rule     `json:"rules"`
	Proposals []Proposal `json:"proposals"`
}

// Oracle classifies files into categories. Implementations may call an
// external model; the analyzer applies a timeout and falls back to
// mime-derived categories when the oracle fails.
type Oracle interface {
	Classify(ctx context.Context, files []gateway.FileInfo) ([]gateway.Category, error)
}

// Config contains configurable values for the organization analyzer.
type Config struct {
	CategoryThreshold  int           `help:"minimum files sharing a category before a rule is emitted" default:"5"`
	ExtensionThreshold int           `help:"minimum files sharing an extension before a rule is emitted" default:"10"`
	LargeFileThreshold int           `help:"minimum large files before an archive rule is emitted" default:"5"`
	LargeFileSize      memory.Size   `help:"size above which a file counts as large" default:"100.0 MiB"`
	OracleTimeout      time.Duration `help:"how long to wait for the classification oracle" default:"2s"`
}
