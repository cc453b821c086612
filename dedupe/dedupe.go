// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package dedupe finds duplicate and near-duplicate files in a scan
// snapshot and recommends which copies to keep.
package dedupe

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/common/memory"
)

var (
	// Error is the default dedupe errs class.
	Error = errs.Class("dedupe")

	mon = monkit.Package()
)

// MatchKind describes which pass produced a group.
type MatchKind string

// Match kinds, ordered by pass.
const (
	MatchExactChecksum  MatchKind = "exact_checksum"
	MatchSizeName       MatchKind = "size_name"
	MatchContentHash    MatchKind = "content_hash"
	MatchFuzzyName      MatchKind = "fuzzy_name"
	MatchVersionSibling MatchKind = "version_sibling"
)

// Risk rates how safe it is to act on a group automatically.
type Risk string

// Risk levels.
const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Depth selects how many passes run.
type Depth string

// Detection depths.
const (
	DepthFast     Depth = "fast"     // checksum and size+name only
	DepthThorough Depth = "thorough" // adds fuzzy-name matching
	DepthDeep     Depth = "deep"     // adds bounded content hashing
)

// Recommendation kinds.
const (
	RecommendKeepBest     = "keep_best"
	RecommendManualReview = "manual_review"
)

// Member is one file in a duplicate group.
type Member struct {
	FileID       string `json:"fileId"`
	QualityScore int    `json:"qualityScore"`
}

// Recommendation is the per-group resolution proposal.
type Recommendation struct {
	Kind       string   `json:"kind"`
	KeepID     string   `json:"keepId,omitempty"`
	DeleteIDs  []string `json:"deleteIds,omitempty"`
	ReasonCode string   `json:"reasonCode"`
}

// Group is a set of at least two files considered duplicates.
type Group struct {
	ID               string         `json:"id"`
	MatchKind        MatchKind      `json:"matchKind"`
	Confidence       int            `json:"confidence"`
	Members          []Member       `json:"members"`
	Recommendation   Recommendation `json:"recommendation"`
	SpaceReclaimable int64          `json:"spaceReclaimable"`
	Risk             Risk           `json:"risk"`
}

// Summary aggregates a detection run.
type Summary struct {
	Groups           int          `json:"groups"`
	DuplicateMembers int          `json:"duplicateMembers"`
	ReclaimableBytes int64        `json:"reclaimableBytes"`
	RiskHistogram    map[Risk]int `json:"riskHistogram"`
	HashedBytes      int64        `json:"hashedBytes"`
}

// Result is the output of one detection run.
type Result struct {
	Groups  []Group `json:"groups"`
	Summary Summary `json:"summary"`
}

// Options is the per-run configuration supplied by the caller.
type Options struct {
	Depth             Depth `json:"depth"`
	MinFileSize       int64 `json:"minFileSize"`
	EnableContentHash bool  `json:"enableContentHash"`
	EnableFuzzyName   bool  `json:"enableFuzzyName"`
}

// Config contains configurable values for the duplicate engine.
type Config struct {
	ContentHashSizeCap      memory.Size `help:"largest file considered for content hashing" default:"50.0 MiB"`
	ContentHashAggregateCap memory.Size `help:"total bytes downloaded for hashing per run" default:"2.0 GiB"`
	FuzzySimilarity         float64     `help:"minimum normalized-name similarity for a fuzzy match" default:"0.8"`
	FuzzySizeDelta          float64     `help:"maximum relative size difference for a fuzzy match" default:"0.1"`
}
