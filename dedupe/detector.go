// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/scan"
)

// Detector runs the duplicate-detection passes over a snapshot.
type Detector struct {
	log       *zap.Logger
	gateway   *gateway.Service
	snapshots scan.Snapshots
	config    Config

	nowFn func() time.Time
}

// NewDetector creates a duplicate detector.
func NewDetector(log *zap.Logger, gw *gateway.Service, snapshots scan.Snapshots, config Config) *Detector {
	if config.FuzzySimilarity <= 0 {
		config.FuzzySimilarity = 0.8
	}
	if config.FuzzySizeDelta <= 0 {
		config.FuzzySizeDelta = 0.1
	}
	return &Detector{
		log:       log,
		gateway:   gw,
		snapshots: snapshots,
		config:    config,
		nowFn:     time.Now,
	}
}

// Detect loads the snapshot's records and runs the configured passes.
func (detector *Detector) Detect(ctx context.Context, userKey, snapshotID string, options Options) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	snapshot, err := detector.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snapshot.UserKey != userKey {
		return nil, Error.New("snapshot %s does not belong to user", snapshotID)
	}

	var records []gateway.FileInfo
	err = detector.snapshots.ReadRecords(ctx, snapshotID, func(record gateway.FileInfo) error {
		if !record.IsFolder() {
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detector.DetectRecords(ctx, userKey, records, options)
}

// DetectRecords runs the passes over the given records.
func (detector *Detector) DetectRecords(ctx context.Context, userKey string, records []gateway.FileInfo, options Options) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	if options.Depth == "" {
		options.Depth = DepthFast
	}

	remaining := make([]*gateway.FileInfo, 0, len(records))
	for i := range records {
		if records[i].IsFolder() || records[i].Size < options.MinFileSize {
			continue
		}
		remaining = append(remaining, &records[i])
	}

	result := &Result{Summary: Summary{RiskHistogram: map[Risk]int{}}}

	remaining = detector.checksumPass(result, remaining)
	remaining = detector.sizeNamePass(result, remaining)
	if options.Depth == DepthDeep && options.EnableContentHash {
		remaining, err = detector.contentHashPass(ctx, userKey, result, remaining)
		if err != nil {
			return nil, err
		}
	}
	if (options.Depth == DepthThorough || options.Depth == DepthDeep) && options.EnableFuzzyName {
		detector.fuzzyPass(result, remaining)
	}

	for i := range result.Groups {
		group := &result.Groups[i]
		result.Summary.Groups++
		result.Summary.DuplicateMembers += len(group.Members)
		result.Summary.ReclaimableBytes += group.SpaceReclaimable
		result.Summary.RiskHistogram[group.Risk]++
	}
	mon.IntVal("dedupe_groups").Observe(int64(result.Summary.Groups))
	return result, nil
}

// checksumPass groups records by the provider-supplied checksum.
func (detector *Detector) checksumPass(result *Result, files []*gateway.FileInfo) (rest []*gateway.FileInfo) {
	buckets := map[string][]*gateway.FileInfo{}
	for _, file := range files {
		if file.Checksum == "" {
			continue
		}
		key := fmt.Sprintf("%s/%d", file.Checksum, file.Size)
		buckets[key] = append(buckets[key], file)
	}
	grouped := detector.collectGroups(result, buckets, MatchExactChecksum, 100, RiskLow)
	for _, file := range files {
		if !grouped[file.ID] {
			rest = append(rest, file)
		}
	}
	return rest
}

// sizeNamePass groups remaining records by normalized name and size.
func (detector *Detector) sizeNamePass(result *Result, files []*gateway.FileInfo) (rest []*gateway.FileInfo) {
	buckets := map[string][]*gateway.FileInfo{}
	for _, file := range files {
		key := fmt.Sprintf("%s/%d", normalizeName(file.Name), file.Size)
		buckets[key] = append(buckets[key], file)
	}
	grouped := detector.collectGroups(result, buckets, MatchSizeName, 90, RiskLow)
	for _, file := range files {
		if !grouped[file.ID] {
			rest = append(rest, file)
		}
	}
	return rest
}

// contentHashPass downloads remaining small files and groups by sha256.
// Downloads stop once the aggregate byte cap is reached.
func (detector *Detector) contentHashPass(ctx context.Context, userKey string, result *Result, files []*gateway.FileInfo) (rest []*gateway.FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	sizeCap := detector.config.ContentHashSizeCap.Int64()
	aggregateCap := detector.config.ContentHashAggregateCap.Int64()

	// smallest first squeezes the most files under the aggregate cap
	candidates := make([]*gateway.FileInfo, 0, len(files))
	for _, file := range files {
		if file.Size > 0 && file.Size <= sizeCap {
			candidates = append(candidates, file)
		}
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].Size < candidates[k].Size })

	buckets := map[string][]*gateway.FileInfo{}
	for _, file := range candidates {
		if result.Summary.HashedBytes+file.Size > aggregateCap {
			break
		}
		data, err := detector.gateway.Download(ctx, userKey, file.ID, file.Size)
		if err != nil {
			if gateway.ErrNotFound.Has(err) || gateway.ErrForbidden.Has(err) {
				detector.log.Debug("skipping unhashable file",
					zap.String("fileID", file.ID), zap.Error(err))
				continue
			}
			return nil, err
		}
		result.Summary.HashedBytes += int64(len(data))

		digest := sha256.Sum256(data)
		key := fmt.Sprintf("%s/%d", hex.EncodeToString(digest[:]), file.Size)
		buckets[key] = append(buckets[key], file)
	}

	grouped := detector.collectGroups(result, buckets, MatchContentHash, 95, RiskLow)
	for _, file := range files {
		if !grouped[file.ID] {
			rest = append(rest, file)
		}
	}
	return rest, nil
}

// fuzzyPass clusters remaining records whose normalized names are
// similar and whose sizes are close. Clusters with a version-copy
// pattern are tagged as version siblings.
func (detector *Detector) fuzzyPass(result *Result, files []*gateway.FileInfo) {
	used := map[string]bool{}

	for i, file := range files {
		if used[file.ID] {
			continue
		}
		cluster := []*gateway.FileInfo{file}
		similaritySum := 0.0

		for _, other := range files[i+1:] {
			if used[other.ID] {
				continue
			}
			similarity := nameSimilarity(normalizeName(file.Name), normalizeName(other.Name))
			if similarity < detector.config.FuzzySimilarity {
				continue
			}
			if sizeDelta(file.Size, other.Size) >= detector.config.FuzzySizeDelta {
				continue
			}
			cluster = append(cluster, other)
			similaritySum += similarity
		}
		if len(cluster) < 2 {
			continue
		}
		for _, member := range cluster {
			used[member.ID] = true
		}

		kind := MatchFuzzyName
		for _, member := range cluster {
			if looksVersioned(member.Name) {
				kind = MatchVersionSibling
				break
			}
		}

		average := similaritySum / float64(len(cluster)-1)
		confidence := 75 + int(10*average)
		if confidence > 85 {
			confidence = 85
		}
		result.Groups = append(result.Groups, detector.makeGroup(cluster, kind, confidence, RiskMedium))
	}
}

func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}

func sizeDelta(a, b int64) float64 {
	max := a
	if b > max {
		max = b
	}
	if max == 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(max)
}

func (detector *Detector) collectGroups(result *Result, buckets map[string][]*gateway.FileInfo, kind MatchKind, confidence int, risk Risk) map[string]bool {
	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	grouped := map[string]bool{}
	for _, key := range keys {
		bucket := buckets[key]
		if len(bucket) < 2 {
			continue
		}
		for _, file := range bucket {
			grouped[file.ID] = true
		}
		result.Groups = append(result.Groups, detector.makeGroup(bucket, kind, confidence, risk))
	}
	return grouped
}

// makeGroup scores the members and derives the recommendation. For
// version siblings the newest member wins: a version chain's latest
// revision is the one worth keeping regardless of its name markers.
func (detector *Detector) makeGroup(files []*gateway.FileInfo, kind MatchKind, confidence int, risk Risk) Group {
	now := detector.nowFn()

	members := make([]Member, 0, len(files))
	keep := 0
	for i, file := range files {
		members = append(members, Member{FileID: file.ID, QualityScore: qualityScore(file, now)})
		switch {
		case kind == MatchVersionSibling:
			if file.ModifiedAt.After(files[keep].ModifiedAt) {
				keep = i
			}
		case members[i].QualityScore > members[keep].QualityScore:
			keep = i
		case members[i].QualityScore == members[keep].QualityScore &&
			file.ModifiedAt.After(files[keep].ModifiedAt):
			keep = i
		}
	}

	group := Group{
		ID:         fmt.Sprintf("%s-%s", kind, files[keep].ID),
		MatchKind:  kind,
		Confidence: confidence,
		Members:    members,
		Risk:       risk,
	}

	if confidence >= 80 {
		recommendation := Recommendation{
			Kind:       RecommendKeepBest,
			KeepID:     files[keep].ID,
			ReasonCode: string(kind),
		}
		for i, file := range files {
			if i == keep {
				continue
			}
			recommendation.DeleteIDs = append(recommendation.DeleteIDs, file.ID)
			group.SpaceReclaimable += file.Size
		}
		group.Recommendation = recommendation
	} else {
		group.Recommendation = Recommendation{
			Kind:       RecommendManualReview,
			ReasonCode: "low_confidence",
		}
	}
	return group
}
