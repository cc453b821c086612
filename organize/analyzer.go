// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package organize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/scan"
)

// categoryFolders maps a file category to its suggested folder.
var categoryFolders = map[gateway.Category]string{
	gateway.CategoryDocument:     "Documents",
	gateway.CategorySpreadsheet:  "Spreadsheets",
	gateway.CategoryPresentation: "Presentations",
	gateway.CategoryImage:        "Images",
	gateway.CategoryVideo:        "Videos",
	gateway.CategoryPDF:          "PDFs",
}

// Analyzer derives organization rules and proposals from snapshots.
type Analyzer struct {
	log       *zap.Logger
	snapshots scan.Snapshots
	oracle    Oracle
	config    Config
}

// NewAnalyzer creates an analyzer. The oracle may be nil, in which
// case mime-derived categories are used directly.
func NewAnalyzer(log *zap.Logger, snapshots scan.Snapshots, oracle Oracle, config Config) *Analyzer {
	return &Analyzer{
		log:       log,
		snapshots: snapshots,
		oracle:    oracle,
		config:    config,
	}
}

// Analyze loads the snapshot's records and derives rules and proposals.
func (analyzer *Analyzer) Analyze(ctx context.Context, userKey, snapshotID string) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	snapshot, err := analyzer.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snapshot.UserKey != userKey {
		return nil, Error.New("snapshot %s does not belong to user", snapshotID)
	}

	var records []gateway.FileInfo
	err = analyzer.snapshots.ReadRecords(ctx, snapshotID, func(record gateway.FileInfo) error {
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return analyzer.AnalyzeRecords(ctx, records)
}

// AnalyzeRecords derives rules and proposals from the given records.
func (analyzer *Analyzer) AnalyzeRecords(ctx context.Context, records []gateway.FileInfo) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	files := make([]gateway.FileInfo, 0, len(records))
	for _, record := range records {
		if !record.IsFolder() {
			files = append(files, record)
		}
	}

	categories := analyzer.classify(ctx, files)

	result := &Result{}
	result.Rules = analyzer.deriveRules(files, categories)
	result.Proposals = analyzer.deriveProposals(files, categories, result.Rules)

	mon.IntVal("organize_rules").Observe(int64(len(result.Rules)))
	mon.IntVal("organize_proposals").Observe(int64(len(result.Proposals)))
	return result, nil
}

// classify returns one category per file, consulting the oracle under
// a timeout and falling back to the mime-derived category.
func (analyzer *Analyzer) classify(ctx context.Context, files []gateway.FileInfo) []gateway.Category {
	categories := make([]gateway.Category, len(files))
	for i := range files {
		categories[i] = files[i].Category
	}
	if analyzer.oracle == nil || len(files) == 0 {
		return categories
	}

	timeout := analyzer.config.OracleTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	oracleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	refined, err := analyzer.oracle.Classify(oracleCtx, files)
	if err != nil || len(refined) != len(files) {
		analyzer.log.Debug("oracle classification unavailable, using mime categories",
			zap.Int("files", len(files)), zap.Error(err))
		return categories
	}
	for i, category := range refined {
		if category != "" {
			categories[i] = category
		}
	}
	return categories
}

func (analyzer *Analyzer) deriveRules(files []gateway.FileInfo, categories []gateway.Category) []Rule {
	var rules []Rule

	byCategory := map[gateway.Category]int{}
	byExtension := map[string]int{}
	large := 0
	largeSize := analyzer.config.LargeFileSize.Int64()

	for i, file := range files {
		byCategory[categories[i]]++
		if ext := extension(file.Name); ext != "" {
			byExtension[ext]++
		}
		if largeSize > 0 && file.Size > largeSize {
			large++
		}
	}

	for _, category := range sortedCategories(byCategory) {
		count := byCategory[category]
		folder, ok := categoryFolders[category]
		if !ok || count < analyzer.config.CategoryThreshold {
			continue
		}
		rules = append(rules, Rule{
			ID:           fmt.Sprintf("category-%s", category),
			Kind:         RuleCategory,
			Criteria:     Criteria{Category: category},
			TargetFolder: folder,
			Confidence:   ruleConfidence(count),
			MemberCount:  count,
		})
	}

	for _, ext := range sortedKeys(byExtension) {
		count := byExtension[ext]
		if count < analyzer.config.ExtensionThreshold {
			continue
		}
		rules = append(rules, Rule{
			ID:           fmt.Sprintf("extension-%s", ext),
			Kind:         RuleExtension,
			Criteria:     Criteria{Extension: ext},
			TargetFolder: strings.ToUpper(ext) + " Files",
			Confidence:   ruleConfidence(count),
			MemberCount:  count,
		})
	}

	if large >= analyzer.config.LargeFileThreshold {
		rules = append(rules, Rule{
			ID:           "large-file-archive",
			Kind:         RuleLargeFile,
			Criteria:     Criteria{MinSize: largeSize},
			TargetFolder: "Archive",
			Confidence:   ruleConfidence(large),
			MemberCount:  large,
		})
	}
	return rules
}

// deriveProposals matches every file against every rule. A file can
// match several rules; only the highest-confidence proposal per file
// survives.
func (analyzer *Analyzer) deriveProposals(files []gateway.FileInfo, categories []gateway.Category, rules []Rule) []Proposal {
	best := map[string]Proposal{}
	order := make([]string, 0, len(files))

	for i, file := range files {
		for _, rule := range rules {
			specified := rule.Criteria.specified()
			if specified == 0 {
				continue
			}
			matched := 0
			if rule.Criteria.Category != "" && categories[i] == rule.Criteria.Category {
				matched++
			}
			if rule.Criteria.Extension != "" && extension(file.Name) == rule.Criteria.Extension {
				matched++
			}
			if rule.Criteria.MinSize > 0 && file.Size > rule.Criteria.MinSize {
				matched++
			}
			fraction := float64(matched) / float64(specified)
			if fraction < 0.5 {
				continue
			}

			kind := "move"
			if rule.Kind == RuleLargeFile {
				kind = "archive"
			}
			confidence := int(fraction * float64(rule.Confidence))
			proposal := Proposal{
				FileID:       file.ID,
				Kind:         kind,
				TargetFolder: rule.TargetFolder,
				RuleID:       rule.ID,
				Confidence:   confidence,
				Priority:     priorityFor(confidence),
			}
			current, seen := best[file.ID]
			if !seen {
				order = append(order, file.ID)
			}
			if !seen || proposal.Confidence > current.Confidence {
				best[file.ID] = proposal
			}
		}
	}

	proposals := make([]Proposal, 0, len(order))
	for _, fileID := range order {
		proposals = append(proposals, best[fileID])
	}
	return proposals
}

func ruleConfidence(count int) int {
	confidence := 60 + 2*count
	if confidence > 95 {
		confidence = 95
	}
	return confidence
}

func priorityFor(confidence int) Priority {
	switch {
	case confidence > 80:
		return PriorityHigh
	case confidence > 60:
		return PriorityMedium
	}
	return PriorityLow
}

func extension(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[dot+1:])
}

func sortedCategories(buckets map[gateway.Category]int) []gateway.Category {
	keys := make([]gateway.Category, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, k int) bool { return keys[i] < keys[k] })
	return keys
}

func sortedKeys(buckets map[string]int) []string {
	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
