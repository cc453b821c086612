// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package organize_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/memory"
	"storj.io/common/testcontext"
	"storj.io/drivesweep/drivesweepdb"
	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/organize"
	"storj.io/drivesweep/scan"
)

type fakeOracle struct {
	categories []gateway.Category
	err        error
	calls      int
}

func (oracle *fakeOracle) Classify(ctx context.Context, files []gateway.FileInfo) ([]gateway.Category, error) {
	oracle.calls++
	if oracle.err != nil {
		return nil, oracle.err
	}
	return oracle.categories, nil
}

func testConfig() organize.Config {
	return organize.Config{
		CategoryThreshold:  5,
		ExtensionThreshold: 10,
		LargeFileThreshold: 5,
		LargeFileSize:      memory.Size(1000),
		OracleTimeout:      time.Second,
	}
}

func newAnalyzer(t *testing.T, oracle organize.Oracle) *organize.Analyzer {
	return organize.NewAnalyzer(zaptest.NewLogger(t), nil, oracle, testConfig())
}

func docs(count int) []gateway.FileInfo {
	var files []gateway.FileInfo
	for i := 0; i < count; i++ {
		files = append(files, gateway.FileInfo{
			ID:       fmt.Sprintf("doc-%d", i),
			Name:     fmt.Sprintf("letter-%d.docx", i),
			Category: gateway.CategoryDocument,
			Size:     100,
		})
	}
	return files
}

func TestAnalyzeCategoryRule(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	analyzer := newAnalyzer(t, nil)

	result, err := analyzer.AnalyzeRecords(ctx, docs(5))
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	rule := result.Rules[0]
	require.Equal(t, "category-document", rule.ID)
	require.Equal(t, organize.RuleCategory, rule.Kind)
	require.Equal(t, "Documents", rule.TargetFolder)
	require.Equal(t, 70, rule.Confidence)
	require.Equal(t, 5, rule.MemberCount)

	require.Len(t, result.Proposals, 5)
	for _, proposal := range result.Proposals {
		require.Equal(t, "move", proposal.Kind)
		require.Equal(t, "Documents", proposal.TargetFolder)
		require.Equal(t, 70, proposal.Confidence)
		require.Equal(t, organize.PriorityMedium, proposal.Priority)
	}
}

func TestAnalyzeBelowThreshold(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	result, err := newAnalyzer(t, nil).AnalyzeRecords(ctx, docs(4))
	require.NoError(t, err)
	require.Empty(t, result.Rules)
	require.Empty(t, result.Proposals)
}

func TestAnalyzeExtensionRule(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var files []gateway.FileInfo
	for i := 0; i < 10; i++ {
		files = append(files, gateway.FileInfo{
			ID:       fmt.Sprintf("csv-%d", i),
			Name:     fmt.Sprintf("export-%d.CSV", i),
			Category: gateway.CategoryOther,
			Size:     100,
		})
	}

	result, err := newAnalyzer(t, nil).AnalyzeRecords(ctx, files)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	rule := result.Rules[0]
	require.Equal(t, "extension-csv", rule.ID)
	require.Equal(t, organize.RuleExtension, rule.Kind)
	require.Equal(t, "CSV Files", rule.TargetFolder)
	require.Equal(t, 80, rule.Confidence)
	require.Len(t, result.Proposals, 10)
}

func TestAnalyzeLargeFileRule(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var files []gateway.FileInfo
	for i := 0; i < 5; i++ {
		files = append(files, gateway.FileInfo{
			ID:       fmt.Sprintf("big-%d", i),
			Name:     fmt.Sprintf("raw-%d.bin", i),
			Category: gateway.CategoryOther,
			Size:     2000,
		})
	}

	result, err := newAnalyzer(t, nil).AnalyzeRecords(ctx, files)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	rule := result.Rules[0]
	require.Equal(t, "large-file-archive", rule.ID)
	require.Equal(t, organize.RuleLargeFile, rule.Kind)
	require.Equal(t, "Archive", rule.TargetFolder)

	require.Len(t, result.Proposals, 5)
	for _, proposal := range result.Proposals {
		require.Equal(t, "archive", proposal.Kind)
	}
}

func TestAnalyzeProposalCollapse(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// 12 pdf-named files, 6 with the pdf category: the extension rule
	// (12 members, confidence 84) outranks the category rule (6, 72).
	var files []gateway.FileInfo
	for i := 0; i < 12; i++ {
		category := gateway.CategoryOther
		if i < 6 {
			category = gateway.CategoryPDF
		}
		files = append(files, gateway.FileInfo{
			ID:       fmt.Sprintf("pdf-%d", i),
			Name:     fmt.Sprintf("scan-%d.pdf", i),
			Category: category,
			Size:     100,
		})
	}

	result, err := newAnalyzer(t, nil).AnalyzeRecords(ctx, files)
	require.NoError(t, err)
	require.Len(t, result.Rules, 2)
	require.Len(t, result.Proposals, 12)

	for _, proposal := range result.Proposals {
		require.Equal(t, "extension-pdf", proposal.RuleID)
		require.Equal(t, "PDF Files", proposal.TargetFolder)
		require.Equal(t, 84, proposal.Confidence)
		require.Equal(t, organize.PriorityHigh, proposal.Priority)
	}
}

func TestAnalyzeOracleRefinesCategories(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var files []gateway.FileInfo
	refined := make([]gateway.Category, 5)
	for i := 0; i < 5; i++ {
		files = append(files, gateway.FileInfo{
			ID:       fmt.Sprintf("blob-%d", i),
			Name:     fmt.Sprintf("blob-%d", i),
			Category: gateway.CategoryOther,
			Size:     100,
		})
		refined[i] = gateway.CategoryDocument
	}

	oracle := &fakeOracle{categories: refined}
	result, err := newAnalyzer(t, oracle).AnalyzeRecords(ctx, files)
	require.NoError(t, err)
	require.Equal(t, 1, oracle.calls)
	require.Len(t, result.Rules, 1)
	require.Equal(t, "category-document", result.Rules[0].ID)
}

func TestAnalyzeOracleFailureFallsBack(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	oracle := &fakeOracle{err: fmt.Errorf("model unavailable")}
	result, err := newAnalyzer(t, oracle).AnalyzeRecords(ctx, docs(5))
	require.NoError(t, err)
	require.Equal(t, 1, oracle.calls)

	// mime-derived categories still produce the rule
	require.Len(t, result.Rules, 1)
	require.Equal(t, "category-document", result.Rules[0].ID)
}

func TestAnalyzeFromSnapshot(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	db := drivesweepdb.OpenInMemory(log)

	records := append(docs(5), gateway.FileInfo{
		ID:       "folder-1",
		Name:     "Stuff",
		MimeType: "application/vnd.google-apps.folder",
		Category: gateway.CategoryFolder,
	})
	require.NoError(t, db.Snapshots().WriteChunk(ctx, "snap-1", 0, records))
	require.NoError(t, db.Snapshots().Publish(ctx, &scan.Snapshot{
		ID:         "snap-1",
		ScanID:     "snap-1",
		UserKey:    "alice",
		TakenAt:    time.Now(),
		TotalFiles: 5,
	}))

	analyzer := organize.NewAnalyzer(log, db.Snapshots(), nil, testConfig())

	_, err := analyzer.Analyze(ctx, "mallory", "snap-1")
	require.Error(t, err)

	result, err := analyzer.Analyze(ctx, "alice", "snap-1")
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)
	require.Len(t, result.Proposals, 5)
}
