// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package constitution

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

func newMonitor(t *testing.T, opts ...Option) *Monitor {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	return m
}

func proposalWithText(title, desc string, payload map[string]any) *datatypes.Proposal {
	return &datatypes.Proposal{
		ID:          "p-test",
		Kind:        datatypes.ChangePatternAdd,
		Title:       title,
		Description: desc,
		Payload:     payload,
	}
}

func TestScoreCleanProposal(t *testing.T) {
	m := newMonitor(t)
	p := proposalWithText(
		"add evening reflection pattern",
		"detects recurring evening rumination themes in local reflections",
		map[string]any{"target": "patterns.evening", "value": "rumination"},
	)

	a := m.Score(p)
	assert.False(t, a.HardBlock)
	assert.InDelta(t, 1.0, a.OverallScore, 0.001)
	assert.Equal(t, "proceed", a.Recommendation)
}

func TestHardBlockIndependentOfOverallScore(t *testing.T) {
	m := newMonitor(t)
	// Trips only the safety principle; everything else scores 1.0, so
	// the overall mean stays high. The hard floor must still block.
	p := proposalWithText(
		"streamline pattern engine",
		"disable the crisis detection path to simplify the engine",
		map[string]any{"target": "engine.safety"},
	)

	a := m.Score(p)
	assert.True(t, a.HardBlock, "hard block must not be averaged away")
	assert.Contains(t, a.HardViolations, "safety_boundaries")
	assert.Greater(t, a.OverallScore, 0.80, "overall score stays high while blocked")
}

func TestZeroTolerancePrinciple(t *testing.T) {
	m := newMonitor(t)
	p := proposalWithText(
		"network loyalty",
		"restrict disconnect for identities with unfinished votes",
		nil,
	)

	a := m.Score(p)
	assert.True(t, a.HardBlock)
	assert.Contains(t, a.HardViolations, "plurality_exit_rights")
}

func TestReviewFlagWithoutBlock(t *testing.T) {
	// Custom strategy forces a mediocre score on one principle without
	// crossing its hard floor.
	m := newMonitor(t, WithStrategy("non_prescriptive_reflection", fixedScore{score: 0.86}))
	p := proposalWithText("neutral change", "adjusts tension weighting", nil)

	a := m.Score(p)
	assert.False(t, a.HardBlock)
	assert.Less(t, a.OverallScore, m.ReviewThreshold())
	assert.Equal(t, "flag for human review", a.Recommendation)
}

// fixedScore is a test Strategy returning a constant.
type fixedScore struct {
	score float64
}

func (f fixedScore) Score(string) (float64, []string) { return f.score, nil }

func TestFailClosedOnMissingConfig(t *testing.T) {
	_, err := New(WithConfigPath("/nonexistent/principles.yaml"))
	require.Error(t, err, "missing configuration must refuse to score, not fall back")
}

func TestFailClosedOnMalformedConfig(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"no principles", "review_threshold: 0.85\nprinciples: []\n"},
		{"bad regex", `
principles:
  - id: broken
    name: Broken
    hard_floor: 0.9
    violations:
      - id: b-1
        pattern: "(unclosed"
        penalty: 0.5
`},
		{"bad penalty", `
principles:
  - id: broken
    name: Broken
    hard_floor: 0.9
    violations:
      - id: b-1
        pattern: "x"
        penalty: 1.5
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0600))
			_, err := New(WithConfigPath(path))
			require.Error(t, err)
		})
	}
}

func TestStrategyOverrideUnknownPrinciple(t *testing.T) {
	_, err := New(WithStrategy("no_such_principle", fixedScore{score: 1}))
	require.Error(t, err)
}

func TestNormalizeFlattensPayload(t *testing.T) {
	p := proposalWithText("Title", "Desc", map[string]any{
		"target": "tone.default",
		"nested": map[string]any{"note": "Upload To Cloud"},
		"list":   []any{"a", 2},
	})
	doc := normalize(p)
	assert.Contains(t, doc, "title")
	assert.Contains(t, doc, "tone.default")
	assert.Contains(t, doc, "upload to cloud")
	assert.Contains(t, doc, "2")
}
