// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package constitution implements the stateless constitutional monitor.
//
// The monitor scores a proposal's payload against a fixed set of named
// principles, each with a soft target and an absolute hard floor. A
// single principle below its own floor blocks adoption regardless of the
// overall score or the vote outcome; hard blocks are never averaged
// away and never overridden by revoting.
//
// The principle set is immutable after construction, loaded once from
// YAML (embedded default or an external file), with fail-closed
// semantics: if no valid configuration can be loaded the constructor
// errors and nothing is ever scored against an empty rule set.
package constitution

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

const defaultReviewThreshold = datatypes.DefaultReviewThreshold

// Strategy scores one principle against a normalized proposal document.
//
// Strategies are keyed by principle ID and independently testable; the
// default is the pattern strategy built from the YAML configuration.
type Strategy interface {
	// Score returns the principle score in [0,1] and any soft flags.
	Score(doc string) (float64, []string)
}

// patternStrategy is the default Strategy: start at 1.0 and subtract
// the penalty of every violation pattern that matches.
type patternStrategy struct {
	violations []ViolationDef
}

func (p patternStrategy) Score(doc string) (float64, []string) {
	score := 1.0
	var flags []string
	for _, v := range p.violations {
		if v.compiled.MatchString(doc) {
			score -= v.Penalty
			flags = append(flags, fmt.Sprintf("%s: %s", v.ID, v.Description))
		}
	}
	if score < 0 {
		score = 0
	}
	return score, flags
}

// principle pairs a configured definition with its scoring strategy.
type principle struct {
	id        string
	name      string
	hardFloor float64
	strategy  Strategy
}

// Monitor is the stateless constitutional scorer.
//
// # Thread Safety
//
// Safe for concurrent use; the principle set never mutates after New.
type Monitor struct {
	principles      []principle
	reviewThreshold float64
	logger          *slog.Logger
}

// Option customizes Monitor construction.
type Option func(*options)

type options struct {
	configPath string
	strategies map[string]Strategy
	logger     *slog.Logger
}

// WithConfigPath loads principles from an external YAML file instead of
// the embedded default. Parsing failures are hard errors.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithStrategy overrides the scoring strategy for one principle ID.
// The principle must exist in the loaded configuration.
func WithStrategy(principleID string, s Strategy) Option {
	return func(o *options) { o.strategies[principleID] = s }
}

// WithLogger sets the monitor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New constructs the monitor from configuration.
//
// Fails closed: any loading or validation error returns (nil, error)
// and the caller must not proceed to score proposals.
func New(opts ...Option) (*Monitor, error) {
	o := options{strategies: make(map[string]Strategy)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "governance.constitution")
	}

	file, err := loadPrincipleFile(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("constitutional monitor refusing to start: %w", err)
	}

	m := &Monitor{
		reviewThreshold: file.ReviewThreshold,
		logger:          o.logger,
	}
	for _, def := range file.Principles {
		strat, ok := o.strategies[def.ID]
		if !ok {
			strat = patternStrategy{violations: def.Violations}
		}
		delete(o.strategies, def.ID)
		m.principles = append(m.principles, principle{
			id:        def.ID,
			name:      def.Name,
			hardFloor: def.HardFloor,
			strategy:  strat,
		})
	}
	if len(o.strategies) > 0 {
		var unknown []string
		for id := range o.strategies {
			unknown = append(unknown, id)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("strategy overrides for unknown principles: %v", unknown)
	}

	m.logger.Info("constitutional monitor loaded",
		"principles", len(m.principles),
		"review_threshold", m.reviewThreshold,
	)
	return m, nil
}

// Score evaluates a proposal against every loaded principle.
//
// The overall score is the mean of principle scores. HardBlock is set
// when ANY principle falls below its own hard floor, independent of the
// overall score. With no hard block, an overall score below the review
// threshold flags the proposal for human review without blocking it.
func (m *Monitor) Score(p *datatypes.Proposal) *datatypes.ConstitutionalAssessment {
	doc := normalize(p)

	a := &datatypes.ConstitutionalAssessment{
		ScoredAt: time.Now().UTC(),
	}

	sum := 0.0
	for _, pr := range m.principles {
		score, flags := pr.strategy.Score(doc)
		ps := datatypes.PrincipleScore{
			PrincipleID: pr.id,
			Name:        pr.name,
			Score:       score,
			HardFloor:   pr.hardFloor,
			Flags:       flags,
		}
		a.Principles = append(a.Principles, ps)
		sum += score

		if ps.Violated() {
			a.HardBlock = true
			a.HardViolations = append(a.HardViolations, pr.id)
		}
		a.Flags = append(a.Flags, flags...)
	}
	a.OverallScore = sum / float64(len(m.principles))

	switch {
	case a.HardBlock:
		a.Recommendation = fmt.Sprintf("block: principles %v below hard floor", a.HardViolations)
	case a.OverallScore < m.reviewThreshold:
		a.Flags = append(a.Flags, fmt.Sprintf("overall score %.2f below review threshold %.2f",
			a.OverallScore, m.reviewThreshold))
		a.Recommendation = "flag for human review"
	default:
		a.Recommendation = "proceed"
	}
	return a
}

// ReviewThreshold returns the configured global acceptance threshold.
func (m *Monitor) ReviewThreshold() float64 {
	return m.reviewThreshold
}

// normalize flattens a proposal into the lowercase text document the
// strategies match against: title, description, and every string or
// stringable value in the payload, traversed depth-first.
func normalize(p *datatypes.Proposal) string {
	var b strings.Builder
	b.WriteString(p.Title)
	b.WriteByte('\n')
	b.WriteString(p.Description)
	b.WriteByte('\n')
	flattenInto(&b, p.Payload)
	return strings.ToLower(b.String())
}

func flattenInto(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
	case string:
		b.WriteString(val)
		b.WriteByte('\n')
	case map[string]any:
		// Deterministic order keeps scoring reproducible.
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte(' ')
			flattenInto(b, val[k])
		}
	case []any:
		for _, item := range val {
			flattenInto(b, item)
		}
	default:
		fmt.Fprintf(b, "%v\n", val)
	}
}
