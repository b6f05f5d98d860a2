// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integrity analyzes the voter set of a proposal for statistical
// manipulation patterns: Sybil clusters, coordinated voting bursts,
// bot-like accounts, rapid identity creation, and funding-correlated
// voting.
//
// The checker is data-driven and outcome-independent: it inspects who
// voted and how they behaved, never whether the proposal passed. Every
// detection carries its supporting statistics as evidence so a human can
// audit the call.
package integrity

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// ===== Configuration =====

// Config holds the detection thresholds. The defaults are deliberately
// conservative; lowering a threshold widens the net and raises the
// false-positive rate.
type Config struct {
	// SybilSimilarity is the pairwise fingerprint similarity at or above
	// which two voters are merged into the same cluster.
	SybilSimilarity float64

	// SybilClusterMinSize is the smallest cluster worth reporting.
	SybilClusterMinSize int

	// CoordinationWindow is the burst window for timing analysis.
	CoordinationWindow time.Duration

	// CoordinationBurstVoters is the minimum distinct voters inside one
	// window for the window to count as a burst.
	CoordinationBurstVoters int

	// CoordinationIdenticalMin is the minimum voters sharing byte-identical
	// reasoning text for the group to count as coordinated.
	CoordinationIdenticalMin int

	// CoordinationThreshold is the coordination score at or above which a
	// threat is reported.
	CoordinationThreshold float64

	// BotThreshold is the per-voter bot score at or above which the voter
	// is flagged.
	BotThreshold float64

	// LowReflectionCount is the activity level below which an account
	// contributes to its own bot score.
	LowReflectionCount int

	// BotTimingVariance is the inter-vote gap variance (seconds squared)
	// below which a voter's timing is considered machine-regular.
	BotTimingVariance float64

	// RapidIdentityWindow is how far before the proposal an account
	// creation counts as "rapid".
	RapidIdentityWindow time.Duration

	// RapidIdentityMin is the voter count at which rapid creation is
	// reported.
	RapidIdentityMin int

	// FundingGap is the funded-vs-unfunded approval rate gap above which
	// funding correlation is reported.
	FundingGap float64

	// FundingMinGroup is the minimum voters needed in each funding group
	// before the comparison is meaningful.
	FundingMinGroup int
}

// DefaultConfig returns the standard detection thresholds.
func DefaultConfig() Config {
	return Config{
		SybilSimilarity:          0.85,
		SybilClusterMinSize:      3,
		CoordinationWindow:       5 * time.Minute,
		CoordinationBurstVoters:  5,
		CoordinationIdenticalMin: 3,
		CoordinationThreshold:    0.80,
		BotThreshold:             0.70,
		LowReflectionCount:       5,
		BotTimingVariance:        1.0,
		RapidIdentityWindow:      24 * time.Hour,
		RapidIdentityMin:         10,
		FundingGap:               0.3,
		FundingMinGroup:          2,
	}
}

// ===== Checker =====

// VoteSource is the slice of the store the checker reads from.
type VoteSource interface {
	GetProposal(id string) (*datatypes.Proposal, error)
	ListVotesForProposal(proposalID string) ([]datatypes.Vote, error)
	ListVotesByIdentity(identityID string) ([]datatypes.Vote, error)
	GetIdentity(id string) (*datatypes.MirrorIdentity, error)
}

// Checker runs the per-proposal integrity analysis.
//
// # Thread Safety
//
// Safe for concurrent use; the checker holds no mutable state.
type Checker struct {
	source VoteSource
	cfg    Config
	logger *slog.Logger
}

// NewChecker constructs a Checker over the given vote source.
func NewChecker(source VoteSource, cfg Config, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default().With("component", "governance.integrity")
	}
	return &Checker{source: source, cfg: cfg, logger: logger}
}

// fingerprint is one voter's behavioral profile, built from their full
// vote history rather than just the vote under analysis.
type fingerprint struct {
	identity datatypes.MirrorIdentity

	// choices maps proposal ID to this voter's choice, across all
	// proposals they ever voted on.
	choices map[string]datatypes.VoteChoice

	// timingVariance is the variance (seconds squared) of the gaps
	// between this voter's consecutive votes, or -1 when the voter has
	// too few votes to measure.
	timingVariance float64
}

// CheckProposal analyzes the voter set of one proposal.
//
// Voters whose identity record is missing or malformed are skipped with
// a warning rather than failing the whole analysis.
func (c *Checker) CheckProposal(proposalID string) (*datatypes.IntegrityReport, error) {
	proposal, err := c.source.GetProposal(proposalID)
	if err != nil {
		return nil, fmt.Errorf("integrity check: load proposal %s: %w", proposalID, err)
	}
	votes, err := c.source.ListVotesForProposal(proposalID)
	if err != nil {
		return nil, fmt.Errorf("integrity check: load votes for %s: %w", proposalID, err)
	}

	prints := c.fingerprints(votes)

	report := &datatypes.IntegrityReport{
		ProposalID:     proposalID,
		VotersAnalyzed: len(prints),
		CheckedAt:      time.Now().UTC(),
	}

	report.Threats = append(report.Threats, c.detectSybilClusters(prints)...)
	if t := c.detectCoordination(votes); t != nil {
		report.Threats = append(report.Threats, *t)
	}
	if t := c.detectBots(prints); t != nil {
		report.Threats = append(report.Threats, *t)
	}
	if t := c.detectRapidIdentities(proposal, prints); t != nil {
		report.Threats = append(report.Threats, *t)
	}
	if t := c.detectFundingCorrelation(votes, prints); t != nil {
		report.Threats = append(report.Threats, *t)
	}

	score := 1.0
	for _, t := range report.Threats {
		score -= datatypes.SeverityPenalty(t.Severity)
	}
	if score < 0 {
		score = 0
	}
	report.Score = score
	report.Recommendation = datatypes.RecommendationForScore(score)

	if len(report.Threats) > 0 {
		c.logger.Warn("integrity threats detected",
			"proposal_id", proposalID,
			"threats", len(report.Threats),
			"score", report.Score,
			"recommendation", report.Recommendation,
		)
	}
	return report, nil
}

// fingerprints builds one behavioral profile per distinct voter.
func (c *Checker) fingerprints(votes []datatypes.Vote) []fingerprint {
	seen := make(map[string]bool, len(votes))
	var prints []fingerprint
	for _, v := range votes {
		if seen[v.IdentityID] {
			continue
		}
		seen[v.IdentityID] = true

		ident, err := c.source.GetIdentity(v.IdentityID)
		if err != nil {
			if errors.Is(err, datatypes.ErrNotFound) {
				c.logger.Warn("voter has no identity record, skipping",
					"identity_id", v.IdentityID)
				continue
			}
			c.logger.Warn("failed to load a voter identity, skipping",
				"identity_id", v.IdentityID, "error", err)
			continue
		}

		history, err := c.source.ListVotesByIdentity(v.IdentityID)
		if err != nil {
			c.logger.Warn("failed to load a voter history, skipping",
				"identity_id", v.IdentityID, "error", err)
			continue
		}

		fp := fingerprint{
			identity:       *ident,
			choices:        make(map[string]datatypes.VoteChoice, len(history)),
			timingVariance: timingVariance(history),
		}
		for _, h := range history {
			fp.choices[h.ProposalID] = h.Choice
		}
		prints = append(prints, fp)
	}
	// Deterministic order keeps cluster membership stable across runs.
	sort.Slice(prints, func(i, j int) bool {
		return prints[i].identity.ID < prints[j].identity.ID
	})
	return prints
}

// timingVariance returns the variance of the gaps between consecutive
// votes in seconds squared, or -1 with fewer than three votes.
func timingVariance(history []datatypes.Vote) float64 {
	if len(history) < 3 {
		return -1
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	gaps := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		gaps = append(gaps, history[i].CreatedAt.Sub(history[i-1].CreatedAt).Seconds())
	}
	return stat.Variance(gaps, nil)
}

// ===== Sybil clusters =====

// similarity is the weighted pairwise fingerprint similarity:
// reflection-count similarity 0.3, vote-choice match ratio 0.4, and
// timing-variance similarity 0.3.
func similarity(a, b fingerprint) float64 {
	ra, rb := float64(a.identity.ReflectionCount), float64(b.identity.ReflectionCount)
	maxR := ra
	if rb > maxR {
		maxR = rb
	}
	if maxR < 1 {
		maxR = 1
	}
	reflectionSim := 1 - abs(ra-rb)/maxR

	shared, matched := 0, 0
	for pid, choice := range a.choices {
		other, ok := b.choices[pid]
		if !ok {
			continue
		}
		shared++
		if choice == other {
			matched++
		}
	}
	matchRatio := 0.0
	if shared > 0 {
		matchRatio = float64(matched) / float64(shared)
	}

	timingSim := 0.0
	if a.timingVariance >= 0 && b.timingVariance >= 0 {
		maxV := a.timingVariance
		if b.timingVariance > maxV {
			maxV = b.timingVariance
		}
		timingSim = 1 - abs(a.timingVariance-b.timingVariance)/(maxV+1)
	}

	return 0.3*reflectionSim + 0.4*matchRatio + 0.3*timingSim
}

// detectSybilClusters merges highly similar voter pairs via union and
// reports every cluster of at least SybilClusterMinSize members.
func (c *Checker) detectSybilClusters(prints []fingerprint) []datatypes.IntegrityThreat {
	if len(prints) < c.cfg.SybilClusterMinSize {
		return nil
	}

	parent := make([]int, len(prints))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	pairSim := make(map[[2]int]float64)
	for i := 0; i < len(prints); i++ {
		for j := i + 1; j < len(prints); j++ {
			sim := similarity(prints[i], prints[j])
			if sim >= c.cfg.SybilSimilarity {
				union(i, j)
				pairSim[[2]int{i, j}] = sim
			}
		}
	}

	clusters := make(map[int][]int)
	for i := range prints {
		root := find(i)
		clusters[root] = append(clusters[root], i)
	}

	var threats []datatypes.IntegrityThreat
	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)
	for _, root := range roots {
		members := clusters[root]
		if len(members) < c.cfg.SybilClusterMinSize {
			continue
		}
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = prints[m].identity.ID
		}
		threats = append(threats, datatypes.IntegrityThreat{
			Kind:     datatypes.ThreatSybilCluster,
			Severity: datatypes.SeverityCritical,
			Description: fmt.Sprintf("%d voters share anomalously similar behavioral fingerprints",
				len(members)),
			Evidence: map[string]any{
				"cluster_members":      ids,
				"similarity_threshold": c.cfg.SybilSimilarity,
			},
		})
	}
	return threats
}

// ===== Coordinated voting =====

// detectCoordination scores timing bursts and identical reasoning.
//
// The coordination score is the burst-vote ratio plus the
// identical-reasoning ratio, capped at 1.0.
func (c *Checker) detectCoordination(votes []datatypes.Vote) *datatypes.IntegrityThreat {
	if len(votes) == 0 {
		return nil
	}

	ordered := make([]datatypes.Vote, len(votes))
	copy(ordered, votes)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	inBurst := make([]bool, len(ordered))
	for i := range ordered {
		end := ordered[i].CreatedAt.Add(c.cfg.CoordinationWindow)
		voters := make(map[string]bool)
		j := i
		for ; j < len(ordered) && !ordered[j].CreatedAt.After(end); j++ {
			voters[ordered[j].IdentityID] = true
		}
		if len(voters) >= c.cfg.CoordinationBurstVoters {
			for k := i; k < j; k++ {
				inBurst[k] = true
			}
		}
	}
	burstCount := 0
	for _, b := range inBurst {
		if b {
			burstCount++
		}
	}

	byReasoning := make(map[string]int)
	for _, v := range ordered {
		if v.Reasoning != "" {
			byReasoning[v.Reasoning]++
		}
	}
	identicalCount := 0
	identicalGroups := 0
	for _, n := range byReasoning {
		if n >= c.cfg.CoordinationIdenticalMin {
			identicalCount += n
			identicalGroups++
		}
	}

	total := float64(len(ordered))
	burstRatio := float64(burstCount) / total
	identicalRatio := float64(identicalCount) / total
	score := burstRatio + identicalRatio
	if score > 1 {
		score = 1
	}
	if score < c.cfg.CoordinationThreshold {
		return nil
	}

	return &datatypes.IntegrityThreat{
		Kind:     datatypes.ThreatCoordinatedVoting,
		Severity: datatypes.SeverityHigh,
		Description: fmt.Sprintf("coordination score %.2f: %d burst votes, %d votes with shared reasoning",
			score, burstCount, identicalCount),
		Evidence: map[string]any{
			"coordination_score": score,
			"burst_ratio":        burstRatio,
			"identical_ratio":    identicalRatio,
			"identical_groups":   identicalGroups,
		},
	}
}

// ===== Bot behavior =====

// detectBots scores each voter for machine-like behavior: low activity,
// zero reflections, and machine-regular vote timing.
func (c *Checker) detectBots(prints []fingerprint) *datatypes.IntegrityThreat {
	var flagged []string
	scores := make(map[string]float64)
	for _, fp := range prints {
		score := 0.0
		if fp.identity.ReflectionCount < c.cfg.LowReflectionCount {
			score += 0.3
		}
		if fp.identity.ReflectionCount == 0 {
			score += 0.4
		}
		if fp.timingVariance >= 0 && fp.timingVariance < c.cfg.BotTimingVariance {
			score += 0.3
		}
		if score > 1 {
			score = 1
		}
		if score >= c.cfg.BotThreshold {
			flagged = append(flagged, fp.identity.ID)
			scores[fp.identity.ID] = score
		}
	}
	if len(flagged) == 0 {
		return nil
	}

	severity := datatypes.SeverityMedium
	if len(flagged) >= 3 {
		severity = datatypes.SeverityHigh
	}
	return &datatypes.IntegrityThreat{
		Kind:        datatypes.ThreatBotBehavior,
		Severity:    severity,
		Description: fmt.Sprintf("%d voters exhibit bot-like behavior", len(flagged)),
		Evidence: map[string]any{
			"flagged_voters": flagged,
			"bot_scores":     scores,
		},
	}
}

// ===== Rapid identity creation =====

func (c *Checker) detectRapidIdentities(p *datatypes.Proposal, prints []fingerprint) *datatypes.IntegrityThreat {
	cutoff := p.CreatedAt.Add(-c.cfg.RapidIdentityWindow)
	var recent []string
	for _, fp := range prints {
		if fp.identity.CreatedAt.After(cutoff) {
			recent = append(recent, fp.identity.ID)
		}
	}
	if len(recent) < c.cfg.RapidIdentityMin {
		return nil
	}
	return &datatypes.IntegrityThreat{
		Kind:     datatypes.ThreatRapidIdentityCreation,
		Severity: datatypes.SeverityHigh,
		Description: fmt.Sprintf("%d voters were created within %s of the proposal",
			len(recent), c.cfg.RapidIdentityWindow),
		Evidence: map[string]any{
			"recent_voters": recent,
			"window":        c.cfg.RapidIdentityWindow.String(),
		},
	}
}

// ===== Funding correlation =====

// detectFundingCorrelation compares the approval rate of funded and
// unfunded voters. Skipped entirely when funding data is absent or too
// thin to compare.
func (c *Checker) detectFundingCorrelation(votes []datatypes.Vote, prints []fingerprint) *datatypes.IntegrityThreat {
	funded := make(map[string]bool, len(prints))
	for _, fp := range prints {
		if fp.identity.Funded != nil {
			funded[fp.identity.ID] = *fp.identity.Funded
		}
	}

	var fundedFor, fundedTotal, unfundedFor, unfundedTotal float64
	for _, v := range votes {
		isFunded, known := funded[v.IdentityID]
		if !known || v.Choice == datatypes.VoteAbstain {
			continue
		}
		if isFunded {
			fundedTotal++
			if v.Choice == datatypes.VoteFor {
				fundedFor++
			}
		} else {
			unfundedTotal++
			if v.Choice == datatypes.VoteFor {
				unfundedFor++
			}
		}
	}
	if fundedTotal < float64(c.cfg.FundingMinGroup) || unfundedTotal < float64(c.cfg.FundingMinGroup) {
		return nil
	}

	fundedRate := fundedFor / fundedTotal
	unfundedRate := unfundedFor / unfundedTotal
	gap := abs(fundedRate - unfundedRate)
	if gap <= c.cfg.FundingGap {
		return nil
	}
	return &datatypes.IntegrityThreat{
		Kind:     datatypes.ThreatFundingCorrelation,
		Severity: datatypes.SeverityMedium,
		Description: fmt.Sprintf("funded voters approve at %.0f%% vs %.0f%% unfunded",
			fundedRate*100, unfundedRate*100),
		Evidence: map[string]any{
			"funded_rate":   fundedRate,
			"unfunded_rate": unfundedRate,
			"gap":           gap,
		},
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
