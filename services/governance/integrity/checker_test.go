// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package integrity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
	badgerstore "github.com/AleutianAI/AleutianCommons/services/governance/storage/badger"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestChecker(t *testing.T) (*Checker, *badgerstore.Store) {
	t.Helper()
	store, err := badgerstore.OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewChecker(store, DefaultConfig(), nil), store
}

func seedIdentity(t *testing.T, store *badgerstore.Store, id string, reflections int, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.PutIdentity(&datatypes.MirrorIdentity{
		ID:              id,
		CreatedAt:       createdAt,
		ReflectionCount: reflections,
	}))
}

func seedProposal(t *testing.T, store *badgerstore.Store, id string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.CreateProposal(&datatypes.Proposal{
		ID:                 id,
		Kind:               datatypes.ChangePatternAdd,
		Title:              "test " + id,
		Origin:             datatypes.OriginLocal,
		Status:             datatypes.ProposalActive,
		ConsensusThreshold: datatypes.DefaultConsensusThreshold,
		CreatedAt:          createdAt,
		VotingDeadline:     createdAt.Add(datatypes.VotingPeriod),
	}))
}

func castVote(t *testing.T, store *badgerstore.Store, proposalID, identityID string,
	choice datatypes.VoteChoice, reasoning string, at time.Time) {
	t.Helper()
	_, err := store.CastVote(proposalID, identityID, choice, reasoning, at,
		fmt.Sprintf("v-%s-%s", proposalID, identityID),
		func(int, int) float64 { return 1.0 })
	require.NoError(t, err)
}

func threatKinds(r *datatypes.IntegrityReport) []datatypes.ThreatKind {
	kinds := make([]datatypes.ThreatKind, len(r.Threats))
	for i, th := range r.Threats {
		kinds[i] = th.Kind
	}
	return kinds
}

func TestCleanVoterSetScoresFull(t *testing.T) {
	checker, store := newTestChecker(t)
	seedProposal(t, store, "p-1", baseTime)

	// Organic-looking voters: old accounts, varied activity, spread-out
	// votes, distinct reasoning.
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("m-%d", i)
		seedIdentity(t, store, id, 10+i*7, baseTime.Add(-time.Duration(30+i)*24*time.Hour))
		choice := datatypes.VoteFor
		if i%2 == 1 {
			choice = datatypes.VoteAgainst
		}
		castVote(t, store, "p-1", id, choice, fmt.Sprintf("my own take %d", i),
			baseTime.Add(time.Duration(i)*3*time.Hour))
	}

	report, err := checker.CheckProposal("p-1")
	require.NoError(t, err)
	assert.Empty(t, report.Threats)
	assert.Equal(t, 1.0, report.Score)
	assert.Equal(t, datatypes.IntegrityProceed, report.Recommendation)
	assert.Equal(t, 4, report.VotersAnalyzed)
}

func TestSybilClusterDetected(t *testing.T) {
	checker, store := newTestChecker(t)

	// Three sibling proposals give the cluster a shared voting history.
	for i := 0; i < 3; i++ {
		seedProposal(t, store, fmt.Sprintf("p-%d", i), baseTime)
	}

	// The cluster: same reflection count, identical choices everywhere,
	// metronome-regular timing.
	for s := 0; s < 3; s++ {
		id := fmt.Sprintf("sybil-%d", s)
		seedIdentity(t, store, id, 7, baseTime.Add(-90*24*time.Hour))
		for p := 0; p < 3; p++ {
			castVote(t, store, fmt.Sprintf("p-%d", p), id, datatypes.VoteFor, "",
				baseTime.Add(time.Duration(p)*time.Hour))
		}
	}
	// One honest voter with a divergent profile.
	seedIdentity(t, store, "honest", 40, baseTime.Add(-365*24*time.Hour))
	castVote(t, store, "p-0", "honest", datatypes.VoteAgainst, "disagree", baseTime.Add(30*time.Minute))

	report, err := checker.CheckProposal("p-0")
	require.NoError(t, err)
	require.Contains(t, threatKinds(report), datatypes.ThreatSybilCluster)

	var sybil datatypes.IntegrityThreat
	for _, th := range report.Threats {
		if th.Kind == datatypes.ThreatSybilCluster {
			sybil = th
		}
	}
	assert.Equal(t, datatypes.SeverityCritical, sybil.Severity)
	members := sybil.Evidence["cluster_members"].([]string)
	assert.Len(t, members, 3)
	assert.NotContains(t, members, "honest")
	assert.Less(t, report.Score, 0.7)
}

func TestCoordinatedReasoningDetected(t *testing.T) {
	checker, store := newTestChecker(t)
	seedProposal(t, store, "p-1", baseTime)

	// Six voters, all within one five-minute burst, four sharing
	// byte-identical reasoning. Varied profiles keep the Sybil and bot
	// detectors quiet.
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("m-%d", i)
		seedIdentity(t, store, id, 6+i*5, baseTime.Add(-time.Duration(60+i*11)*24*time.Hour))
		reasoning := fmt.Sprintf("independent view %d", i)
		if i < 4 {
			reasoning = "this change aligns with our shared values"
		}
		choice := datatypes.VoteFor
		if i%2 == 1 {
			choice = datatypes.VoteAgainst
		}
		castVote(t, store, "p-1", id, choice, reasoning,
			baseTime.Add(time.Duration(i)*30*time.Second))
	}

	report, err := checker.CheckProposal("p-1")
	require.NoError(t, err)
	require.Contains(t, threatKinds(report), datatypes.ThreatCoordinatedVoting)
	assert.NotContains(t, threatKinds(report), datatypes.ThreatSybilCluster)
	assert.Less(t, report.Score, 0.9)
}

func TestBotVotersDetected(t *testing.T) {
	checker, store := newTestChecker(t)
	seedProposal(t, store, "p-1", baseTime)

	// Zero-reflection accounts score 0.3 (low activity) + 0.4 (zero
	// reflections) = 0.7, at the reporting threshold.
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("bot-%d", i)
		seedIdentity(t, store, id, 0, baseTime.Add(-10*24*time.Hour))
		castVote(t, store, "p-1", id, datatypes.VoteFor, "",
			baseTime.Add(time.Duration(i)*2*time.Hour))
	}
	seedIdentity(t, store, "human", 25, baseTime.Add(-200*24*time.Hour))
	castVote(t, store, "p-1", "human", datatypes.VoteAgainst, "no", baseTime.Add(5*time.Hour))

	report, err := checker.CheckProposal("p-1")
	require.NoError(t, err)
	require.Contains(t, threatKinds(report), datatypes.ThreatBotBehavior)

	var bots datatypes.IntegrityThreat
	for _, th := range report.Threats {
		if th.Kind == datatypes.ThreatBotBehavior {
			bots = th
		}
	}
	assert.Equal(t, datatypes.SeverityMedium, bots.Severity)
	assert.ElementsMatch(t, []string{"bot-0", "bot-1"}, bots.Evidence["flagged_voters"])
}

func TestRapidIdentityCreationDetected(t *testing.T) {
	checker, store := newTestChecker(t)
	seedProposal(t, store, "p-1", baseTime)

	// Ten accounts created hours before the proposal. Give them varied
	// reflection counts so only the creation burst fires.
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("fresh-%d", i)
		seedIdentity(t, store, id, 6+i*4, baseTime.Add(-time.Duration(i+1)*time.Hour))
		choice := datatypes.VoteFor
		if i%3 == 0 {
			choice = datatypes.VoteAgainst
		}
		castVote(t, store, "p-1", id, choice, fmt.Sprintf("view %d", i),
			baseTime.Add(time.Duration(i)*2*time.Hour))
	}

	report, err := checker.CheckProposal("p-1")
	require.NoError(t, err)
	require.Contains(t, threatKinds(report), datatypes.ThreatRapidIdentityCreation)
}

func TestFundingCorrelationDetected(t *testing.T) {
	checker, store := newTestChecker(t)
	seedProposal(t, store, "p-1", baseTime)

	funded, unfunded := true, false
	voters := []struct {
		id     string
		funded *bool
		choice datatypes.VoteChoice
	}{
		{"f-1", &funded, datatypes.VoteFor},
		{"f-2", &funded, datatypes.VoteFor},
		{"f-3", &funded, datatypes.VoteFor},
		{"u-1", &unfunded, datatypes.VoteAgainst},
		{"u-2", &unfunded, datatypes.VoteAgainst},
		{"u-3", &unfunded, datatypes.VoteFor},
	}
	for i, v := range voters {
		require.NoError(t, store.PutIdentity(&datatypes.MirrorIdentity{
			ID:              v.id,
			CreatedAt:       baseTime.Add(-time.Duration(50+i*13) * 24 * time.Hour),
			ReflectionCount: 8 + i*6,
			Funded:          v.funded,
		}))
		castVote(t, store, "p-1", v.id, v.choice, fmt.Sprintf("opinion %d", i),
			baseTime.Add(time.Duration(i)*90*time.Minute))
	}

	report, err := checker.CheckProposal("p-1")
	require.NoError(t, err)
	require.Contains(t, threatKinds(report), datatypes.ThreatFundingCorrelation)
}

func TestFundingCorrelationSkippedWithoutData(t *testing.T) {
	checker, store := newTestChecker(t)
	seedProposal(t, store, "p-1", baseTime)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("m-%d", i)
		seedIdentity(t, store, id, 9+i*5, baseTime.Add(-time.Duration(40+i*9)*24*time.Hour))
		castVote(t, store, "p-1", id, datatypes.VoteFor, fmt.Sprintf("sure %d", i),
			baseTime.Add(time.Duration(i)*4*time.Hour))
	}

	report, err := checker.CheckProposal("p-1")
	require.NoError(t, err)
	assert.NotContains(t, threatKinds(report), datatypes.ThreatFundingCorrelation)
}

func TestMissingProposalFails(t *testing.T) {
	checker, _ := newTestChecker(t)
	_, err := checker.CheckProposal("nope")
	require.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestRecommendationBands(t *testing.T) {
	assert.Equal(t, datatypes.IntegrityProceed, datatypes.RecommendationForScore(0.95))
	assert.Equal(t, datatypes.IntegrityCaution, datatypes.RecommendationForScore(0.75))
	assert.Equal(t, datatypes.IntegrityInvestigate, datatypes.RecommendationForScore(0.55))
	assert.Equal(t, datatypes.IntegrityFreeze, datatypes.RecommendationForScore(0.35))
}
