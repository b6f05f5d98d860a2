// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// Key prefixes for the conceptual tables. Path segments never contain
// '/' because every ID written here is a UUID or a fixed token.
const (
	prefixIdentity    = "identity/"
	prefixProposal    = "proposal/"
	prefixVote        = "vote/"
	prefixVoteIndex   = "voteix/"
	prefixVersion     = "version/"
	prefixGuardian    = "guardian/"
	prefixAmendment   = "amendment/"
	prefixAmVote      = "amvote/"
	prefixConstitution = "constitution/"
	prefixLog         = "log/"
	prefixLogIndex    = "logix/"

	keyVersionActive      = "version_active"
	keyConstitutionActive = "constitution_active"
	keyFreeze             = "state/freeze"
)

// Store is the typed governance store.
//
// # Thread Safety
//
// Safe for concurrent use. Every mutating method is one serializable
// BadgerDB transaction; conflicting concurrent transactions retry or
// fail atomically, never half-apply.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenStore opens the governance store with the given configuration.
func OpenStore(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "governance.store")
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemoryStore opens an in-memory store for testing.
func OpenInMemoryStore() (*Store, error) {
	return OpenStore(InMemoryConfig())
}

// Close releases the underlying database. The store must not be used
// afterwards.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for maintenance tasks (GC). Not for queries.
func (s *Store) DB() *badger.DB {
	return s.db
}

// =============================================================================
// Transaction helpers
// =============================================================================

// getJSON unmarshals the value at key into out. Maps a missing key to
// datatypes.ErrNotFound.
func getJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, datatypes.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			// Malformed blobs are a recoverable per-record error.
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

// setJSON marshals v and writes it at key.
func setJSON(txn *badger.Txn, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// exists reports whether key is present.
func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

// scanJSON iterates all values under prefix, decoding each into a fresh
// T and passing it to fn. Records that fail to decode are logged and
// skipped, not fatal.
func scanJSON[T any](s *Store, txn *badger.Txn, prefix string, fn func(key string, v *T) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		var v T
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			s.logger.Warn("skipping malformed record", "key", key, "error", err)
			continue
		}
		if err := fn(key, &v); err != nil {
			return err
		}
	}
	return nil
}

// freezeState reads the freeze flag inside an open transaction. A never
// written flag means not frozen.
func freezeState(txn *badger.Txn) (datatypes.FreezeState, error) {
	var fs datatypes.FreezeState
	err := getJSON(txn, keyFreeze, &fs)
	if errors.Is(err, datatypes.ErrNotFound) {
		return datatypes.FreezeState{}, nil
	}
	if err != nil {
		return datatypes.FreezeState{}, err
	}
	return fs, nil
}

// requireUnfrozen fails the enclosing transaction when the subsystem is
// frozen. Called inside the same transaction as the gated state change
// so a concurrent freeze cannot slip between check and write.
func requireUnfrozen(txn *badger.Txn) error {
	fs, err := freezeState(txn)
	if err != nil {
		return err
	}
	if fs.Frozen {
		return fmt.Errorf("%s: %w", fs.Reason, datatypes.ErrSubsystemFrozen)
	}
	return nil
}

// =============================================================================
// Identities
// =============================================================================

// PutIdentity creates or replaces a mirror identity record.
func (s *Store) PutIdentity(ident *datatypes.MirrorIdentity) error {
	if ident.ID == "" {
		return datatypes.NewValidationError("id", "identity id is required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixIdentity+ident.ID, ident)
	})
}

// GetIdentity returns one identity, or ErrNotFound.
func (s *Store) GetIdentity(id string) (*datatypes.MirrorIdentity, error) {
	var ident datatypes.MirrorIdentity
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixIdentity+id, &ident)
	})
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// RecordReflection increments an identity's reflection count and returns
// the new value. The count is monotonically non-decreasing.
func (s *Store) RecordReflection(id string) (int, error) {
	var count int
	err := s.db.Update(func(txn *badger.Txn) error {
		var ident datatypes.MirrorIdentity
		if err := getJSON(txn, prefixIdentity+id, &ident); err != nil {
			return err
		}
		ident.ReflectionCount++
		count = ident.ReflectionCount
		return setJSON(txn, prefixIdentity+id, &ident)
	})
	return count, err
}

// ListIdentities returns all identities.
func (s *Store) ListIdentities() ([]datatypes.MirrorIdentity, error) {
	var out []datatypes.MirrorIdentity
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixIdentity, func(_ string, v *datatypes.MirrorIdentity) error {
			out = append(out, *v)
			return nil
		})
	})
	return out, err
}

// maxReflections returns the highest reflection count in the system,
// inside an open transaction. Zero when there are no identities.
func (s *Store) maxReflections(txn *badger.Txn) (int, error) {
	maxCount := 0
	err := scanJSON(s, txn, prefixIdentity, func(_ string, v *datatypes.MirrorIdentity) error {
		if v.ReflectionCount > maxCount {
			maxCount = v.ReflectionCount
		}
		return nil
	})
	return maxCount, err
}

// =============================================================================
// Proposals
// =============================================================================

// CreateProposal persists a new proposal. Fails if the ID already exists.
func (s *Store) CreateProposal(p *datatypes.Proposal) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, prefixProposal+p.ID)
		if err != nil {
			return err
		}
		if ok {
			return datatypes.NewValidationError("id", "proposal already exists")
		}
		return setJSON(txn, prefixProposal+p.ID, p)
	})
}

// GetProposal returns one proposal, or ErrNotFound.
func (s *Store) GetProposal(id string) (*datatypes.Proposal, error) {
	var p datatypes.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixProposal+id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProposal applies fn to the stored proposal inside one
// transaction. fn returning an error aborts without writing.
func (s *Store) UpdateProposal(id string, fn func(*datatypes.Proposal) error) (*datatypes.Proposal, error) {
	var p datatypes.Proposal
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, prefixProposal+id, &p); err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		return setJSON(txn, prefixProposal+id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProposalGated is UpdateProposal with the freeze flag checked in
// the same transaction. Used for finalization, which adopts or rejects.
func (s *Store) UpdateProposalGated(id string, fn func(*datatypes.Proposal) error) (*datatypes.Proposal, error) {
	var p datatypes.Proposal
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := requireUnfrozen(txn); err != nil {
			return err
		}
		if err := getJSON(txn, prefixProposal+id, &p); err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		return setJSON(txn, prefixProposal+id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProposals returns proposals, optionally filtered to a status set.
func (s *Store) ListProposals(statuses ...datatypes.ProposalStatus) ([]datatypes.Proposal, error) {
	var out []datatypes.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixProposal, func(_ string, v *datatypes.Proposal) error {
			if len(statuses) > 0 {
				match := false
				for _, st := range statuses {
					if v.Status == st {
						match = true
						break
					}
				}
				if !match {
					return nil
				}
			}
			out = append(out, *v)
			return nil
		})
	})
	return out, err
}

// =============================================================================
// Votes
// =============================================================================

// CastVote validates, weighs, and records a vote, and updates the
// proposal tally, all in one transaction.
//
// # Description
//
// Inside a single serializable transaction:
//
//  1. Loads the proposal; rejects when it is not active or the voting
//     deadline has passed (ErrVotingClosed).
//  2. Enforces one vote per (proposal, identity) by key uniqueness
//     (ErrAlreadyVoted), not a separate check-then-insert.
//  3. Reads the voter's reflection count and the current system maximum,
//     and computes the weight via weigh.
//  4. Writes the vote, its per-identity index entry, and the updated
//     proposal tally.
//
// # Inputs
//
//   - proposalID, identityID: vote subject and voter.
//   - choice: validated vote direction.
//   - reasoning: optional free text.
//   - now: cast time, compared against the voting deadline.
//   - weigh: weight policy, called with (voterReflections, systemMax).
//
// # Outputs
//
//   - *datatypes.Vote: the recorded vote, including computed weight.
//   - error: typed per the boundary taxonomy; no state change on error.
func (s *Store) CastVote(proposalID, identityID string, choice datatypes.VoteChoice,
	reasoning string, now time.Time, voteID string,
	weigh func(reflections, maxReflections int) float64) (*datatypes.Vote, error) {

	var vote datatypes.Vote
	err := s.db.Update(func(txn *badger.Txn) error {
		var p datatypes.Proposal
		if err := getJSON(txn, prefixProposal+proposalID, &p); err != nil {
			return err
		}
		if !p.VotingOpen(now) {
			return fmt.Errorf("proposal %s: %w", proposalID, datatypes.ErrVotingClosed)
		}

		voteKey := prefixVote + proposalID + "/" + identityID
		ok, err := exists(txn, voteKey)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("identity %s on proposal %s: %w",
				identityID, proposalID, datatypes.ErrAlreadyVoted)
		}

		var ident datatypes.MirrorIdentity
		if err := getJSON(txn, prefixIdentity+identityID, &ident); err != nil {
			return err
		}
		maxRefl, err := s.maxReflections(txn)
		if err != nil {
			return err
		}

		vote = datatypes.Vote{
			ID:         voteID,
			ProposalID: proposalID,
			IdentityID: identityID,
			Choice:     choice,
			Weight:     weigh(ident.ReflectionCount, maxRefl),
			Reasoning:  reasoning,
			CreatedAt:  now,
		}

		switch choice {
		case datatypes.VoteFor:
			p.VotesFor += vote.Weight
		case datatypes.VoteAgainst:
			p.VotesAgainst += vote.Weight
		case datatypes.VoteAbstain:
			p.VotesAbstain += vote.Weight
		default:
			return datatypes.NewValidationError("choice", "unknown vote choice")
		}

		if err := setJSON(txn, voteKey, &vote); err != nil {
			return err
		}
		ixKey := prefixVoteIndex + identityID + "/" + proposalID
		if err := txn.Set([]byte(ixKey), []byte(voteKey)); err != nil {
			return fmt.Errorf("set %s: %w", ixKey, err)
		}
		return setJSON(txn, prefixProposal+proposalID, &p)
	})
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

// GetVote returns one identity's vote on one proposal, or ErrNotFound.
func (s *Store) GetVote(proposalID, identityID string) (*datatypes.Vote, error) {
	var v datatypes.Vote
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixVote+proposalID+"/"+identityID, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVotesForProposal returns all votes on one proposal.
func (s *Store) ListVotesForProposal(proposalID string) ([]datatypes.Vote, error) {
	var out []datatypes.Vote
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixVote+proposalID+"/", func(_ string, v *datatypes.Vote) error {
			out = append(out, *v)
			return nil
		})
	})
	return out, err
}

// ListVotesByIdentity returns one identity's votes across all proposals,
// resolved through the per-identity index.
func (s *Store) ListVotesByIdentity(identityID string) ([]datatypes.Vote, error) {
	var out []datatypes.Vote
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixVoteIndex + identityID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var voteKey string
			err := it.Item().Value(func(val []byte) error {
				voteKey = string(val)
				return nil
			})
			if err != nil {
				return err
			}
			var v datatypes.Vote
			if err := getJSON(txn, voteKey, &v); err != nil {
				if errors.Is(err, datatypes.ErrNotFound) {
					s.logger.Warn("dangling vote index entry", "key", voteKey)
					continue
				}
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}
