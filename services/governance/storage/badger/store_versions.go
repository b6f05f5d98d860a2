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
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// =============================================================================
// Versions
// =============================================================================

// CreateVersion persists a new ruleset version. Gated on the freeze flag
// in the same transaction: a frozen subsystem adopts nothing.
func (s *Store) CreateVersion(v *datatypes.Version) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireUnfrozen(txn); err != nil {
			return err
		}
		ok, err := exists(txn, prefixVersion+v.ID)
		if err != nil {
			return err
		}
		if ok {
			return datatypes.NewValidationError("id", "version already exists")
		}
		return setJSON(txn, prefixVersion+v.ID, v)
	})
}

// GetVersion returns one version, or ErrNotFound.
func (s *Store) GetVersion(id string) (*datatypes.Version, error) {
	var v datatypes.Version
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixVersion+id, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ActiveVersion returns the currently active version, or ErrNotFound
// when no version has reached full rollout yet.
func (s *Store) ActiveVersion() (*datatypes.Version, error) {
	var v datatypes.Version
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyVersionActive))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("active version: %w", datatypes.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, prefixVersion+id, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// AdvanceRollout moves a version to the target percentage.
//
// Percentages must be one of {10, 50, 100} and monotonically increasing
// per version. Reaching 100 marks the version active, deactivates the
// previously active version, and moves the bundled proposals to
// rolled_out, all in the same freeze-gated transaction.
func (s *Store) AdvanceRollout(id string, pct int) (*datatypes.Version, error) {
	var v datatypes.Version
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := requireUnfrozen(txn); err != nil {
			return err
		}
		if !datatypes.ValidRolloutStage(pct) {
			return fmt.Errorf("%d: %w", pct, datatypes.ErrInvalidRollout)
		}
		if err := getJSON(txn, prefixVersion+id, &v); err != nil {
			return err
		}
		if pct <= v.RolloutPercent {
			return fmt.Errorf("%d%% after %d%%: %w", pct, v.RolloutPercent, datatypes.ErrInvalidRollout)
		}
		v.RolloutPercent = pct

		if pct == 100 {
			// Deactivate the previous active version, if any.
			item, err := txn.Get([]byte(keyVersionActive))
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err == nil {
				var prevID string
				if err := item.Value(func(val []byte) error {
					prevID = string(val)
					return nil
				}); err != nil {
					return err
				}
				if prevID != id {
					var prev datatypes.Version
					if err := getJSON(txn, prefixVersion+prevID, &prev); err != nil {
						return err
					}
					prev.Active = false
					if err := setJSON(txn, prefixVersion+prevID, &prev); err != nil {
						return err
					}
				}
			}
			v.Active = true
			if err := txn.Set([]byte(keyVersionActive), []byte(id)); err != nil {
				return fmt.Errorf("set active version: %w", err)
			}
			// The bundled proposals complete their lifecycle with the
			// version.
			for _, pid := range v.ProposalIDs {
				var p datatypes.Proposal
				if err := getJSON(txn, prefixProposal+pid, &p); err != nil {
					return err
				}
				if p.Status != datatypes.ProposalApproved {
					continue
				}
				p.Status = datatypes.ProposalRolledOut
				if err := setJSON(txn, prefixProposal+pid, &p); err != nil {
					return err
				}
			}
		}
		return setJSON(txn, prefixVersion+id, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns all versions.
func (s *Store) ListVersions() ([]datatypes.Version, error) {
	var out []datatypes.Version
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixVersion, func(_ string, v *datatypes.Version) error {
			out = append(out, *v)
			return nil
		})
	})
	return out, err
}

// =============================================================================
// Guardians
// =============================================================================

// PutGuardian creates or replaces a guardian record.
func (s *Store) PutGuardian(g *datatypes.Guardian) error {
	if g.ID == "" {
		return datatypes.NewValidationError("id", "guardian id is required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, prefixGuardian+g.ID, g)
	})
}

// GetGuardian returns one guardian, or ErrNotFound.
func (s *Store) GetGuardian(id string) (*datatypes.Guardian, error) {
	var g datatypes.Guardian
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixGuardian+id, &g)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGuardians returns guardians, optionally only active ones.
func (s *Store) ListGuardians(activeOnly bool) ([]datatypes.Guardian, error) {
	var out []datatypes.Guardian
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixGuardian, func(_ string, g *datatypes.Guardian) error {
			if activeOnly && !g.Active {
				return nil
			}
			out = append(out, *g)
			return nil
		})
	})
	return out, err
}

// =============================================================================
// Amendments
// =============================================================================

// CreateAmendment persists a new amendment. Fails if the ID exists.
func (s *Store) CreateAmendment(a *datatypes.Amendment) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, prefixAmendment+a.ID)
		if err != nil {
			return err
		}
		if ok {
			return datatypes.NewValidationError("id", "amendment already exists")
		}
		return setJSON(txn, prefixAmendment+a.ID, a)
	})
}

// GetAmendment returns one amendment, or ErrNotFound.
func (s *Store) GetAmendment(id string) (*datatypes.Amendment, error) {
	var a datatypes.Amendment
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixAmendment+id, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAmendment applies fn to the stored amendment inside one
// transaction. fn returning an error aborts without writing.
func (s *Store) UpdateAmendment(id string, fn func(*datatypes.Amendment) error) (*datatypes.Amendment, error) {
	var a datatypes.Amendment
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, prefixAmendment+id, &a); err != nil {
			return err
		}
		if err := fn(&a); err != nil {
			return err
		}
		return setJSON(txn, prefixAmendment+id, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAmendments returns amendments, optionally filtered to a status set.
func (s *Store) ListAmendments(statuses ...datatypes.AmendmentStatus) ([]datatypes.Amendment, error) {
	var out []datatypes.Amendment
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixAmendment, func(_ string, a *datatypes.Amendment) error {
			if len(statuses) > 0 {
				match := false
				for _, st := range statuses {
					if a.Status == st {
						match = true
						break
					}
				}
				if !match {
					return nil
				}
			}
			out = append(out, *a)
			return nil
		})
	})
	return out, err
}

// CastAmendmentVote records an unweighted guardian vote and updates the
// amendment tally in one transaction. Uniqueness per (amendment,
// guardian) is enforced by key existence inside the transaction.
func (s *Store) CastAmendmentVote(amendmentID, guardianID string, choice datatypes.VoteChoice,
	reasoning string, now time.Time, voteID string) (*datatypes.AmendmentVote, error) {

	var vote datatypes.AmendmentVote
	err := s.db.Update(func(txn *badger.Txn) error {
		var a datatypes.Amendment
		if err := getJSON(txn, prefixAmendment+amendmentID, &a); err != nil {
			return err
		}
		if !a.VotingOpen(now) {
			return fmt.Errorf("amendment %s: %w", amendmentID, datatypes.ErrVotingClosed)
		}

		voteKey := prefixAmVote + amendmentID + "/" + guardianID
		ok, err := exists(txn, voteKey)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("guardian %s on amendment %s: %w",
				guardianID, amendmentID, datatypes.ErrAlreadyVoted)
		}

		vote = datatypes.AmendmentVote{
			ID:          voteID,
			AmendmentID: amendmentID,
			GuardianID:  guardianID,
			Choice:      choice,
			Reasoning:   reasoning,
			CreatedAt:   now,
		}

		switch choice {
		case datatypes.VoteFor:
			a.VotesFor++
		case datatypes.VoteAgainst:
			a.VotesAgainst++
		case datatypes.VoteAbstain:
			a.VotesAbstain++
		default:
			return datatypes.NewValidationError("choice", "unknown vote choice")
		}

		if err := setJSON(txn, voteKey, &vote); err != nil {
			return err
		}
		return setJSON(txn, prefixAmendment+amendmentID, &a)
	})
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

// ListAmendmentVotes returns all guardian votes on one amendment.
func (s *Store) ListAmendmentVotes(amendmentID string) ([]datatypes.AmendmentVote, error) {
	var out []datatypes.AmendmentVote
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixAmVote+amendmentID+"/", func(_ string, v *datatypes.AmendmentVote) error {
			out = append(out, *v)
			return nil
		})
	})
	return out, err
}

// =============================================================================
// Constitution versions
// =============================================================================

// constitutionKey formats the zero-padded revision key so lexical order
// matches numeric order.
func constitutionKey(version int) string {
	return fmt.Sprintf("%s%08d", prefixConstitution, version)
}

// AppendConstitutionVersion persists the next constitution revision and
// deactivates the prior active one, in one transaction. The revision
// number must be exactly one greater than the current maximum; the store
// assigns it, ignoring any caller-set value.
func (s *Store) AppendConstitutionVersion(cv *datatypes.ConstitutionVersion) (*datatypes.ConstitutionVersion, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		// Find and deactivate the current active revision.
		item, err := txn.Get([]byte(keyConstitutionActive))
		next := 1
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			var activeKey string
			if err := item.Value(func(val []byte) error {
				activeKey = string(val)
				return nil
			}); err != nil {
				return err
			}
			var prev datatypes.ConstitutionVersion
			if err := getJSON(txn, activeKey, &prev); err != nil {
				return err
			}
			prev.Active = false
			if err := setJSON(txn, activeKey, &prev); err != nil {
				return err
			}
			next = prev.Version + 1
		}

		cv.Version = next
		cv.Active = true
		key := constitutionKey(next)
		if err := setJSON(txn, key, cv); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyConstitutionActive), []byte(key)); err != nil {
			return fmt.Errorf("set active constitution: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cv, nil
}

// ActiveConstitution returns the live constitution revision, or
// ErrNotFound before bootstrap.
func (s *Store) ActiveConstitution() (*datatypes.ConstitutionVersion, error) {
	var cv datatypes.ConstitutionVersion
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyConstitutionActive))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("active constitution: %w", datatypes.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var key string
		if err := item.Value(func(val []byte) error {
			key = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, key, &cv)
	})
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

// GetConstitutionVersion returns one revision by number, or ErrNotFound.
func (s *Store) GetConstitutionVersion(version int) (*datatypes.ConstitutionVersion, error) {
	var cv datatypes.ConstitutionVersion
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, constitutionKey(version), &cv)
	})
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

// ListConstitutionVersions returns all revisions in ascending order.
func (s *Store) ListConstitutionVersions() ([]datatypes.ConstitutionVersion, error) {
	var out []datatypes.ConstitutionVersion
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixConstitution, func(_ string, cv *datatypes.ConstitutionVersion) error {
			out = append(out, *cv)
			return nil
		})
	})
	return out, err
}
