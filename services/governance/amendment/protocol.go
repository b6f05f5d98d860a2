// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package amendment implements the constitutional amendment protocol.
//
// A stricter sibling of the ordinary proposal flow: only active
// guardians may propose or vote, a mandatory reflection period keeps
// voting closed for seven days after proposal, the voting window runs
// fourteen days once opened, and passing takes a supermajority of
// decisive guardian votes rather than a simple consensus. Implementing
// a passed amendment appends a new constitution revision; the prior
// revision is deactivated, never deleted.
package amendment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCommons/pkg/validation"
	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
	badgerstore "github.com/AleutianAI/AleutianCommons/services/governance/storage/badger"
)

// Config holds the protocol's thresholds and timing.
type Config struct {
	// Supermajority is the decisive-vote fraction required to pass.
	Supermajority float64

	// ReflectionPeriod is the mandatory quiet period before voting.
	ReflectionPeriod time.Duration

	// VotingPeriod is the voting window opened by StartVoting.
	VotingPeriod time.Duration

	// RequireAppointmentQuorum, when set, creates new guardians inactive
	// until a second, distinct active guardian confirms the appointment.
	// Off by default: a single active guardian appoints directly.
	RequireAppointmentQuorum bool
}

// DefaultConfig returns the standard amendment parameters.
func DefaultConfig() Config {
	return Config{
		Supermajority:    datatypes.DefaultSupermajority,
		ReflectionPeriod: datatypes.ReflectionPeriod,
		VotingPeriod:     datatypes.AmendmentVotingPeriod,
	}
}

// Protocol drives the amendment lifecycle and the guardian registry.
//
// # Thread Safety
//
// Safe for concurrent use; all state transitions are single store
// transactions.
type Protocol struct {
	store  *badgerstore.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewProtocol constructs the amendment protocol.
func NewProtocol(store *badgerstore.Store, cfg Config, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default().With("component", "governance.amendment")
	}
	return &Protocol{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// requireActiveGuardian loads id and verifies active guardianship.
func (pr *Protocol) requireActiveGuardian(id string) (*datatypes.Guardian, error) {
	g, err := pr.store.GetGuardian(id)
	if errors.Is(err, datatypes.ErrNotFound) {
		return nil, fmt.Errorf("identity %s: %w", id, datatypes.ErrGuardianRequired)
	}
	if err != nil {
		return nil, err
	}
	if !g.Active {
		return nil, fmt.Errorf("guardianship for %s is inactive: %w", id, datatypes.ErrGuardianRequired)
	}
	return g, nil
}

// ===== Guardian registry =====

// AppointGuardian grants guardianship to an identity.
//
// The first guardian bootstraps the registry and needs no appointer.
// Afterwards the appointer must be an active guardian; with the
// appointment quorum enabled the new guardian starts inactive until
// ConfirmGuardian.
func (pr *Protocol) AppointGuardian(id, appointedBy string) (*datatypes.Guardian, error) {
	if err := validation.ValidateIdentifier(id); err != nil {
		return nil, datatypes.NewValidationError("id", err.Error())
	}
	if _, err := pr.store.GetGuardian(id); err == nil {
		return nil, datatypes.NewValidationError("id", "already a guardian")
	} else if !errors.Is(err, datatypes.ErrNotFound) {
		return nil, err
	}

	existing, err := pr.store.ListGuardians(false)
	if err != nil {
		return nil, err
	}
	bootstrap := len(existing) == 0
	if !bootstrap {
		if _, err := pr.requireActiveGuardian(appointedBy); err != nil {
			return nil, err
		}
	}

	g := &datatypes.Guardian{
		ID:          id,
		AppointedAt: pr.now().UTC(),
		AppointedBy: appointedBy,
		Active:      bootstrap || !pr.cfg.RequireAppointmentQuorum,
	}
	if err := pr.store.PutGuardian(g); err != nil {
		return nil, err
	}
	pr.logger.Info("guardian appointed",
		"guardian_id", g.ID,
		"appointed_by", g.AppointedBy,
		"active", g.Active,
	)
	return g, nil
}

// ConfirmGuardian activates a pending appointment. The confirmer must
// be an active guardian distinct from the appointer.
func (pr *Protocol) ConfirmGuardian(id, confirmedBy string) (*datatypes.Guardian, error) {
	if _, err := pr.requireActiveGuardian(confirmedBy); err != nil {
		return nil, err
	}
	g, err := pr.store.GetGuardian(id)
	if err != nil {
		return nil, err
	}
	if g.Active {
		return g, nil
	}
	if confirmedBy == g.AppointedBy {
		return nil, datatypes.NewValidationError("confirmed_by",
			"confirmation must come from a second guardian")
	}
	g.Active = true
	if err := pr.store.PutGuardian(g); err != nil {
		return nil, err
	}
	pr.logger.Info("guardian confirmed", "guardian_id", id, "confirmed_by", confirmedBy)
	return g, nil
}

// DeactivateGuardian revokes active guardianship. The record is kept
// for the audit trail.
func (pr *Protocol) DeactivateGuardian(id, revokedBy string) error {
	if _, err := pr.requireActiveGuardian(revokedBy); err != nil {
		return err
	}
	g, err := pr.store.GetGuardian(id)
	if err != nil {
		return err
	}
	g.Active = false
	if err := pr.store.PutGuardian(g); err != nil {
		return err
	}
	pr.logger.Info("guardianship revoked", "guardian_id", id, "revoked_by", revokedBy)
	return nil
}

// Guardians returns the registry, optionally only active guardianships.
func (pr *Protocol) Guardians(activeOnly bool) ([]datatypes.Guardian, error) {
	return pr.store.ListGuardians(activeOnly)
}

// ===== Amendment lifecycle =====

// Propose records a new amendment and starts its reflection period
// immediately. Only active guardians may propose.
func (pr *Protocol) Propose(proposerID string, kind datatypes.ChangeKind,
	title, description, proposedChanges string) (*datatypes.Amendment, error) {

	if _, err := pr.requireActiveGuardian(proposerID); err != nil {
		return nil, err
	}
	if title == "" {
		return nil, datatypes.NewValidationError("title", "title is required")
	}
	if proposedChanges == "" {
		return nil, datatypes.NewValidationError("proposed_changes",
			"the full proposed constitution text is required")
	}

	now := pr.now().UTC()
	a := &datatypes.Amendment{
		ID:                 uuid.NewString(),
		ProposerID:         proposerID,
		Kind:               kind,
		Title:              title,
		Description:        description,
		ProposedChanges:    proposedChanges,
		Status:             datatypes.AmendmentReflecting,
		ProposedAt:         now,
		ReflectionDeadline: now.Add(pr.cfg.ReflectionPeriod),
		RequiredMajority:   pr.cfg.Supermajority,
	}
	if err := pr.store.CreateAmendment(a); err != nil {
		return nil, err
	}
	pr.logger.Info("amendment proposed",
		"amendment_id", a.ID,
		"proposer", proposerID,
		"reflection_deadline", a.ReflectionDeadline,
	)
	return a, nil
}

// StartVoting opens the voting window once reflection has ended.
//
// Rejected with ErrReflectionActive before the reflection deadline. The
// voting deadline is set exactly once, here.
func (pr *Protocol) StartVoting(amendmentID string) (*datatypes.Amendment, error) {
	now := pr.now().UTC()
	a, err := pr.store.UpdateAmendment(amendmentID, func(a *datatypes.Amendment) error {
		switch a.Status {
		case datatypes.AmendmentReflecting, datatypes.AmendmentProposed:
		default:
			return fmt.Errorf("amendment %s is %s: %w", amendmentID, a.Status, datatypes.ErrWrongState)
		}
		if now.Before(a.ReflectionDeadline) {
			return fmt.Errorf("reflection period ends %s: %w",
				a.ReflectionDeadline.Format(time.RFC3339), datatypes.ErrReflectionActive)
		}
		a.Status = datatypes.AmendmentVoting
		a.VotingDeadline = now.Add(pr.cfg.VotingPeriod)
		return nil
	})
	if err != nil {
		return nil, err
	}
	pr.logger.Info("amendment voting opened",
		"amendment_id", a.ID,
		"voting_deadline", a.VotingDeadline,
	)
	return a, nil
}

// CastVote records one unweighted guardian vote. One guardian, one
// vote; the pool is restricted to active guardians.
func (pr *Protocol) CastVote(amendmentID, guardianID string,
	choice datatypes.VoteChoice, reasoning string) (*datatypes.AmendmentVote, error) {

	if !choice.Valid() {
		return nil, datatypes.NewValidationError("choice", fmt.Sprintf("unknown vote choice %q", choice))
	}
	if _, err := pr.requireActiveGuardian(guardianID); err != nil {
		return nil, err
	}
	vote, err := pr.store.CastAmendmentVote(amendmentID, guardianID, choice, reasoning,
		pr.now().UTC(), uuid.NewString())
	if err != nil {
		return nil, err
	}
	pr.logger.Info("guardian vote cast",
		"amendment_id", amendmentID,
		"guardian_id", guardianID,
		"choice", choice,
	)
	return vote, nil
}

// Finalize settles a voting amendment after its deadline: passed on
// supermajority of decisive votes, failed otherwise.
//
// Rejected with ErrWrongState before the voting deadline; settling
// early would cut the window short. Idempotent on settled amendments.
func (pr *Protocol) Finalize(amendmentID string) (*datatypes.Amendment, error) {
	now := pr.now().UTC()
	a, err := pr.store.UpdateAmendment(amendmentID, func(a *datatypes.Amendment) error {
		switch a.Status {
		case datatypes.AmendmentPassed, datatypes.AmendmentFailed, datatypes.AmendmentVetoed,
			datatypes.AmendmentImplemented, datatypes.AmendmentRolledBack:
			return nil
		case datatypes.AmendmentVoting:
		default:
			return fmt.Errorf("amendment %s is %s, not voting: %w",
				amendmentID, a.Status, datatypes.ErrWrongState)
		}
		if now.Before(a.VotingDeadline) {
			return fmt.Errorf("voting runs until %s: %w",
				a.VotingDeadline.Format(time.RFC3339), datatypes.ErrWrongState)
		}
		if a.ApprovalRatio() >= a.RequiredMajority {
			a.Status = datatypes.AmendmentPassed
		} else {
			a.Status = datatypes.AmendmentFailed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	pr.logger.Info("amendment finalized",
		"amendment_id", a.ID,
		"status", a.Status,
		"approval_ratio", a.ApprovalRatio(),
	)
	return a, nil
}

// Veto marks an amendment vetoed. Any active guardian may veto while
// the amendment is still reflecting or voting.
func (pr *Protocol) Veto(amendmentID, guardianID, reason string) (*datatypes.Amendment, error) {
	if _, err := pr.requireActiveGuardian(guardianID); err != nil {
		return nil, err
	}
	a, err := pr.store.UpdateAmendment(amendmentID, func(a *datatypes.Amendment) error {
		switch a.Status {
		case datatypes.AmendmentReflecting, datatypes.AmendmentProposed, datatypes.AmendmentVoting:
		default:
			return fmt.Errorf("amendment %s is %s: %w", amendmentID, a.Status, datatypes.ErrWrongState)
		}
		a.Status = datatypes.AmendmentVetoed
		return nil
	})
	if err != nil {
		return nil, err
	}
	pr.logger.Warn("amendment vetoed",
		"amendment_id", amendmentID,
		"guardian_id", guardianID,
		"reason", reason,
	)
	return a, nil
}

// Implement adopts a passed amendment: the proposed text becomes the
// next constitution revision and the amendment is marked implemented.
func (pr *Protocol) Implement(amendmentID string) (*datatypes.ConstitutionVersion, error) {
	a, err := pr.store.GetAmendment(amendmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != datatypes.AmendmentPassed {
		if a.Status == datatypes.AmendmentFailed {
			return nil, fmt.Errorf("amendment %s: %w", amendmentID, datatypes.ErrSupermajorityNotReached)
		}
		return nil, fmt.Errorf("amendment %s is %s, not passed: %w",
			amendmentID, a.Status, datatypes.ErrWrongState)
	}

	cv, err := pr.store.AppendConstitutionVersion(&datatypes.ConstitutionVersion{
		Content:     a.ProposedChanges,
		AmendmentID: a.ID,
		CreatedAt:   pr.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := pr.store.UpdateAmendment(amendmentID, func(a *datatypes.Amendment) error {
		a.Status = datatypes.AmendmentImplemented
		return nil
	}); err != nil {
		return nil, err
	}
	pr.logger.Info("amendment implemented",
		"amendment_id", amendmentID,
		"constitution_version", cv.Version,
	)
	return cv, nil
}

// RollbackImplementation reverts an implemented amendment by appending
// a fresh revision carrying the content from before it. History stays
// append-only: no revision is ever deleted or edited.
func (pr *Protocol) RollbackImplementation(amendmentID, guardianID string) (*datatypes.ConstitutionVersion, error) {
	if _, err := pr.requireActiveGuardian(guardianID); err != nil {
		return nil, err
	}
	a, err := pr.store.GetAmendment(amendmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != datatypes.AmendmentImplemented {
		return nil, fmt.Errorf("amendment %s is %s, not implemented: %w",
			amendmentID, a.Status, datatypes.ErrWrongState)
	}

	revisions, err := pr.store.ListConstitutionVersions()
	if err != nil {
		return nil, err
	}
	produced := -1
	for _, cv := range revisions {
		if cv.AmendmentID == amendmentID {
			produced = cv.Version
			break
		}
	}
	if produced <= 1 {
		return nil, fmt.Errorf("no prior revision to restore: %w", datatypes.ErrNotReversible)
	}
	prior, err := pr.store.GetConstitutionVersion(produced - 1)
	if err != nil {
		return nil, err
	}

	cv, err := pr.store.AppendConstitutionVersion(&datatypes.ConstitutionVersion{
		Content:   prior.Content,
		CreatedAt: pr.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := pr.store.UpdateAmendment(amendmentID, func(a *datatypes.Amendment) error {
		a.Status = datatypes.AmendmentRolledBack
		return nil
	}); err != nil {
		return nil, err
	}
	pr.logger.Warn("amendment rolled back",
		"amendment_id", amendmentID,
		"restored_content_of", prior.Version,
		"new_revision", cv.Version,
	)
	return cv, nil
}

// Sweep drives amendment deadlines: reflection periods that have ended
// open voting, and voting windows that have closed finalize. The host
// service calls this periodically alongside the proposal sweep.
func (pr *Protocol) Sweep() (opened, settled []datatypes.Amendment, err error) {
	now := pr.now().UTC()

	reflecting, err := pr.store.ListAmendments(datatypes.AmendmentReflecting, datatypes.AmendmentProposed)
	if err != nil {
		return nil, nil, fmt.Errorf("amendment sweep: %w", err)
	}
	for _, a := range reflecting {
		if now.Before(a.ReflectionDeadline) {
			continue
		}
		updated, err := pr.StartVoting(a.ID)
		if err != nil {
			pr.logger.Warn("sweep failed to open amendment voting",
				"amendment_id", a.ID, "error", err)
			continue
		}
		opened = append(opened, *updated)
	}

	voting, err := pr.store.ListAmendments(datatypes.AmendmentVoting)
	if err != nil {
		return opened, nil, fmt.Errorf("amendment sweep: %w", err)
	}
	for _, a := range voting {
		if now.Before(a.VotingDeadline) {
			continue
		}
		updated, err := pr.Finalize(a.ID)
		if err != nil {
			pr.logger.Warn("sweep failed to finalize an amendment",
				"amendment_id", a.ID, "error", err)
			continue
		}
		settled = append(settled, *updated)
	}
	return opened, settled, nil
}

// Constitution returns the active constitution revision.
func (pr *Protocol) Constitution() (*datatypes.ConstitutionVersion, error) {
	return pr.store.ActiveConstitution()
}

// Get returns one amendment by ID.
func (pr *Protocol) Get(amendmentID string) (*datatypes.Amendment, error) {
	return pr.store.GetAmendment(amendmentID)
}

// Bootstrap installs the initial constitution text when no revision
// exists yet. A no-op when one does.
func (pr *Protocol) Bootstrap(content string) (*datatypes.ConstitutionVersion, error) {
	cv, err := pr.store.ActiveConstitution()
	if err == nil {
		return cv, nil
	}
	if !errors.Is(err, datatypes.ErrNotFound) {
		return nil, err
	}
	return pr.store.AppendConstitutionVersion(&datatypes.ConstitutionVersion{
		Content:   content,
		CreatedAt: pr.now().UTC(),
	})
}
