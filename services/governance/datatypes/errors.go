// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Error taxonomy for the governance core.
//
// Validation and not-found errors are handled at the call boundary and
// never reach the audit log. Hard blocks, conflicts, and integrity
// freezes are themselves governance events: they return a typed error
// AND produce a change log entry. No rejection in this core is silent.

package datatypes

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is at the boundary.
var (
	// ErrNotFound indicates an absent proposal, amendment, identity,
	// version, guardian, or log entry.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyVoted indicates a second vote by the same identity on
	// the same proposal or amendment. No state change occurred.
	ErrAlreadyVoted = errors.New("already voted")

	// ErrVotingClosed indicates the proposal is not accepting votes:
	// not active, or past its voting deadline.
	ErrVotingClosed = errors.New("voting closed")

	// ErrWrongState indicates an operation invalid for the record's
	// current lifecycle state.
	ErrWrongState = errors.New("wrong state")

	// ErrSubsystemFrozen indicates the evolution subsystem is frozen on
	// an unresolved conflict; no change may be adopted until an
	// explicit, logged resolution.
	ErrSubsystemFrozen = errors.New("evolution subsystem frozen")

	// ErrGuardianRequired indicates the acting identity is not an
	// active guardian.
	ErrGuardianRequired = errors.New("active guardian required")

	// ErrSupermajorityNotReached indicates an amendment failed its
	// required supermajority after the voting window closed.
	ErrSupermajorityNotReached = errors.New("supermajority not reached")

	// ErrReflectionActive indicates voting was requested before an
	// amendment's reflection deadline.
	ErrReflectionActive = errors.New("reflection period still active")

	// ErrInvalidRollout indicates a rollout percentage outside
	// {10, 50, 100} or a decrease from the current stage.
	ErrInvalidRollout = errors.New("invalid rollout percentage")

	// ErrNotReversible indicates a rollback was requested on an entry
	// recorded as irreversible.
	ErrNotReversible = errors.New("entry is not reversible")
)

// ValidationError reports malformed input rejected before any state
// change. Always recoverable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// HardBlockError reports a constitutional hard block: one or more
// principles scored below their hard floors. Never retried automatically
// and never overridden by revoting.
type HardBlockError struct {
	Assessment *ConstitutionalAssessment
}

func (e *HardBlockError) Error() string {
	if e.Assessment == nil || len(e.Assessment.HardViolations) == 0 {
		return "constitutional hard block"
	}
	return fmt.Sprintf("constitutional hard block: %v", e.Assessment.HardViolations)
}

// ConflictError reports that an action was suspended (not rejected) on a
// blocking conflict; the subsystem froze and resumes only via an explicit
// resolution call.
type ConflictError struct {
	Conflict Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict requires user decision: %s on %q", e.Conflict.Kind, e.Conflict.Target)
}

// Unwrap lets callers match ConflictError against ErrSubsystemFrozen,
// since raising the conflict freezes the subsystem.
func (e *ConflictError) Unwrap() error { return ErrSubsystemFrozen }

// IntegrityError reports a sub-0.5 integrity score that froze the
// evolution subsystem pending investigation.
type IntegrityError struct {
	Report IntegrityReport
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity threat detected: score %.2f (%s)",
		e.Report.Score, e.Report.Recommendation)
}
