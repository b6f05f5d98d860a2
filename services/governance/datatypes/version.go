// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// RolloutStages are the only permitted rollout percentages, in order.
// A version's percentage is monotonically non-decreasing; reaching 100
// activates the version and deactivates the previously active one.
var RolloutStages = []int{10, 50, 100}

// ValidRolloutStage reports whether pct is one of the permitted stages.
func ValidRolloutStage(pct int) bool {
	for _, s := range RolloutStages {
		if pct == s {
			return true
		}
	}
	return false
}

// Version bundles approved proposals into a staged ruleset release.
//
// At most one version is active at a time.
type Version struct {
	// ID is the unique version identifier (UUID v4).
	ID string `json:"id"`

	// SemVer is the semantic version string, e.g. "1.4.0".
	SemVer string `json:"semver"`

	// Description summarizes what the release changes.
	Description string `json:"description"`

	// ProposalIDs lists the approved proposals bundled in this version.
	ProposalIDs []string `json:"proposal_ids"`

	// RolloutPercent is the current staged rollout percentage,
	// one of {0, 10, 50, 100}.
	RolloutPercent int `json:"rollout_percent"`

	// Active reports whether this is the live version.
	Active bool `json:"active"`

	// CreatedAt is when the version was cut.
	CreatedAt time.Time `json:"created_at"`
}
