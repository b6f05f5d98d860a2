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
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCommons/services/governance/constitution/enforcement"
)

// MaxConfigBytes is the maximum allowed principle file size (1MB).
// Prevents memory issues from oversized configuration.
const MaxConfigBytes = 1024 * 1024

// PrincipleFile is the on-disk / embedded principle configuration.
type PrincipleFile struct {
	ReviewThreshold float64       `yaml:"review_threshold"`
	Principles      []PrincipleDef `yaml:"principles"`
}

// PrincipleDef is one configured constitutional principle.
type PrincipleDef struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	HardFloor   float64        `yaml:"hard_floor"`
	Violations  []ViolationDef `yaml:"violations"`
}

// ViolationDef is one scoring rule: a pattern over the proposal's
// normalized text and the score penalty applied when it matches.
type ViolationDef struct {
	ID          string  `yaml:"id"`
	Description string  `yaml:"description"`
	Pattern     string  `yaml:"pattern"`
	Penalty     float64 `yaml:"penalty"`

	compiled *regexp.Regexp `yaml:"-"`
}

// parsePrincipleFile unmarshals and validates a principle configuration.
//
// Loading fails closed: a malformed entry, an invalid regex, an empty
// principle list, or out-of-range numbers all return an error. There is
// no permissive fallback rule set.
func parsePrincipleFile(raw []byte) (*PrincipleFile, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("principle configuration is empty")
	}
	if len(raw) > MaxConfigBytes {
		return nil, fmt.Errorf("principle configuration exceeds %d bytes", MaxConfigBytes)
	}

	var file PrincipleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the principle file: %w", err)
	}
	if len(file.Principles) == 0 {
		return nil, fmt.Errorf("principle configuration defines no principles")
	}
	if file.ReviewThreshold == 0 {
		file.ReviewThreshold = defaultReviewThreshold
	}
	if file.ReviewThreshold < 0 || file.ReviewThreshold > 1 {
		return nil, fmt.Errorf("review_threshold %v outside [0,1]", file.ReviewThreshold)
	}

	seen := make(map[string]bool, len(file.Principles))
	for i := range file.Principles {
		p := &file.Principles[i]
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("principle %d: id and name are required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate principle id %q", p.ID)
		}
		seen[p.ID] = true
		if p.HardFloor < 0 || p.HardFloor > 1 {
			return nil, fmt.Errorf("principle %q: hard_floor %v outside [0,1]", p.ID, p.HardFloor)
		}
		for j := range p.Violations {
			v := &p.Violations[j]
			if v.Pattern == "" {
				return nil, fmt.Errorf("principle %q violation %d: pattern is required", p.ID, j)
			}
			if v.Penalty <= 0 || v.Penalty > 1 {
				return nil, fmt.Errorf("principle %q violation %q: penalty %v outside (0,1]",
					p.ID, v.ID, v.Penalty)
			}
			re, err := regexp.Compile(v.Pattern)
			if err != nil {
				return nil, fmt.Errorf("principle %q violation %q: failed to compile the regex: %w",
					p.ID, v.ID, err)
			}
			v.compiled = re
		}
	}
	return &file, nil
}

// loadPrincipleFile reads the configuration from path, or falls back to
// the embedded default when path is empty. Never falls back on error:
// a path that exists but fails to parse is a hard failure.
func loadPrincipleFile(path string) (*PrincipleFile, error) {
	if path == "" {
		return parsePrincipleFile(enforcement.ConstitutionalPrinciples)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read principle configuration %s: %w", path, err)
	}
	return parsePrincipleFile(raw)
}
