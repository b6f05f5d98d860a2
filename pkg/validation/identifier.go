// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end up
// in database keys, log output, or file paths. Using these validators prevents
// key-prefix collisions, path traversal, and log injection.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches valid mirror and guardian identifiers.
// Allows: lowercase letters, digits, dots, underscores, hyphens.
// Max length: 64 characters. The leading character must be alphanumeric
// so identifiers can never masquerade as a key prefix or dotfile.
var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// ValidateIdentifier validates a mirror or guardian identifier.
//
// Identifiers become BadgerDB key components ("identity/<id>",
// "vote/<proposal>/<id>"), so the character set deliberately excludes
// the "/" key separator and anything else that could alias another key.
//
// Valid identifiers:
//   - 1-64 characters
//   - lowercase letters a-z and digits 0-9
//   - dots, underscores, and hyphens after the first character
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateIdentifier(id); err != nil {
//	    return nil, fmt.Errorf("invalid identity id: %w", err)
//	}
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier format: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores, or hyphens)", id)
	}
	return nil
}

// ValidateIdentifiers validates multiple identifiers.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateIdentifiers(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateIdentifier(id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %v", invalid)
	}
	return nil
}

// SanitizeIdentifier normalizes and validates an identifier.
// Returns the lowercase identifier if valid, or an error if invalid.
//
// Use this at intake boundaries where casing and surrounding
// whitespace vary:
//
//	safeID, err := validation.SanitizeIdentifier(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeIdentifier(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if err := ValidateIdentifier(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
