// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bridges the build system and the runtime monitor. It uses the Go
embed package to bake constitutional_principles.yaml directly into the
compiled binary, so the default principle set is immutable at runtime and
travels with the executable.
*/

package enforcement

import (
	_ "embed"
)

// ConstitutionalPrinciples holds the raw byte content of the
// 'constitutional_principles.yaml' file.
//
// Populated at compile time via the Go 'embed' directive. Baking the
// YAML into the binary means the default safety floors cannot be
// tampered with on the host filesystem without recompiling.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.ConstitutionalPrinciples, &targetStruct)
//
//go:embed constitutional_principles.yaml
var ConstitutionalPrinciples []byte
