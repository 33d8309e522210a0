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
// This package contains validators for user-provided inputs that are used in
// database queries. Model ids and metric names end up inside Flux queries and
// InfluxDB line protocol, where quoting alone does not stop interpolation
// (Flux expands ${...} inside string literals).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength is the longest accepted identifier.
const MaxIdentifierLength = 128

// identifierPattern matches model ids, versions and metric names.
// Allows: letters, digits, dot, underscore, colon, slash, hyphen.
// Must start with a letter or digit.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/\-]*$`)

// ValidateIdentifier checks that s is safe to embed in a Flux query.
//
// Valid identifiers:
//   - 1-128 characters
//   - ASCII letters and digits
//   - Dots, underscores, colons, slashes and hyphens after the first char
//
// Example:
//
//	if err := validation.ValidateIdentifier("model id", modelID); err != nil {
//	    return nil, err
//	}
//	// Safe to use in Flux query
func ValidateIdentifier(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if len(s) > MaxIdentifierLength {
		return fmt.Errorf("%s too long: %d chars (max %d)", kind, len(s), MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(s) {
		return fmt.Errorf("invalid %s: %q (letters, digits and ._:/- only)", kind, s)
	}
	return nil
}

// ValidateIdentifiers validates several identifiers of one kind.
// Returns an error listing all invalid values if any fail validation.
func ValidateIdentifiers(kind string, values []string) error {
	var invalid []string
	for _, v := range values {
		if err := ValidateIdentifier(kind, v); err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", v))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid %s values: %s", kind, strings.Join(invalid, ", "))
	}
	return nil
}
