// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders deployctl output for terminals and scripts.
package ux

import (
	"io"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode controls how richly output is rendered.
type Mode string

const (
	// ModeRich enables colours, icons, boxes and progress bars.
	ModeRich Mode = "rich"

	// ModePlain keeps icons but drops colour.
	ModePlain Mode = "plain"

	// ModeMachine emits tab-separated lines with no decoration.
	ModeMachine Mode = "machine"
)

// ModeEnvVar overrides terminal detection when set.
const ModeEnvVar = "DEPLOYCTL_OUTPUT"

// ParseMode converts a user supplied string to a Mode. Unknown values
// fall back to ModePlain.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "r":
		return ModeRich
	case "machine", "quiet", "q", "m":
		return ModeMachine
	default:
		return ModePlain
	}
}

// DetectMode picks a mode for w.
//
// # Description
//
// An explicit override (from a flag or ModeEnvVar) wins. Otherwise a
// terminal gets ModeRich and anything else, such as a pipe or a file,
// gets ModeMachine.
//
// # Inputs
//
//   - w: The destination writer. Only *os.File-like writers exposing Fd
//     can be detected as terminals.
//   - override: Empty for auto-detection.
func DetectMode(w io.Writer, override string) Mode {
	if override != "" {
		return ParseMode(override)
	}
	if isTerminal(w) {
		return ModeRich
	}
	return ModeMachine
}

type fder interface {
	Fd() uintptr
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(fder)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
