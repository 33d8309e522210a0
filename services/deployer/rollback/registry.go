// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollback

import (
	"sort"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// modelEntry is the registry state of one model. versions[0] is current.
type modelEntry struct {
	versions      []string
	lastKnownGood string
	quarantined   map[string]bool
	monitored     bool
}

func newModelEntry(current string, history []string) *modelEntry {
	e := &modelEntry{quarantined: make(map[string]bool)}
	e.versions = dedupe(append([]string{current}, history...))
	if len(e.versions) > 1 {
		e.lastKnownGood = e.versions[1]
	}
	return e
}

func (e *modelEntry) current() string {
	if len(e.versions) == 0 {
		return ""
	}
	return e.versions[0]
}

func (e *modelEntry) has(version string) bool {
	for _, v := range e.versions {
		if v == version {
			return true
		}
	}
	return false
}

// autoTarget picks the version an automatic rollback restores: the last
// known-good version when it is still a valid target, else the most recent
// non-current version that has not been rolled back away from.
func (e *modelEntry) autoTarget() (string, bool) {
	if len(e.versions) < 2 {
		return "", false
	}
	cur := e.current()
	if lkg := e.lastKnownGood; lkg != "" && lkg != cur && !e.quarantined[lkg] && e.has(lkg) {
		return lkg, true
	}
	for _, v := range e.versions[1:] {
		if !e.quarantined[v] {
			return v, true
		}
	}
	return "", false
}

// promote makes to current after a successful rollback away from from.
func (e *modelEntry) promote(to, from string) {
	e.moveToFront(to)
	delete(e.quarantined, to)
	if from != "" && from != to {
		e.quarantined[from] = true
	}
	e.lastKnownGood = ""
	for _, v := range e.versions[1:] {
		if !e.quarantined[v] {
			e.lastKnownGood = v
			break
		}
	}
}

// recordDeployment makes version current after a successful deployment.
// The version it replaced becomes the last known-good.
func (e *modelEntry) recordDeployment(version string) {
	prev := e.current()
	e.moveToFront(version)
	delete(e.quarantined, version)
	if prev != "" && prev != version && !e.quarantined[prev] {
		e.lastKnownGood = prev
	}
}

func (e *modelEntry) moveToFront(version string) {
	out := make([]string, 0, len(e.versions)+1)
	out = append(out, version)
	for _, v := range e.versions {
		if v != version {
			out = append(out, v)
		}
	}
	e.versions = out
}

func (e *modelEntry) info(modelID string) *datatypes.ModelVersionInfo {
	q := make([]string, 0, len(e.quarantined))
	for v := range e.quarantined {
		q = append(q, v)
	}
	sort.Strings(q)
	return &datatypes.ModelVersionInfo{
		ModelID:       modelID,
		Versions:      append([]string(nil), e.versions...),
		LastKnownGood: e.lastKnownGood,
		Quarantined:   q,
		Monitored:     e.monitored,
	}
}

// dedupe drops empty and repeated versions, keeping first occurrences.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
