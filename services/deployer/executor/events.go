// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"sync"

	"github.com/AleutianAI/AleutianDeploy/services/deployer/datatypes"
)

// subscriberBuffer is the per-subscriber event buffer. Slow subscribers
// drop events rather than stall an execution.
const subscriberBuffer = 64

type subscriber struct {
	ch     chan datatypes.ProgressEvent
	closed bool
}

// eventHub fans progress events out to subscribers. The key "" receives
// events from every execution.
type eventHub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *eventHub) subscribe(executionID string) (*subscriber, func()) {
	s := &subscriber{ch: make(chan datatypes.ProgressEvent, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[executionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[executionID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	return s, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[executionID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, executionID)
			}
		}
		h.closeLocked(s)
	}
}

// publish delivers ev without blocking.
func (h *eventHub) publish(ev datatypes.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range [2]string{ev.ExecutionID, ""} {
		for s := range h.subs[key] {
			if s.closed {
				continue
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// closeExecution closes every subscriber of one execution.
func (h *eventHub) closeExecution(executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[executionID] {
		h.closeLocked(s)
	}
	delete(h.subs, executionID)
}

// closeAll closes every subscriber, including the wildcard ones.
func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for s := range set {
			h.closeLocked(s)
		}
		delete(h.subs, id)
	}
}

func (h *eventHub) closeLocked(s *subscriber) {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
