// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

// Defaults for MemoryAuditLogger.
const (
	DefaultAuditCapacity   = 1000
	DefaultAuditQueryLimit = 100
)

// MemoryAuditLogger keeps the most recent events in a ring buffer and
// mirrors each one to a slog logger under the "audit" group.
//
// # Limitations
//
// Events are lost on restart and once more than the capacity are logged.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryAuditLogger struct {
	logger *slog.Logger
	clock  clock.Clock

	mu     sync.RWMutex
	events []AuditEvent
	next   int
	full   bool
}

var _ AuditLogger = (*MemoryAuditLogger)(nil)

// MemoryAuditOption configures a MemoryAuditLogger.
type MemoryAuditOption func(*MemoryAuditLogger)

// WithAuditClock sets the clock used to stamp events.
func WithAuditClock(c clock.Clock) MemoryAuditOption {
	return func(l *MemoryAuditLogger) { l.clock = c }
}

// NewMemoryAuditLogger creates a logger holding up to capacity events.
// A nil logger disables the slog mirror.
func NewMemoryAuditLogger(capacity int, logger *slog.Logger, opts ...MemoryAuditOption) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	l := &MemoryAuditLogger{
		logger: logger,
		clock:  clock.WallClock,
		events: make([]AuditEvent, capacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log stores the event, filling in ID and Timestamp when unset.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now().UTC()
	}
	if event.Metadata != nil {
		md := make(map[string]any, len(event.Metadata))
		for k, v := range event.Metadata {
			md[k] = v
		}
		event.Metadata = md
	}

	l.mu.Lock()
	l.events[l.next] = event
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.LogAttrs(ctx, slog.LevelInfo, "audit event",
			slog.Group("audit",
				slog.String("event_type", event.EventType),
				slog.String("actor", event.Actor),
				slog.String("resource_type", event.ResourceType),
				slog.String("resource_id", event.ResourceID),
				slog.String("model_id", event.ModelID),
				slog.String("outcome", event.Outcome)))
	}
	return nil
}

// Query returns matching events newest-first.
func (l *MemoryAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditQueryLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.events)
	}
	out := []AuditEvent{}
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (l.next - 1 - i + len(l.events)) % len(l.events)
		if e := l.events[idx]; filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Flush is a no-op; events are never buffered.
func (l *MemoryAuditLogger) Flush(context.Context) error { return nil }

// Len returns the number of stored events.
func (l *MemoryAuditLogger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.events)
	}
	return l.next
}
