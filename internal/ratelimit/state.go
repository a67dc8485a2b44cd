// Package ratelimit tracks when the completion backend will accept requests
// again and parses the backend's reset-duration strings.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// TimeLayout is the persisted form of a reset timestamp (UTC).
const TimeLayout = "2006-01-02 15:04:05"

// DefaultReset is the persisted value meaning "never limited".
const DefaultReset = "1990-01-01 00:01:00"

// State holds a single reset instant. Reads never block; writes come only
// from the completion glue via Backoff or SetResetAt.
type State struct {
	resetAt atomic.Int64 // unix nanoseconds
	persist func(time.Time)
}

// NewState creates a State starting at resetAt. persist, when non-nil, is
// called with every new reset instant.
func NewState(resetAt time.Time, persist func(time.Time)) *State {
	s := &State{persist: persist}
	s.resetAt.Store(nanos(resetAt))
	return s
}

// nanos clamps t into the range UnixNano can represent.
func nanos(t time.Time) int64 {
	switch {
	case t.Year() < 1678:
		return 0
	case t.Year() > 2261:
		return time.Date(2261, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()
	}
	return t.UnixNano()
}

// Active reports whether responses are suppressed at now.
func (s *State) Active(now time.Time) bool {
	return nanos(now) < s.resetAt.Load()
}

// ResetAt returns the instant suppression ends.
func (s *State) ResetAt() time.Time {
	return time.Unix(0, s.resetAt.Load()).UTC()
}

// SetResetAt overwrites the reset instant unconditionally.
func (s *State) SetResetAt(t time.Time) {
	s.resetAt.Store(nanos(t))
	if s.persist != nil {
		s.persist(t.UTC())
	}
}

// Backoff moves the reset instant to now+d unless it is already later, and
// returns the effective reset instant.
func (s *State) Backoff(now time.Time, d time.Duration) time.Time {
	target := nanos(now.Add(d))
	for {
		cur := s.resetAt.Load()
		if target <= cur {
			return time.Unix(0, cur).UTC()
		}
		if s.resetAt.CompareAndSwap(cur, target) {
			t := time.Unix(0, target).UTC()
			if s.persist != nil {
				s.persist(t)
			}
			return t
		}
	}
}

// FormatReset renders t in the persisted layout.
func FormatReset(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseReset parses a persisted reset timestamp as UTC.
func ParseReset(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}
