package vwap

import (
	"fmt"
	"strings"
	"time"
)

// ResetInterval names a session boundary rule.
type ResetInterval string

const (
	ResetDaily   ResetInterval = "daily"
	ResetSession ResetInterval = "session"
	ResetNone    ResetInterval = "none"
)

// DefaultSessionGap is the gap that starts a new session under
// ResetSession. Gaps must be strictly longer to reset.
const DefaultSessionGap = 4 * time.Hour

// ParseResetInterval accepts daily, session or none in any case. "" is daily.
func ParseResetInterval(s string) (ResetInterval, error) {
	switch r := ResetInterval(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return ResetDaily, nil
	case ResetDaily, ResetSession, ResetNone:
		return r, nil
	}
	return "", fmt.Errorf("unknown vwap reset interval %q", s)
}

// Boundary reports whether next starts a new session after prev.
type Boundary func(prev, next time.Time) bool

// DailyBoundary fires when the calendar date in loc changes.
func DailyBoundary(loc *time.Location) Boundary {
	if loc == nil {
		loc = time.UTC
	}
	return func(prev, next time.Time) bool {
		py, pm, pd := prev.In(loc).Date()
		ny, nm, nd := next.In(loc).Date()
		return py != ny || pm != nm || pd != nd
	}
}

// GapBoundary fires when the time between bars is strictly longer than gap.
func GapBoundary(gap time.Duration) Boundary {
	return func(prev, next time.Time) bool {
		return next.Sub(prev) > gap
	}
}

// NoBoundary never fires.
func NoBoundary(prev, next time.Time) bool { return false }
