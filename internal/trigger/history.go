// Package trigger implements the trigger detection engine: pure decision
// logic mapping one telemetry sample to at most one pending coaching event.
package trigger

import (
	"time"

	"github.com/strideloop/voicecoach/internal/models"
)

// History is the rate-limit log owned by the trigger engine. It is mutated
// only when an event is actually emitted, never on mere evaluation, so
// re-evaluating a sample against unchanged history yields the same decision.
//
// History is confined to the single session consumer goroutine and needs no
// locking.
type History struct {
	started       time.Time
	lastFired     map[models.EventType]time.Time
	lastMilestone int
	lastHRZone    int
}

// NewHistory creates an empty trigger history anchored at the session start.
func NewHistory(start time.Time) *History {
	return &History{
		started:   start,
		lastFired: make(map[models.EventType]time.Time),
	}
}

// lastFiredAt returns when an event of the given type last fired. Before any
// emission the session start acts as the anchor, so time-based cadences count
// from the beginning of the run.
func (h *History) lastFiredAt(t models.EventType) (time.Time, bool) {
	at, ok := h.lastFired[t]
	if !ok {
		return h.started, false
	}
	return at, true
}

// noteFired records an emission. Called only after every condition passed.
func (h *History) noteFired(t models.EventType, at time.Time) {
	h.lastFired[t] = at
}

// LastMilestone returns the highest milestone index announced this session.
func (h *History) LastMilestone() int { return h.lastMilestone }

// LastHRZone returns the highest heart-rate zone announced this session.
func (h *History) LastHRZone() int { return h.lastHRZone }
