// Package session owns the coaching session lifecycle: the phase state
// machine, the pause flag, and session-scoped statistics.
package session

import (
	"sync"

	"github.com/strideloop/voicecoach/internal/models"
)

// Recorder accumulates session-scoped coaching statistics. It satisfies the
// pipeline's StatsSink and is read concurrently by UI/telemetry consumers.
type Recorder struct {
	mu    sync.Mutex
	stats models.CoachingStats
}

// NewRecorder creates an empty stats recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Reset clears all counters at a session start boundary.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = models.CoachingStats{}
}

// SessionStarted counts a session start.
func (r *Recorder) SessionStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.SessionsStarted++
}

// SessionCompleted counts a completed session.
func (r *Recorder) SessionCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.SessionsCompleted++
}

// TriggerProcessed counts one event that reached generation.
func (r *Recorder) TriggerProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.TotalTriggersProcessed++
}

// GenerationFailed counts one failed or timed-out synthesis.
func (r *Recorder) GenerationFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.ErrorCount++
}

// Snapshot returns a copy of the current statistics with the derived success
// rate filled in.
func (r *Recorder) Snapshot() models.CoachingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stats
	if out.TotalTriggersProcessed > 0 {
		out.SuccessRate = 1 - float64(out.ErrorCount)/float64(out.TotalTriggersProcessed)
	}
	return out
}
