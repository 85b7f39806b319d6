package trigger

import (
	"fmt"

	"github.com/strideloop/voicecoach/internal/models"
)

// Message templates are deterministic: the variant is picked from stable
// inputs (milestone index, elapsed minutes), never randomness, so the same
// sample and history always produce the same line and the same cache key.

var tooFastLines = []string{
	"You're running %.1f minutes per kilometer ahead of target. Ease off a little.",
	"Pace check: %.1f under target. Save something for the finish.",
}

var tooSlowLines = []string{
	"You've dropped %.1f minutes per kilometer behind target. Pick it up.",
	"Pace check: %.1f over target. Find your rhythm again.",
}

func paceMessage(deviation float64, tooFast bool, urgency models.Urgency) string {
	lines := tooSlowLines
	if tooFast {
		lines = tooFastLines
	}
	idx := 0
	if urgency.AtLeast(models.UrgencyEnergetic) {
		idx = 1
	}
	return fmt.Sprintf(lines[idx%len(lines)], deviation)
}

var milestoneLines = []string{
	"That's %d kilometers done. Keep it rolling.",
	"%d kilometers in the bank. Strong work.",
	"Kilometer %d behind you. Stay smooth.",
}

func milestoneMessage(idx int, interval, targetDistance float64) string {
	km := float64(idx) * interval / 1000
	remaining := targetDistance - float64(idx)*interval
	if remaining > 0 && remaining <= interval {
		return fmt.Sprintf("Kilometer %.0f done. Final stretch now, bring it home.", km)
	}
	return fmt.Sprintf(milestoneLines[idx%len(milestoneLines)], int(km))
}

var motivationCalm = []string{
	"Steady and relaxed. %d minutes in, you're doing fine.",
	"Nice and easy. %d minutes on the clock.",
}

var motivationEnergetic = []string{
	"%d minutes in and you're looking strong. Let's go!",
	"Keep pushing! %d minutes down already.",
}

var motivationNormal = []string{
	"%d minutes in. Hold this effort.",
	"Good work so far. %d minutes on the clock.",
}

func motivationMessage(minutes int, urgency models.Urgency) string {
	var lines []string
	switch urgency {
	case models.UrgencyCalm:
		lines = motivationCalm
	case models.UrgencyEnergetic:
		lines = motivationEnergetic
	default:
		lines = motivationNormal
	}
	return fmt.Sprintf(lines[minutes%len(lines)], minutes)
}

func heartRateMessage(zone int, urgency models.Urgency) string {
	if urgency == models.UrgencyUrgent {
		return fmt.Sprintf("Heart rate is in zone %d. Back off and breathe.", zone)
	}
	return fmt.Sprintf("You've moved into heart rate zone %d.", zone)
}

// PhaseMessage returns the announcement line for a phase transition. Used by
// the session coordinator for time-based events.
func PhaseMessage(phase models.CoachingPhase) string {
	switch phase {
	case models.PhaseWarmup:
		return "Warmup started. Keep it gentle."
	case models.PhaseMain:
		return "Warmup complete. Settle into your target pace."
	case models.PhaseCooldown:
		return "Almost there. Ease off into your cooldown."
	case models.PhaseEnded:
		return "Session complete. Well done out there."
	default:
		return ""
	}
}
