package trigger

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/strideloop/voicecoach/internal/models"
)

// Engine evaluates telemetry samples against the session configuration and
// the selected coach's thresholds. Rules run in fixed priority order and at
// most one event is emitted per sample.
type Engine struct {
	cfg models.SessionConfig
}

// NewEngine creates a trigger engine for one session. Defaults are applied to
// unset configuration fields.
func NewEngine(cfg models.SessionConfig) *Engine {
	cfg.ApplyDefaults()
	return &Engine{cfg: cfg}
}

// Config returns the engine's effective session configuration.
func (e *Engine) Config() models.SessionConfig { return e.cfg }

// Evaluate maps one sample to zero or one coaching event.
//
// Priority order: pace deviation, distance milestone, time-based motivation,
// heart-rate zone. First match wins. The history is mutated only when an
// event is emitted.
func (e *Engine) Evaluate(sample models.RunMetricsSample, phase models.CoachingPhase, coach models.CoachPersonality, h *History) *models.CoachingEvent {
	switch phase {
	case models.PhaseWarmup, models.PhaseMain, models.PhaseCooldown:
	default:
		return nil
	}

	if ev := e.evaluatePace(sample, phase, coach, h); ev != nil {
		return e.emit(ev, h, sample.Timestamp)
	}
	if ev := e.evaluateMilestone(sample, coach, h); ev != nil {
		h.lastMilestone = int(sample.Distance / e.cfg.MilestoneInterval)
		return e.emit(ev, h, sample.Timestamp)
	}
	if ev := e.evaluateMotivation(sample, phase, coach, h); ev != nil {
		return e.emit(ev, h, sample.Timestamp)
	}
	if ev := e.evaluateHeartRate(sample, phase, coach, h); ev != nil {
		h.lastHRZone = heartRateZone(*sample.HeartRate, e.cfg.MaxHeartRate)
		return e.emit(ev, h, sample.Timestamp)
	}
	return nil
}

// emit finalizes an event and records it in the rate-limit history.
func (e *Engine) emit(ev *models.CoachingEvent, h *History, at time.Time) *models.CoachingEvent {
	ev.ID = uuid.NewString()
	ev.Timestamp = at
	h.noteFired(ev.Type, at)
	slog.Debug("Trigger emitted", "type", ev.Type, "urgency", ev.Urgency, "coachID", ev.CoachID)
	return ev
}

// cooldownElapsed enforces the per-type rate limit against the sample clock.
func (e *Engine) cooldownElapsed(t models.EventType, h *History, now time.Time, cooldown time.Duration) bool {
	at, fired := h.lastFiredAt(t)
	if !fired {
		return true
	}
	return now.Sub(at) >= cooldown
}

// evaluatePace checks rule 1: pace deviation beyond the coach's threshold.
// Suppressed outside the main phase, where the athlete is intentionally off
// target pace.
func (e *Engine) evaluatePace(sample models.RunMetricsSample, phase models.CoachingPhase, coach models.CoachPersonality, h *History) *models.CoachingEvent {
	if phase != models.PhaseMain || sample.CurrentPace <= 0 {
		return nil
	}
	deviation := math.Abs(sample.CurrentPace - e.cfg.TargetPace)
	if deviation <= coach.PaceWarningThreshold {
		return nil
	}
	if !e.cooldownElapsed(models.EventPaceFeedback, h, sample.Timestamp, e.cfg.TriggerCooldown) {
		return nil
	}

	urgency := models.UrgencyNormal
	switch {
	case deviation > 2*coach.PaceWarningThreshold:
		urgency = models.UrgencyUrgent
	case deviation > 1.5*coach.PaceWarningThreshold:
		urgency = models.UrgencyEnergetic
	}
	tooFast := sample.CurrentPace < e.cfg.TargetPace
	return &models.CoachingEvent{
		Type:    models.EventPaceFeedback,
		Urgency: urgency,
		Message: paceMessage(deviation, tooFast, urgency),
		CoachID: coach.ID,
	}
}

// evaluateMilestone checks rule 2: crossing a distance milestone not yet
// announced this session. Each milestone index fires exactly once, so the
// crossing itself is the rate limiter regardless of sampling density.
func (e *Engine) evaluateMilestone(sample models.RunMetricsSample, coach models.CoachPersonality, h *History) *models.CoachingEvent {
	if !coach.MilestoneAlerts {
		return nil
	}
	idx := int(sample.Distance / e.cfg.MilestoneInterval)
	if idx < 1 || idx <= h.lastMilestone {
		return nil
	}
	return &models.CoachingEvent{
		Type:    models.EventMilestone,
		Urgency: models.UrgencyNormal,
		Message: milestoneMessage(idx, e.cfg.MilestoneInterval, e.cfg.TargetDistance),
		CoachID: coach.ID,
	}
}

// evaluateMotivation checks rule 3: the coach's motivational cadence.
func (e *Engine) evaluateMotivation(sample models.RunMetricsSample, phase models.CoachingPhase, coach models.CoachPersonality, h *History) *models.CoachingEvent {
	if phase == models.PhaseWarmup || coach.MotivationalFrequency <= 0 {
		return nil
	}
	at, _ := h.lastFiredAt(models.EventMotivation)
	if sample.Timestamp.Sub(at) < coach.MotivationalFrequency {
		return nil
	}

	urgency := models.UrgencyNormal
	switch {
	case coach.EncouragementLevel >= 4:
		urgency = models.UrgencyEnergetic
	case coach.EncouragementLevel <= 2:
		urgency = models.UrgencyCalm
	}
	return &models.CoachingEvent{
		Type:    models.EventMotivation,
		Urgency: urgency,
		Message: motivationMessage(int(sample.Elapsed.Minutes()), urgency),
		CoachID: coach.ID,
	}
}

// evaluateHeartRate checks rule 4: heart rate crossing into a higher zone
// than last announced. Suppressed during warmup.
func (e *Engine) evaluateHeartRate(sample models.RunMetricsSample, phase models.CoachingPhase, coach models.CoachPersonality, h *History) *models.CoachingEvent {
	if sample.HeartRate == nil || phase == models.PhaseWarmup {
		return nil
	}
	zone := heartRateZone(*sample.HeartRate, e.cfg.MaxHeartRate)
	if zone <= h.lastHRZone {
		return nil
	}
	if !e.cooldownElapsed(models.EventHeartRateZone, h, sample.Timestamp, e.cfg.TriggerCooldown) {
		return nil
	}

	urgency := models.UrgencyNormal
	switch zone {
	case 5:
		urgency = models.UrgencyUrgent
	case 4:
		urgency = models.UrgencyEnergetic
	}
	return &models.CoachingEvent{
		Type:    models.EventHeartRateZone,
		Urgency: urgency,
		Message: heartRateMessage(zone, urgency),
		CoachID: coach.ID,
	}
}

// heartRateZone maps a heart rate to the classic five training zones as
// fractions of the configured maximum.
func heartRateZone(hr, maxHR int) int {
	if maxHR <= 0 || hr <= 0 {
		return 0
	}
	frac := float64(hr) / float64(maxHR)
	switch {
	case frac >= 0.9:
		return 5
	case frac >= 0.8:
		return 4
	case frac >= 0.7:
		return 3
	case frac >= 0.6:
		return 2
	default:
		return 1
	}
}
