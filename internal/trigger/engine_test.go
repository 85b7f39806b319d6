package trigger

import (
	"testing"
	"time"

	"github.com/strideloop/voicecoach/internal/models"
)

func testConfig() models.SessionConfig {
	return models.SessionConfig{
		TargetPace:        5.0,
		TargetDistance:    10000,
		MilestoneInterval: 1000,
		TriggerCooldown:   90 * time.Second,
		MaxHeartRate:      190,
	}
}

func testCoach() models.CoachPersonality {
	return models.CoachPersonality{
		ID:                    "coach-1",
		Name:                  "Test Coach",
		Voice:                 models.VoiceSettings{VoiceID: "voice-1"},
		PaceWarningThreshold:  0.5,
		MilestoneAlerts:       true,
		MotivationalFrequency: 5 * time.Minute,
		EncouragementLevel:    3,
		Enabled:               true,
	}
}

func sampleAt(start time.Time, elapsed time.Duration, distance, pace float64) models.RunMetricsSample {
	return models.RunMetricsSample{
		Distance:    distance,
		Elapsed:     elapsed,
		CurrentPace: pace,
		AveragePace: pace,
		Timestamp:   start.Add(elapsed),
	}
}

func TestEvaluateIdempotentOnUnchangedHistory(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	start := time.Now()

	// Below every threshold: no event, and history stays untouched, so
	// re-evaluating the same sample gives the same answer.
	s := sampleAt(start, 4*time.Minute, 800, 5.1)
	h := NewHistory(start)
	first := engine.Evaluate(s, models.PhaseMain, coach, h)
	second := engine.Evaluate(s, models.PhaseMain, coach, h)
	if first != nil || second != nil {
		t.Fatalf("expected no events for on-target sample, got %v then %v", first, second)
	}

	// Above the pace threshold: both evaluations against a fresh history
	// must agree on type, urgency, and message.
	s = sampleAt(start, 4*time.Minute, 800, 6.2)
	ev1 := engine.Evaluate(s, models.PhaseMain, coach, NewHistory(start))
	ev2 := engine.Evaluate(s, models.PhaseMain, coach, NewHistory(start))
	if ev1 == nil || ev2 == nil {
		t.Fatal("expected pace events, got nil")
	}
	if ev1.Type != ev2.Type || ev1.Urgency != ev2.Urgency || ev1.Message != ev2.Message {
		t.Errorf("evaluations disagree: %+v vs %+v", ev1, ev2)
	}
}

func TestPaceCooldown(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	coach.MilestoneAlerts = false
	coach.MotivationalFrequency = 0
	start := time.Now()
	h := NewHistory(start)

	ev := engine.Evaluate(sampleAt(start, 6*time.Minute, 600, 6.0), models.PhaseMain, coach, h)
	if ev == nil || ev.Type != models.EventPaceFeedback {
		t.Fatalf("expected pace feedback, got %v", ev)
	}

	// One minute later, still off pace: suppressed by the 90s cooldown.
	ev = engine.Evaluate(sampleAt(start, 7*time.Minute, 700, 6.0), models.PhaseMain, coach, h)
	if ev != nil {
		t.Fatalf("expected cooldown suppression, got %+v", ev)
	}

	// Past the cooldown the trigger may fire again.
	ev = engine.Evaluate(sampleAt(start, 8*time.Minute, 800, 6.0), models.PhaseMain, coach, h)
	if ev == nil || ev.Type != models.EventPaceFeedback {
		t.Fatalf("expected pace feedback after cooldown, got %v", ev)
	}
}

func TestPaceUrgencyScalesWithDeviation(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach() // threshold 0.5 min/km
	start := time.Now()

	cases := []struct {
		name string
		pace float64
		want models.Urgency
	}{
		{"just over threshold", 5.6, models.UrgencyNormal},
		{"over 1.5x threshold", 5.8, models.UrgencyEnergetic},
		{"over 2x threshold", 6.2, models.UrgencyUrgent},
		{"too fast counts too", 3.8, models.UrgencyUrgent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := engine.Evaluate(sampleAt(start, 6*time.Minute, 1500, tc.pace), models.PhaseMain, coach, NewHistory(start))
			if ev == nil {
				t.Fatal("expected pace event, got nil")
			}
			if ev.Urgency != tc.want {
				t.Errorf("pace %.1f: expected urgency %s, got %s", tc.pace, tc.want, ev.Urgency)
			}
		})
	}
}

func TestPaceSuppressedOutsideMainPhase(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	coach.MilestoneAlerts = false
	coach.MotivationalFrequency = 0
	start := time.Now()

	for _, phase := range []models.CoachingPhase{models.PhaseWarmup, models.PhaseCooldown} {
		ev := engine.Evaluate(sampleAt(start, time.Minute, 200, 7.0), phase, coach, NewHistory(start))
		if ev != nil {
			t.Errorf("phase %s: expected no pace feedback, got %+v", phase, ev)
		}
	}
}

func TestMilestonesFireOncePerIndex(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	coach.MotivationalFrequency = 0
	start := time.Now()
	h := NewHistory(start)

	// Dense sampling: four samples per 100m over a 10km run. Exactly one
	// milestone event per crossed kilometer regardless of density.
	var milestones int
	for step := 0; step <= 4000; step++ {
		distance := float64(step) * 2.5
		elapsed := time.Duration(step) * 750 * time.Millisecond
		ev := engine.Evaluate(sampleAt(start, elapsed, distance, 5.0), models.PhaseMain, coach, h)
		if ev == nil {
			continue
		}
		if ev.Type != models.EventMilestone {
			t.Fatalf("unexpected event type %s at distance %.0f", ev.Type, distance)
		}
		milestones++
	}
	if milestones != 10 {
		t.Errorf("expected exactly 10 milestone events, got %d", milestones)
	}
	if h.LastMilestone() != 10 {
		t.Errorf("expected last milestone index 10, got %d", h.LastMilestone())
	}
}

func TestMilestoneRespectsCoachToggle(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	coach.MilestoneAlerts = false
	coach.MotivationalFrequency = 0
	start := time.Now()

	ev := engine.Evaluate(sampleAt(start, 6*time.Minute, 1200, 5.0), models.PhaseMain, coach, NewHistory(start))
	if ev != nil {
		t.Fatalf("expected no milestone with alerts disabled, got %+v", ev)
	}
}

func TestMotivationCadence(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	coach.MilestoneAlerts = false
	start := time.Now()
	h := NewHistory(start)

	// Cadence counts from session start, so 4 minutes in is too early.
	ev := engine.Evaluate(sampleAt(start, 4*time.Minute, 800, 5.0), models.PhaseMain, coach, h)
	if ev != nil {
		t.Fatalf("expected no motivation before cadence elapses, got %+v", ev)
	}

	ev = engine.Evaluate(sampleAt(start, 5*time.Minute, 1000, 5.0), models.PhaseMain, coach, h)
	if ev == nil || ev.Type != models.EventMotivation {
		t.Fatalf("expected motivation at cadence, got %v", ev)
	}
	if ev.Urgency != models.UrgencyNormal {
		t.Errorf("encouragement level 3: expected normal urgency, got %s", ev.Urgency)
	}

	// The next one counts from the emission, not from session start.
	ev = engine.Evaluate(sampleAt(start, 8*time.Minute, 1600, 5.0), models.PhaseMain, coach, h)
	if ev != nil {
		t.Fatalf("expected no motivation 3 minutes after last, got %+v", ev)
	}
	ev = engine.Evaluate(sampleAt(start, 10*time.Minute, 2000, 5.0), models.PhaseMain, coach, h)
	if ev == nil || ev.Type != models.EventMotivation {
		t.Fatalf("expected motivation 5 minutes after last, got %v", ev)
	}
}

func TestMotivationUrgencyFollowsEncouragementLevel(t *testing.T) {
	engine := NewEngine(testConfig())
	start := time.Now()

	cases := []struct {
		level int
		want  models.Urgency
	}{
		{1, models.UrgencyCalm},
		{3, models.UrgencyNormal},
		{5, models.UrgencyEnergetic},
	}
	for _, tc := range cases {
		coach := testCoach()
		coach.MilestoneAlerts = false
		coach.EncouragementLevel = tc.level
		ev := engine.Evaluate(sampleAt(start, 6*time.Minute, 1100, 5.0), models.PhaseMain, coach, NewHistory(start))
		if ev == nil || ev.Type != models.EventMotivation {
			t.Fatalf("level %d: expected motivation, got %v", tc.level, ev)
		}
		if ev.Urgency != tc.want {
			t.Errorf("level %d: expected urgency %s, got %s", tc.level, tc.want, ev.Urgency)
		}
	}
}

func TestHeartRateZoneEscalation(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	coach.MilestoneAlerts = false
	coach.MotivationalFrequency = 0
	start := time.Now()
	h := NewHistory(start)

	hrSample := func(elapsed time.Duration, hr int) models.RunMetricsSample {
		s := sampleAt(start, elapsed, 500, 5.0)
		s.HeartRate = &hr
		return s
	}

	// 160/190 is zone 4.
	ev := engine.Evaluate(hrSample(6*time.Minute, 160), models.PhaseMain, coach, h)
	if ev == nil || ev.Type != models.EventHeartRateZone {
		t.Fatalf("expected heart rate event, got %v", ev)
	}
	if ev.Urgency != models.UrgencyEnergetic {
		t.Errorf("zone 4: expected energetic urgency, got %s", ev.Urgency)
	}

	// Staying in zone 4 does not re-announce.
	ev = engine.Evaluate(hrSample(9*time.Minute, 162), models.PhaseMain, coach, h)
	if ev != nil {
		t.Fatalf("expected no repeat announcement within zone, got %+v", ev)
	}

	// 175/190 crosses into zone 5.
	ev = engine.Evaluate(hrSample(12*time.Minute, 175), models.PhaseMain, coach, h)
	if ev == nil || ev.Type != models.EventHeartRateZone {
		t.Fatalf("expected zone 5 event, got %v", ev)
	}
	if ev.Urgency != models.UrgencyUrgent {
		t.Errorf("zone 5: expected urgent urgency, got %s", ev.Urgency)
	}
}

func TestHeartRateSuppressedDuringWarmup(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	coach.MilestoneAlerts = false
	coach.MotivationalFrequency = 0
	start := time.Now()

	hr := 175
	s := sampleAt(start, time.Minute, 200, 5.0)
	s.HeartRate = &hr
	if ev := engine.Evaluate(s, models.PhaseWarmup, coach, NewHistory(start)); ev != nil {
		t.Fatalf("expected no heart rate event during warmup, got %+v", ev)
	}
}

func TestPriorityOrderPaceBeforeMilestone(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	start := time.Now()
	h := NewHistory(start)

	// Off pace and crossing a milestone in the same sample: at most one
	// event, and pace wins.
	ev := engine.Evaluate(sampleAt(start, 6*time.Minute, 1050, 6.5), models.PhaseMain, coach, h)
	if ev == nil {
		t.Fatal("expected an event, got nil")
	}
	if ev.Type != models.EventPaceFeedback {
		t.Errorf("expected pace feedback to win priority, got %s", ev.Type)
	}

	// The milestone was not consumed; it fires on the next clean sample.
	ev = engine.Evaluate(sampleAt(start, 7*time.Minute, 1100, 5.0), models.PhaseMain, coach, h)
	if ev == nil || ev.Type != models.EventMilestone {
		t.Fatalf("expected deferred milestone, got %v", ev)
	}
}

func TestEvaluateInertWhenIdle(t *testing.T) {
	engine := NewEngine(testConfig())
	coach := testCoach()
	start := time.Now()

	ev := engine.Evaluate(sampleAt(start, 6*time.Minute, 1500, 7.0), models.PhaseIdle, coach, NewHistory(start))
	if ev != nil {
		t.Fatalf("expected no events while idle, got %+v", ev)
	}
}

func TestHeartRateZoneBands(t *testing.T) {
	cases := []struct {
		hr   int
		want int
	}{
		{100, 1},
		{115, 2},
		{135, 3},
		{155, 4},
		{172, 5},
	}
	for _, tc := range cases {
		if got := heartRateZone(tc.hr, 190); got != tc.want {
			t.Errorf("hr %d: expected zone %d, got %d", tc.hr, tc.want, got)
		}
	}
	if got := heartRateZone(150, 0); got != 0 {
		t.Errorf("expected zone 0 for unset max heart rate, got %d", got)
	}
}
