package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/strideloop/voicecoach/internal/cache"
	"github.com/strideloop/voicecoach/internal/coach"
	"github.com/strideloop/voicecoach/internal/models"
	"github.com/strideloop/voicecoach/internal/pipeline"
	"github.com/strideloop/voicecoach/internal/speech"
	"github.com/strideloop/voicecoach/internal/store"
)

// fakePipe records pipeline calls made by the coordinator.
type fakePipe struct {
	mu      sync.Mutex
	events  []models.CoachingEvent
	started bool
	stopped bool
	cancels int
}

func (f *fakePipe) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakePipe) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakePipe) Handle(event models.CoachingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePipe) CancelQueued() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakePipe) snapshot() []models.CoachingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CoachingEvent(nil), f.events...)
}

func (f *fakePipe) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func quietManager(t *testing.T) *coach.Manager {
	t.Helper()
	st := store.NewInMemoryStore()
	// Milestones and motivation off so only explicit triggers and phase
	// announcements reach the pipeline.
	c := models.CoachPersonality{
		ID:                   "alpha",
		Name:                 "Alpha",
		Voice:                models.VoiceSettings{VoiceID: "v1"},
		PaceWarningThreshold: 0.5,
		Enabled:              true,
	}
	if err := st.SaveCoachPersonality(c); err != nil {
		t.Fatalf("failed to seed coach: %v", err)
	}
	m, err := coach.NewManager(st)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func testCoordinator(t *testing.T) (*Coordinator, *fakePipe, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	pipe := &fakePipe{}
	cfg := models.SessionConfig{
		TargetPace:     5.0,
		TargetDistance: 10000,
		WarmupDuration: 2 * time.Minute,
	}
	c, err := NewCoordinator(cfg, quietManager(t), pipe, st)
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	return c, pipe, st
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

func waitPhase(t *testing.T, c *Coordinator, want models.CoachingPhase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.Phase() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s, still %s", want, c.Phase())
}

func waitEvents(t *testing.T, pipe *fakePipe, n int) []models.CoachingEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if evs := pipe.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(pipe.snapshot()))
	return nil
}

func TestSessionLifecycle(t *testing.T) {
	c, pipe, _ := testCoordinator(t)
	samples := make(chan models.RunMetricsSample)
	defer close(samples)

	if err := c.Stop(); !errors.Is(err, models.ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive before start, got %v", err)
	}

	if err := c.Start(context.Background(), samples); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := c.Phase(); got != models.PhaseWarmup {
		t.Errorf("expected warmup after start, got %s", got)
	}
	if !pipe.started {
		t.Error("expected pipeline started")
	}

	if err := c.Start(context.Background(), samples); !errors.Is(err, models.ErrSessionActive) {
		t.Errorf("expected ErrSessionActive on double start, got %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := c.Phase(); got != models.PhaseEnded {
		t.Errorf("expected ended after stop, got %s", got)
	}
	if !pipe.stopped {
		t.Error("expected pipeline stopped")
	}
	if err := c.Stop(); !errors.Is(err, models.ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive on double stop, got %v", err)
	}
}

func TestPhaseTransitionsAndAnnouncements(t *testing.T) {
	c, pipe, _ := testCoordinator(t)
	samples := make(chan models.RunMetricsSample)
	start := time.Now()

	if err := c.Start(context.Background(), samples); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer c.Stop()

	// Still inside the two minute warmup.
	samples <- sampleAt(start, time.Minute, 200, 5.0)
	if got := c.Phase(); got != models.PhaseWarmup {
		t.Errorf("expected warmup at 1 minute, got %s", got)
	}

	// Warmup elapsed: main phase, announced once.
	samples <- sampleAt(start, 2*time.Minute, 400, 5.0)
	waitPhase(t, c, models.PhaseMain)
	evs := waitEvents(t, pipe, 1)
	if evs[0].Type != models.EventTimeBased {
		t.Errorf("expected time-based phase announcement, got %s", evs[0].Type)
	}

	// A further main-phase sample does not re-announce.
	samples <- sampleAt(start, 3*time.Minute, 600, 5.0)
	samples <- sampleAt(start, 4*time.Minute, 800, 5.0)
	if evs := pipe.snapshot(); len(evs) != 1 {
		t.Fatalf("expected a single announcement, got %d events", len(evs))
	}

	// 90% of target distance: cooldown, announced once.
	samples <- sampleAt(start, 40*time.Minute, 9100, 5.0)
	waitPhase(t, c, models.PhaseCooldown)
	evs = waitEvents(t, pipe, 2)
	if evs[1].Type != models.EventTimeBased {
		t.Errorf("expected cooldown announcement, got %s", evs[1].Type)
	}
}

func TestTriggersFlowToPipeline(t *testing.T) {
	c, pipe, _ := testCoordinator(t)
	samples := make(chan models.RunMetricsSample)
	start := time.Now()

	if err := c.Start(context.Background(), samples); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer c.Stop()

	// Enter main phase, then go badly off pace.
	samples <- sampleAt(start, 2*time.Minute, 400, 5.0)
	waitPhase(t, c, models.PhaseMain)
	samples <- sampleAt(start, 3*time.Minute, 500, 6.5)

	evs := waitEvents(t, pipe, 2)
	var pace *models.CoachingEvent
	for i := range evs {
		if evs[i].Type == models.EventPaceFeedback {
			pace = &evs[i]
		}
	}
	if pace == nil {
		t.Fatalf("expected pace feedback among events, got %v", evs)
	}
	if pace.Urgency != models.UrgencyUrgent {
		t.Errorf("expected urgent pace feedback for 1.5 min/km deviation, got %s", pace.Urgency)
	}
	if pace.CoachID != "alpha" {
		t.Errorf("expected event attributed to selected coach, got %s", pace.CoachID)
	}
}

func TestPauseSkipsSamplesAndCancelsQueue(t *testing.T) {
	c, pipe, _ := testCoordinator(t)
	samples := make(chan models.RunMetricsSample)
	start := time.Now()

	if err := c.Pause(); !errors.Is(err, models.ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive before start, got %v", err)
	}

	if err := c.Start(context.Background(), samples); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer c.Stop()

	samples <- sampleAt(start, 2*time.Minute, 400, 5.0)
	waitPhase(t, c, models.PhaseMain)
	base := len(waitEvents(t, pipe, 1))

	if err := c.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !c.Paused() {
		t.Error("expected paused state")
	}
	if pipe.cancelCount() != 1 {
		t.Errorf("expected queued events cancelled on pause, got %d cancels", pipe.cancelCount())
	}

	// Off-pace samples while paused produce nothing.
	samples <- sampleAt(start, 3*time.Minute, 500, 7.0)
	samples <- sampleAt(start, 4*time.Minute, 600, 7.0)
	if got := len(pipe.snapshot()); got != base {
		t.Fatalf("expected no events while paused, got %d new", got-base)
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	samples <- sampleAt(start, 5*time.Minute, 700, 7.0)
	evs := waitEvents(t, pipe, base+1)
	if evs[len(evs)-1].Type != models.EventPaceFeedback {
		t.Errorf("expected pace feedback after resume, got %s", evs[len(evs)-1].Type)
	}
}

func TestStopFlushesLifetimeStats(t *testing.T) {
	c, _, st := testCoordinator(t)
	samples := make(chan models.RunMetricsSample)

	if err := c.Start(context.Background(), samples); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	c.Recorder().TriggerProcessed()
	c.Recorder().TriggerProcessed()
	c.Recorder().GenerationFailed()

	if err := c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	stats := c.Stats()
	if stats.SessionsStarted != 1 || stats.SessionsCompleted != 1 {
		t.Errorf("expected 1 started / 1 completed, got %d / %d", stats.SessionsStarted, stats.SessionsCompleted)
	}
	if stats.TotalTriggersProcessed != 2 || stats.ErrorCount != 1 {
		t.Errorf("expected 2 processed / 1 error, got %d / %d", stats.TotalTriggersProcessed, stats.ErrorCount)
	}

	lifetime, err := st.GetLifetimeStats()
	if err != nil {
		t.Fatalf("lifetime stats failed: %v", err)
	}
	if lifetime.TotalTriggersProcessed != 2 || lifetime.ErrorCount != 1 {
		t.Errorf("expected session flushed to lifetime stats, got %+v", lifetime)
	}

	// A fresh session starts from zeroed session counters.
	samples2 := make(chan models.RunMetricsSample)
	if err := c.Start(context.Background(), samples2); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if got := c.Stats().TotalTriggersProcessed; got != 0 {
		t.Errorf("expected reset session stats, got %d", got)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

// deadSynth fails every synthesis attempt.
type deadSynth struct{}

func (deadSynth) GenerateAudio(ctx context.Context, text string, voice models.VoiceSettings) (string, error) {
	return "", errors.New("synthesis backend offline")
}

// countPlayer counts playback calls.
type countPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *countPlayer) PlayAudio(ctx context.Context, filePath string, volume float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func (p *countPlayer) StopCurrentAudio() {}

func (p *countPlayer) IsPlayingAudio() bool { return false }

func (p *countPlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

// A full session over a real pipeline whose backend fails every synthesis:
// the run degrades to silence, every failure is accounted, and the session
// still completes cleanly.
func TestSessionWithFailingBackendDegradesToSilence(t *testing.T) {
	st := store.NewInMemoryStore()
	cm := quietManager(t)
	rec := NewRecorder()
	player := &countPlayer{}
	pipe := pipeline.New(cache.New(st), cm, speech.NewService(deadSynth{}, player), rec)

	cfg := models.SessionConfig{
		TargetPace:     5.0,
		TargetDistance: 10000,
		WarmupDuration: 2 * time.Minute,
	}
	c, err := NewCoordinatorWithRecorder(cfg, cm, pipe, st, rec)
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}

	samples := make(chan models.RunMetricsSample)
	start := time.Now()
	if err := c.Start(context.Background(), samples); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Warmup end announces the main phase, then a badly off-pace sample
	// triggers pace feedback. Both events hit the dead backend.
	samples <- sampleAt(start, 2*time.Minute, 400, 5.0)
	waitPhase(t, c, models.PhaseMain)
	samples <- sampleAt(start, 3*time.Minute, 500, 6.5)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rec.Snapshot().TotalTriggersProcessed >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	stats := c.Stats()
	if stats.TotalTriggersProcessed < 2 {
		t.Fatalf("expected at least 2 triggers processed, got %d", stats.TotalTriggersProcessed)
	}
	if stats.ErrorCount != stats.TotalTriggersProcessed {
		t.Errorf("expected every trigger counted as failed, got %d errors for %d processed",
			stats.ErrorCount, stats.TotalTriggersProcessed)
	}
	if stats.SessionsStarted != 1 || stats.SessionsCompleted != 1 {
		t.Errorf("expected 1 started / 1 completed, got %d / %d", stats.SessionsStarted, stats.SessionsCompleted)
	}
	if got := player.playCount(); got != 0 {
		t.Errorf("expected silence, got %d playback calls", got)
	}
}

func TestClosedStreamEndsConsumption(t *testing.T) {
	c, pipe, _ := testCoordinator(t)
	samples := make(chan models.RunMetricsSample)
	start := time.Now()

	if err := c.Start(context.Background(), samples); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	samples <- sampleAt(start, time.Minute, 200, 5.0)
	close(samples)

	// The consumer exits; Stop still works and ends the session.
	if err := c.Stop(); err != nil {
		t.Fatalf("stop after closed stream failed: %v", err)
	}
	if got := c.Phase(); got != models.PhaseEnded {
		t.Errorf("expected ended phase, got %s", got)
	}
	_ = pipe
}
