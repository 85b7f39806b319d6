package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/strideloop/voicecoach/internal/coach"
	"github.com/strideloop/voicecoach/internal/metrics"
	"github.com/strideloop/voicecoach/internal/models"
	"github.com/strideloop/voicecoach/internal/store"
	"github.com/strideloop/voicecoach/internal/trigger"
)

// EventPipeline is the slice of the playback pipeline the coordinator drives.
type EventPipeline interface {
	Start(ctx context.Context)
	Stop()
	Handle(event models.CoachingEvent) error
	CancelQueued()
}

// Coordinator owns one coaching session at a time: the phase state machine,
// the pause flag, and the single consumer goroutine that reads the metrics
// stream in arrival order.
type Coordinator struct {
	cfg      models.SessionConfig
	coaches  *coach.Manager
	pipeline EventPipeline
	store    store.Store
	engine   *trigger.Engine
	recorder *Recorder

	mu        sync.Mutex
	phase     models.CoachingPhase
	paused    bool
	sessionID string
	history   *trigger.History
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewCoordinator creates a coordinator for the given session configuration.
func NewCoordinator(cfg models.SessionConfig, cm *coach.Manager, pipe EventPipeline, st store.Store) (*Coordinator, error) {
	return NewCoordinatorWithRecorder(cfg, cm, pipe, st, NewRecorder())
}

// NewCoordinatorWithRecorder creates a coordinator sharing a recorder already
// wired into the pipeline as its stats sink.
func NewCoordinatorWithRecorder(cfg models.SessionConfig, cm *coach.Manager, pipe EventPipeline, st store.Store, rec *Recorder) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	cfg.ApplyDefaults()
	return &Coordinator{
		cfg:      cfg,
		coaches:  cm,
		pipeline: pipe,
		store:    st,
		engine:   trigger.NewEngine(cfg),
		recorder: rec,
		phase:    models.PhaseIdle,
	}, nil
}

// Start begins a session: stats are reset, the phase moves to warmup, the
// pipeline is started, and the consumer goroutine subscribes to the metrics
// stream.
func (c *Coordinator) Start(ctx context.Context, samples <-chan models.RunMetricsSample) error {
	c.mu.Lock()
	switch c.phase {
	case models.PhaseWarmup, models.PhaseMain, models.PhaseCooldown:
		c.mu.Unlock()
		return models.ErrSessionActive
	}
	c.sessionID = uuid.NewString()
	c.phase = models.PhaseWarmup
	c.paused = false
	c.history = nil
	c.recorder.Reset()
	c.recorder.SessionStarted()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.pipeline.Start(runCtx)
	metrics.SessionsActive.Set(1)
	slog.Info("Coaching session started", "sessionID", c.sessionID,
		"target_pace", c.cfg.TargetPace, "target_distance", c.cfg.TargetDistance)

	c.wg.Add(1)
	go c.consume(runCtx, samples)
	return nil
}

// Pause halts trigger evaluation and cancels queued, not-yet-playing events.
// The cache is untouched.
func (c *Coordinator) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() {
		return models.ErrSessionNotActive
	}
	if c.paused {
		return nil
	}
	c.paused = true
	c.pipeline.CancelQueued()
	slog.Info("Coaching session paused", "sessionID", c.sessionID)
	return nil
}

// Resume re-enables trigger evaluation on the metrics stream.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() {
		return models.ErrSessionNotActive
	}
	c.paused = false
	slog.Info("Coaching session resumed", "sessionID", c.sessionID)
	return nil
}

// Stop ends the session: queued work is cancelled, playback stops, final
// stats are flushed to the lifetime record, and the phase becomes ENDED. The
// coordinator is inert until the next Start.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.activeLocked() {
		c.mu.Unlock()
		return models.ErrSessionNotActive
	}
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	c.pipeline.Stop()

	c.mu.Lock()
	c.phase = models.PhaseEnded
	c.recorder.SessionCompleted()
	final := c.recorder.Snapshot()
	sessionID := c.sessionID
	c.mu.Unlock()

	if err := c.store.AddLifetimeStats(final); err != nil {
		slog.Error("Failed to flush session stats", "error", err, "sessionID", sessionID)
	}
	metrics.SessionsActive.Set(0)
	slog.Info("Coaching session stopped", "sessionID", sessionID,
		"triggers", final.TotalTriggersProcessed, "errors", final.ErrorCount)
	return nil
}

// Phase returns the current coaching phase.
func (c *Coordinator) Phase() models.CoachingPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Paused reports whether the session is paused.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stats returns a snapshot of the session-scoped statistics.
func (c *Coordinator) Stats() models.CoachingStats {
	return c.recorder.Snapshot()
}

// Recorder exposes the stats sink for pipeline wiring.
func (c *Coordinator) Recorder() *Recorder {
	return c.recorder
}

// LifetimeStats returns the persisted all-time statistics.
func (c *Coordinator) LifetimeStats() (models.CoachingStats, error) {
	return c.store.GetLifetimeStats()
}

func (c *Coordinator) activeLocked() bool {
	switch c.phase {
	case models.PhaseWarmup, models.PhaseMain, models.PhaseCooldown:
		return c.cancel != nil
	default:
		return false
	}
}

// consume is the single logical consumer: samples are processed one at a
// time in arrival order, so triggers are evaluated in temporal order and the
// rate-limit history is never corrupted by reordering.
func (c *Coordinator) consume(ctx context.Context, samples <-chan models.RunMetricsSample) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				slog.Debug("Metrics stream closed", "sessionID", c.sessionID)
				return
			}
			c.handleSample(sample)
		}
	}
}

func (c *Coordinator) handleSample(sample models.RunMetricsSample) {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return
	}
	if c.history == nil {
		// Anchor cadence clocks to the first sample of the session.
		c.history = trigger.NewHistory(sample.Timestamp)
	}
	next := c.nextPhaseLocked(sample)
	changed := next != c.phase
	if changed {
		c.phase = next
	}
	history := c.history
	c.mu.Unlock()

	cur, err := c.coaches.Current()
	if err != nil {
		// No coach selected: keep tracking phase, stay silent.
		return
	}

	if changed {
		c.announcePhase(next, cur, sample.Timestamp)
	}

	if ev := c.engine.Evaluate(sample, next, cur, history); ev != nil {
		if err := c.pipeline.Handle(*ev); err != nil {
			slog.Error("Failed to enqueue coaching event", "error", err, "type", ev.Type)
		}
	}
}

// nextPhaseLocked advances the phase machine from elapsed time and distance.
// Caller holds c.mu. Returns the (possibly unchanged) phase.
func (c *Coordinator) nextPhaseLocked(sample models.RunMetricsSample) models.CoachingPhase {
	switch c.phase {
	case models.PhaseWarmup:
		if sample.Elapsed >= c.cfg.WarmupDuration {
			slog.Info("Phase transition", "from", models.PhaseWarmup, "to", models.PhaseMain)
			return models.PhaseMain
		}
	case models.PhaseMain:
		if sample.Distance >= c.cfg.CooldownFraction*c.cfg.TargetDistance {
			slog.Info("Phase transition", "from", models.PhaseMain, "to", models.PhaseCooldown)
			return models.PhaseCooldown
		}
	}
	return c.phase
}

// announcePhase emits a time-based announcement for a phase transition.
func (c *Coordinator) announcePhase(phase models.CoachingPhase, cur models.CoachPersonality, at time.Time) {
	ev := models.CoachingEvent{
		ID:        uuid.NewString(),
		Type:      models.EventTimeBased,
		Urgency:   models.UrgencyNormal,
		Message:   trigger.PhaseMessage(phase),
		CoachID:   cur.ID,
		Timestamp: at,
	}
	if err := c.pipeline.Handle(ev); err != nil {
		slog.Error("Failed to enqueue phase announcement", "error", err, "phase", phase)
	}
}
