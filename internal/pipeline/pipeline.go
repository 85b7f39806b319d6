// Package pipeline turns pending coaching events into audio on the speaker.
//
// Events are queued on a small bounded queue and consumed by a single worker,
// so playback is strictly serialized and a slow synthesis call never blocks
// telemetry ingestion. Urgent events interrupt the current segment; everything
// else waits its turn. Generation failures degrade to silence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/strideloop/voicecoach/internal/cache"
	"github.com/strideloop/voicecoach/internal/coach"
	"github.com/strideloop/voicecoach/internal/metrics"
	"github.com/strideloop/voicecoach/internal/models"
	"github.com/strideloop/voicecoach/internal/speech"
)

// Defaults for pipeline configuration.
const (
	DefaultQueueDepth       = 4
	DefaultGenerationBudget = 15 * time.Second
	DefaultPlaybackVolume   = 1.0
)

// StatsSink receives per-event accounting from the pipeline.
type StatsSink interface {
	// TriggerProcessed is called once per event that reaches generation.
	TriggerProcessed()
	// GenerationFailed is called when synthesis fails or exceeds its budget.
	GenerationFailed()
}

// Composer optionally rewrites a template line in the coach's persona before
// synthesis.
type Composer interface {
	Compose(ctx context.Context, event models.CoachingEvent, coach models.CoachPersonality) (string, error)
}

// Opts holds configuration options for the pipeline.
type Opts struct {
	QueueDepth       int
	InterruptAt      models.Urgency
	GenerationBudget time.Duration
	Composer         Composer
	Ducker           speech.Ducker
}

// Option configures pipeline options.
type Option func(*Opts)

// WithQueueDepth bounds the number of queued, not-yet-played events.
func WithQueueDepth(n int) Option {
	return func(o *Opts) { o.QueueDepth = n }
}

// WithInterruptAt sets the urgency at or above which an event interrupts the
// currently playing segment instead of queueing behind it.
func WithInterruptAt(u models.Urgency) Option {
	return func(o *Opts) { o.InterruptAt = u }
}

// WithGenerationBudget bounds how long the pipeline waits for the speech
// backend before falling back to silence.
func WithGenerationBudget(d time.Duration) Option {
	return func(o *Opts) { o.GenerationBudget = d }
}

// WithComposer enables GenAI line composition.
func WithComposer(c Composer) Option {
	return func(o *Opts) { o.Composer = c }
}

// WithDucker sets the media ducking hook.
func WithDucker(d speech.Ducker) Option {
	return func(o *Opts) { o.Ducker = d }
}

// queuedEvent pairs an event with the coach generation it was issued under.
type queuedEvent struct {
	event      models.CoachingEvent
	generation uint64
}

// Pipeline serializes generation and playback of coaching events.
type Pipeline struct {
	cache   *cache.Cache
	coaches *coach.Manager
	backend speech.Backend
	stats   StatsSink

	queueDepth  int
	interruptAt models.Urgency
	budget      time.Duration
	composer    Composer
	ducker      speech.Ducker

	mu         sync.Mutex
	queue      []queuedEvent
	playCancel context.CancelFunc

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline over the given collaborators.
func New(c *cache.Cache, cm *coach.Manager, backend speech.Backend, stats StatsSink, opts ...Option) *Pipeline {
	cfg := Opts{
		QueueDepth:       DefaultQueueDepth,
		InterruptAt:      models.UrgencyUrgent,
		GenerationBudget: DefaultGenerationBudget,
		Ducker:           speech.NopDucker{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline{
		cache:       c,
		coaches:     cm,
		backend:     backend,
		stats:       stats,
		queueDepth:  cfg.QueueDepth,
		interruptAt: cfg.InterruptAt,
		budget:      cfg.GenerationBudget,
		composer:    cfg.Composer,
		ducker:      cfg.Ducker,
		wake:        make(chan struct{}, 1),
	}
}

// Start launches the worker. Events handled before Start are queued and
// processed once the worker runs.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run()
	slog.Debug("Pipeline started", "queue_depth", p.queueDepth, "budget", p.budget)
}

// Stop cancels queued events, stops the current playback, and waits for the
// worker to exit.
func (p *Pipeline) Stop() {
	if p.cancel == nil {
		return
	}
	p.CancelQueued()
	p.cancel()
	p.backend.StopCurrentAudio()
	p.wg.Wait()
	slog.Debug("Pipeline stopped")
}

// Handle accepts a pending coaching event. Fire-and-forget: the caller is
// never blocked by synthesis or playback.
func (p *Pipeline) Handle(event models.CoachingEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("rejecting invalid event: %w", err)
	}
	item := queuedEvent{event: event, generation: p.coaches.Generation()}

	p.mu.Lock()
	interrupt := event.Urgency.AtLeast(p.interruptAt)
	if interrupt {
		// Urgent events jump the queue and cut the current segment short.
		p.queue = append([]queuedEvent{item}, p.queue...)
		if p.playCancel != nil {
			p.playCancel()
			p.backend.StopCurrentAudio()
			metrics.PlaybackInterrupts.Inc()
		}
	} else {
		p.queue = append(p.queue, item)
	}
	if len(p.queue) > p.queueDepth {
		p.dropOldestLocked()
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	metrics.TriggersTotal.WithLabelValues(string(event.Type)).Inc()
	return nil
}

// dropOldestLocked removes the oldest non-urgent queued event. If every
// queued event is urgent the newest is dropped instead. Caller holds p.mu.
func (p *Pipeline) dropOldestLocked() {
	for i, item := range p.queue {
		if !item.event.Urgency.AtLeast(p.interruptAt) {
			slog.Debug("Playback queue full, dropping oldest event", "type", item.event.Type)
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			metrics.TriggersDropped.WithLabelValues("queue_full").Inc()
			return
		}
	}
	slog.Debug("Playback queue full of urgent events, dropping newest")
	p.queue = p.queue[:len(p.queue)-1]
	metrics.TriggersDropped.WithLabelValues("queue_full").Inc()
}

// CancelQueued discards all queued, not-yet-started events. The currently
// playing segment is unaffected.
func (p *Pipeline) CancelQueued() {
	p.mu.Lock()
	n := len(p.queue)
	p.queue = nil
	p.mu.Unlock()
	if n > 0 {
		slog.Debug("Cancelled queued events", "count", n)
		for i := 0; i < n; i++ {
			metrics.TriggersDropped.WithLabelValues("cancelled").Inc()
		}
	}
}

// QueueLen returns the number of queued, not-yet-started events.
func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
		for {
			item, ok := p.pop()
			if !ok {
				break
			}
			p.process(item, false)
			if p.ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *Pipeline) pop() (queuedEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return queuedEvent{}, false
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	return item, true
}

// process runs one event through composition, cache, generation, and
// playback. retried guards the single regeneration attempt after a backing
// file vanished mid-flight.
func (p *Pipeline) process(item queuedEvent, retried bool) {
	event := item.event

	// Stale check: a coach switch after enqueue discards the event.
	if item.generation != p.coaches.Generation() {
		slog.Debug("Discarding stale event", "type", event.Type, "coachID", event.CoachID)
		metrics.TriggersDropped.WithLabelValues("stale").Inc()
		return
	}
	current, err := p.coaches.Current()
	if err != nil || current.ID != event.CoachID {
		slog.Debug("Discarding event for non-selected coach", "coachID", event.CoachID)
		metrics.TriggersDropped.WithLabelValues("stale").Inc()
		return
	}

	if !retried {
		p.stats.TriggerProcessed()
	}

	text := event.Message
	if p.composer != nil {
		composeCtx, cancel := context.WithTimeout(p.ctx, p.budget)
		composed, err := p.composer.Compose(composeCtx, event, current)
		cancel()
		if err != nil {
			slog.Debug("Composition failed, using template line", "error", err)
		} else {
			text = composed
		}
	}

	key := cache.Key(text, current.ID, event.Urgency)
	line, err := p.cache.Get(key)
	if err != nil {
		slog.Error("Cache lookup failed, treating as miss", "error", err, "cacheKey", key)
	}

	if line == nil {
		line = p.generate(key, text, event, current)
		if line == nil {
			return // degraded to silence
		}
	}

	// The generation window may have included a coach switch; never play a
	// result issued under a previous coach.
	if item.generation != p.coaches.Generation() {
		slog.Debug("Discarding stale generation result", "type", event.Type, "coachID", event.CoachID)
		metrics.TriggersDropped.WithLabelValues("stale").Inc()
		return
	}

	p.play(item, line, retried)
}

// generate synthesizes a new voice line within the generation budget and
// records it in the cache. Returns nil on failure (playback suppressed).
func (p *Pipeline) generate(key, text string, event models.CoachingEvent, current models.CoachPersonality) *models.VoiceLine {
	genCtx, cancel := context.WithTimeout(p.ctx, p.budget)
	defer cancel()

	voice := speech.SettingsForUrgency(current.Voice, event.Urgency)
	start := time.Now()
	var path string
	var err error
	if ss, ok := p.backend.(speech.StreamSynthesizer); ok && event.Urgency.AtLeast(p.interruptAt) {
		// Urgent lines take the streaming endpoint for a faster first byte.
		path, err = ss.GenerateAudioStream(genCtx, text, voice)
	} else {
		path, err = p.backend.GenerateAudio(genCtx, text, voice)
	}
	latency := time.Since(start)

	if err != nil {
		slog.Warn("Speech generation failed, suppressing playback",
			"error", err, "type", event.Type, "coachID", current.ID, "latency", latency)
		p.stats.GenerationFailed()
		metrics.GenerationErrors.Inc()
		if recErr := p.coaches.RecordOutcome(current.ID, latency, false); recErr != nil {
			slog.Error("Failed to record generation outcome", "error", recErr)
		}
		return nil
	}

	metrics.GenerationDuration.Observe(latency.Seconds())
	if recErr := p.coaches.RecordOutcome(current.ID, latency, true); recErr != nil {
		slog.Error("Failed to record generation outcome", "error", recErr)
	}

	line := models.VoiceLine{
		CacheKey: key,
		CoachID:  current.ID,
		Text:     text,
		Urgency:  event.Urgency,
		FilePath: path,
		Category: event.Type,
		Priority: urgencyPriority(event.Urgency),
	}
	if err := p.cache.Put(line); err != nil {
		// Playback can still proceed from the fresh file.
		slog.Error("Failed to cache voice line", "error", err, "cacheKey", key)
	}
	return &line
}

// play serializes playback with ducking. A vanished backing file is treated
// as a cache miss and regenerated once.
func (p *Pipeline) play(item queuedEvent, line *models.VoiceLine, retried bool) {
	playCtx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.playCancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.playCancel = nil
		p.mu.Unlock()
		cancel()
	}()

	restore, err := p.ducker.Duck()
	if err != nil {
		slog.Warn("Failed to duck media volume", "error", err)
		restore = func() {}
	}
	defer restore()

	metrics.PlaybackActive.Set(1)
	defer metrics.PlaybackActive.Set(0)

	if err := p.backend.PlayAudio(playCtx, line.FilePath, DefaultPlaybackVolume); err != nil {
		if _, statErr := os.Stat(line.FilePath); statErr != nil && !retried {
			slog.Warn("Backing file vanished during playback, regenerating", "cacheKey", line.CacheKey)
			_, _ = p.cache.Get(line.CacheKey) // purges the invalid entry
			p.process(item, true)
			return
		}
		slog.Error("Playback failed", "error", err, "path", line.FilePath)
	}
}

func urgencyPriority(u models.Urgency) int {
	switch u {
	case models.UrgencyUrgent:
		return 3
	case models.UrgencyEnergetic:
		return 2
	case models.UrgencyNormal:
		return 1
	default:
		return 0
	}
}
