// Package models defines the core data structures for voicecoach.
//
// It includes types for run telemetry samples, coaching events, coach
// personalities, cached voice lines, and session statistics, which are shared
// across modules.
package models

import (
	"errors"
	"time"
)

// CoachingPhase represents the coarse segment of a run session.
type CoachingPhase string

const (
	// PhaseIdle indicates no session is running.
	PhaseIdle CoachingPhase = "idle"
	// PhaseWarmup indicates the opening segment of a session.
	PhaseWarmup CoachingPhase = "warmup"
	// PhaseMain indicates the main working segment of a session.
	PhaseMain CoachingPhase = "main"
	// PhaseCooldown indicates the closing segment of a session.
	PhaseCooldown CoachingPhase = "cooldown"
	// PhaseEnded indicates the session has been stopped.
	PhaseEnded CoachingPhase = "ended"
)

// IsValidPhase checks if the given coaching phase is supported.
func IsValidPhase(p CoachingPhase) bool {
	switch p {
	case PhaseIdle, PhaseWarmup, PhaseMain, PhaseCooldown, PhaseEnded:
		return true
	default:
		return false
	}
}

// EventType defines the kind of coaching event emitted by the trigger engine.
type EventType string

const (
	// EventPaceFeedback is emitted when current pace deviates from target.
	EventPaceFeedback EventType = "pace_feedback"
	// EventMilestone is emitted when a distance milestone is crossed.
	EventMilestone EventType = "milestone"
	// EventTimeBased is emitted for elapsed-time announcements such as phase changes.
	EventTimeBased EventType = "time_based"
	// EventHeartRateZone is emitted when heart rate enters a higher zone.
	EventHeartRateZone EventType = "heart_rate_zone"
	// EventMotivation is emitted on the coach's motivational cadence.
	EventMotivation EventType = "motivation"
)

// IsValidEventType checks if the given event type is supported.
func IsValidEventType(t EventType) bool {
	switch t {
	case EventPaceFeedback, EventMilestone, EventTimeBased, EventHeartRateZone, EventMotivation:
		return true
	default:
		return false
	}
}

// Urgency expresses how forcefully a coaching event should be delivered.
type Urgency string

const (
	UrgencyCalm      Urgency = "calm"
	UrgencyNormal    Urgency = "normal"
	UrgencyEnergetic Urgency = "energetic"
	UrgencyUrgent    Urgency = "urgent"
)

// urgencyRank orders urgency levels for comparison.
var urgencyRank = map[Urgency]int{
	UrgencyCalm:      0,
	UrgencyNormal:    1,
	UrgencyEnergetic: 2,
	UrgencyUrgent:    3,
}

// IsValidUrgency checks if the given urgency level is supported.
func IsValidUrgency(u Urgency) bool {
	_, ok := urgencyRank[u]
	return ok
}

// AtLeast reports whether u is at least as urgent as other.
func (u Urgency) AtLeast(other Urgency) bool {
	return urgencyRank[u] >= urgencyRank[other]
}

// Validation constants
const (
	// MaxMessageLength defines the maximum allowed length for a coaching line.
	MaxMessageLength = 512
	// MaxCoachNameLength defines the maximum allowed length for a coach display name.
	MaxCoachNameLength = 100
)

// Error variables for better error handling and testability
var (
	ErrUnknownCoach      = errors.New("coach id unknown")
	ErrCoachDisabled     = errors.New("coach is disabled")
	ErrNoCoachSelected   = errors.New("no coach selected")
	ErrEmptyCoachID      = errors.New("coach id cannot be empty")
	ErrEmptyVoiceID      = errors.New("voice id cannot be empty")
	ErrCoachNameTooLong  = errors.New("coach name exceeds maximum length")
	ErrEmptyMessage      = errors.New("event message cannot be empty")
	ErrMessageTooLong    = errors.New("event message exceeds maximum length")
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrInvalidUrgency    = errors.New("invalid urgency level")
	ErrInvalidTargetPace = errors.New("target pace must be positive")
	ErrInvalidDistance   = errors.New("target distance must be positive")
	ErrSessionActive     = errors.New("session already active")
	ErrSessionNotActive  = errors.New("no active session")
	ErrSessionEnded      = errors.New("session has ended")
	ErrCacheEntryInvalid = errors.New("cache entry backing file is missing")
	ErrGenerationTimeout = errors.New("speech generation exceeded budget")
	ErrStaleResult       = errors.New("generation result is stale")
	ErrPlaybackQueueFull = errors.New("playback queue is full")
	ErrEmptyCacheKey     = errors.New("cache key cannot be empty")
	ErrEmptyFilePath     = errors.New("file path cannot be empty")
	ErrNegativeFileSize  = errors.New("file size cannot be negative")
)

// RunMetricsSample is one immutable telemetry reading from the run tracker.
// Samples are produced externally, consumed in arrival order, and discarded.
type RunMetricsSample struct {
	Distance      float64       `json:"distance_meters"`
	Elapsed       time.Duration `json:"elapsed"`
	CurrentPace   float64       `json:"current_pace_min_per_km"`
	AveragePace   float64       `json:"average_pace_min_per_km"`
	HeartRate     *int          `json:"heart_rate,omitempty"`
	ElevationGain float64       `json:"elevation_gain_meters"`
	Timestamp     time.Time     `json:"timestamp"`
}

// VoiceSettings holds the synthesis parameters for a coach's voice.
type VoiceSettings struct {
	VoiceID         string  `json:"voice_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"speaker_boost"`
}

// CoachPersonality is the long-lived configuration entity for one coach.
type CoachPersonality struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Voice                 VoiceSettings `json:"voice"`
	MotivationalFrequency time.Duration `json:"motivational_frequency"`
	PaceWarningThreshold  float64       `json:"pace_warning_threshold"` // min/km deviation
	MilestoneAlerts       bool          `json:"milestone_alerts"`
	FormReminders         bool          `json:"form_reminders"`
	EncouragementLevel    int           `json:"encouragement_level"` // 1..5
	Enabled               bool          `json:"enabled"`
	IsSelected            bool          `json:"is_selected"`
	TotalUses             int64         `json:"total_uses"`
	LastUsedAt            *time.Time    `json:"last_used_at,omitempty"`
	AvgLatencyMs          float64       `json:"avg_latency_ms"`
	SuccessRate           float64       `json:"success_rate"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Validate performs validation on a CoachPersonality.
func (c *CoachPersonality) Validate() error {
	if c.ID == "" {
		return ErrEmptyCoachID
	}
	if len(c.Name) > MaxCoachNameLength {
		return ErrCoachNameTooLong
	}
	if c.Voice.VoiceID == "" {
		return ErrEmptyVoiceID
	}
	return nil
}

// VoiceLine is one cached synthesized audio artifact, keyed by a content
// fingerprint of (text, coach id, urgency, cache version).
type VoiceLine struct {
	CacheKey   string        `json:"cache_key"`
	CoachID    string        `json:"coach_id"`
	Text       string        `json:"text"`
	Urgency    Urgency       `json:"urgency"`
	FilePath   string        `json:"file_path"`
	FileSize   int64         `json:"file_size"`
	Duration   time.Duration `json:"duration"`
	Checksum   string        `json:"checksum"`
	Category   EventType     `json:"category"`
	Priority   int           `json:"priority"`
	CreatedAt  time.Time     `json:"created_at"`
	LastUsedAt time.Time     `json:"last_used_at"`
	UseCount   int64         `json:"use_count"`
	LastError  string        `json:"last_error,omitempty"`
}

// Validate performs validation on a VoiceLine.
func (v *VoiceLine) Validate() error {
	if v.CacheKey == "" {
		return ErrEmptyCacheKey
	}
	if v.CoachID == "" {
		return ErrEmptyCoachID
	}
	if v.FilePath == "" {
		return ErrEmptyFilePath
	}
	if v.FileSize < 0 {
		return ErrNegativeFileSize
	}
	return nil
}

// CoachingEvent is an ephemeral decision to speak. It exists only for the
// duration of one generation and playback cycle and is never persisted.
type CoachingEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Urgency   Urgency   `json:"urgency"`
	Message   string    `json:"message"`
	CoachID   string    `json:"coach_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate performs validation on a CoachingEvent.
func (e *CoachingEvent) Validate() error {
	if !IsValidEventType(e.Type) {
		return ErrInvalidEventType
	}
	if !IsValidUrgency(e.Urgency) {
		return ErrInvalidUrgency
	}
	if e.Message == "" {
		return ErrEmptyMessage
	}
	if len(e.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if e.CoachID == "" {
		return ErrEmptyCoachID
	}
	return nil
}

// CoachingStats is the session-scoped aggregate exposed read-only to callers.
type CoachingStats struct {
	SessionsStarted        int64   `json:"sessions_started"`
	SessionsCompleted      int64   `json:"sessions_completed"`
	TotalTriggersProcessed int64   `json:"total_triggers_processed"`
	ErrorCount             int64   `json:"error_count"`
	SuccessRate            float64 `json:"success_rate"`
}

// SessionConfig carries the per-session targets and thresholds that drive
// phase transitions and trigger evaluation.
type SessionConfig struct {
	TargetPace        float64       `json:"target_pace_min_per_km"`
	TargetDistance    float64       `json:"target_distance_meters"`
	WarmupDuration    time.Duration `json:"warmup_duration"`
	CooldownFraction  float64       `json:"cooldown_fraction"` // fraction of target distance at which cooldown starts
	MilestoneInterval float64       `json:"milestone_interval_meters"`
	MaxHeartRate      int           `json:"max_heart_rate"`
	TriggerCooldown   time.Duration `json:"trigger_cooldown"`
}

// Default session configuration values.
const (
	DefaultWarmupDuration    = 5 * time.Minute
	DefaultCooldownFraction  = 0.9
	DefaultMilestoneInterval = 1000.0
	DefaultMaxHeartRate      = 190
	DefaultTriggerCooldown   = 90 * time.Second
)

// ApplyDefaults fills zero-valued optional fields with defaults.
func (c *SessionConfig) ApplyDefaults() {
	if c.WarmupDuration == 0 {
		c.WarmupDuration = DefaultWarmupDuration
	}
	if c.CooldownFraction == 0 {
		c.CooldownFraction = DefaultCooldownFraction
	}
	if c.MilestoneInterval == 0 {
		c.MilestoneInterval = DefaultMilestoneInterval
	}
	if c.MaxHeartRate == 0 {
		c.MaxHeartRate = DefaultMaxHeartRate
	}
	if c.TriggerCooldown == 0 {
		c.TriggerCooldown = DefaultTriggerCooldown
	}
}

// Validate performs validation on a SessionConfig.
func (c *SessionConfig) Validate() error {
	if c.TargetPace <= 0 {
		return ErrInvalidTargetPace
	}
	if c.TargetDistance <= 0 {
		return ErrInvalidDistance
	}
	return nil
}
