// Package speech defines the speech backend abstraction and its ElevenLabs
// implementation.
//
// A backend turns coaching text into an audio artifact on disk and plays
// artifacts through the device output. Failures are always returned as error
// values; the pipeline degrades to silence rather than crashing the run.
package speech

import (
	"context"

	"github.com/strideloop/voicecoach/internal/models"
)

// Synthesizer generates an audio file for the given text and voice and
// returns its file path.
type Synthesizer interface {
	GenerateAudio(ctx context.Context, text string, voice models.VoiceSettings) (string, error)
}

// Player plays audio artifacts. Implementations must be safe for concurrent
// use; only one segment plays at a time.
type Player interface {
	// PlayAudio plays the file at the given volume (0..1) and blocks until
	// playback completes, is stopped, or ctx is cancelled.
	PlayAudio(ctx context.Context, filePath string, volume float64) error
	// StopCurrentAudio stops the currently playing segment, if any.
	StopCurrentAudio()
	// IsPlayingAudio reports whether a segment is currently playing.
	IsPlayingAudio() bool
}

// Backend is the full speech service contract consumed by the pipeline.
type Backend interface {
	Synthesizer
	Player
}

// StreamSynthesizer is satisfied by synthesizers that can stream audio chunks
// as they are produced, lowering time to first byte for urgent lines.
type StreamSynthesizer interface {
	GenerateAudioStream(ctx context.Context, text string, voice models.VoiceSettings) (string, error)
}

// Service composes an independent synthesizer and player into a Backend.
type Service struct {
	Synthesizer
	Player
}

// NewService combines a synthesizer and a player.
func NewService(s Synthesizer, p Player) *Service {
	return &Service{Synthesizer: s, Player: p}
}

// GenerateAudioStream uses the synthesizer's streaming endpoint when it has
// one and falls back to buffered synthesis otherwise.
func (s *Service) GenerateAudioStream(ctx context.Context, text string, voice models.VoiceSettings) (string, error) {
	if ss, ok := s.Synthesizer.(StreamSynthesizer); ok {
		return ss.GenerateAudioStream(ctx, text, voice)
	}
	return s.GenerateAudio(ctx, text, voice)
}

// Ducker lowers concurrently playing user media while coaching audio plays.
type Ducker interface {
	// Duck reduces media volume and returns a restore function. The restore
	// function must be safe to call exactly once, including after interruption.
	Duck() (restore func(), err error)
}

// NopDucker performs no ducking. Used when the host handles audio focus
// itself, and in tests.
type NopDucker struct{}

func (NopDucker) Duck() (func(), error) { return func() {}, nil }

// SettingsForUrgency adapts a coach's base voice settings to the urgency of
// one event: urgent delivery trades stability for style, calm does the
// opposite.
func SettingsForUrgency(voice models.VoiceSettings, urgency models.Urgency) models.VoiceSettings {
	out := voice
	switch urgency {
	case models.UrgencyCalm:
		out.Stability = clamp(voice.Stability + 0.2)
		out.Style = clamp(voice.Style - 0.1)
	case models.UrgencyEnergetic:
		out.Stability = clamp(voice.Stability - 0.15)
		out.Style = clamp(voice.Style + 0.2)
	case models.UrgencyUrgent:
		out.Stability = clamp(voice.Stability - 0.3)
		out.Style = clamp(voice.Style + 0.35)
		out.SpeakerBoost = true
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
