// Package coach manages coach personalities and the selected-coach invariant.
//
// Exactly one enabled personality is selected at any time. Selection is
// atomic with respect to concurrent reads, and every switch bumps a
// generation counter that the playback pipeline uses to discard stale
// synthesis results.
package coach

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strideloop/voicecoach/internal/models"
	"github.com/strideloop/voicecoach/internal/store"
)

// Manager owns the selected coach and per-coach usage accounting.
type Manager struct {
	store      store.Store
	mu         sync.RWMutex
	current    *models.CoachPersonality
	generation atomic.Uint64
}

// NewManager creates a manager and restores the persisted selection. When no
// coach is selected yet, the first enabled personality is selected so the
// invariant holds from the start.
func NewManager(s store.Store) (*Manager, error) {
	m := &Manager{store: s}

	id, err := s.GetSelectedCoachID()
	if err != nil {
		return nil, fmt.Errorf("failed to restore coach selection: %w", err)
	}
	if id == "" {
		coaches, err := s.ListCoachPersonalities()
		if err != nil {
			return nil, fmt.Errorf("failed to list coaches: %w", err)
		}
		for _, c := range coaches {
			if c.Enabled {
				id = c.ID
				break
			}
		}
		if id != "" {
			if err := s.SelectCoach(id); err != nil {
				return nil, fmt.Errorf("failed to select initial coach: %w", err)
			}
			slog.Info("No coach selected, defaulting to first enabled", "coachID", id)
		}
	}
	if id != "" {
		c, err := s.GetCoachPersonality(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load selected coach: %w", err)
		}
		if c != nil {
			c.IsSelected = true
			m.current = c
		}
	}
	return m, nil
}

// Select switches to the given coach. Fails with models.ErrUnknownCoach or
// models.ErrCoachDisabled and leaves state unchanged. On success the
// generation counter advances, marking any in-flight synthesis for the
// previous coach as stale.
func (m *Manager) Select(id string) error {
	// The store transaction and the cached-selection swap stay under one
	// lock so concurrent selects cannot interleave and leave the cache
	// disagreeing with the persisted selection.
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SelectCoach(id); err != nil {
		slog.Debug("Coach selection rejected", "coachID", id, "error", err)
		return err
	}
	c, err := m.store.GetCoachPersonality(id)
	if err != nil {
		return fmt.Errorf("failed to load coach %s after selection: %w", id, err)
	}
	if c == nil {
		return models.ErrUnknownCoach
	}
	c.IsSelected = true

	m.current = c
	gen := m.generation.Add(1)

	slog.Info("Coach selected", "coachID", id, "name", c.Name, "generation", gen)
	return nil
}

// Current returns a copy of the selected personality.
func (m *Manager) Current() (models.CoachPersonality, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return models.CoachPersonality{}, models.ErrNoCoachSelected
	}
	return *m.current, nil
}

// Generation returns the current selection generation. The pipeline snapshots
// this before synthesis and discards results when it has moved on.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// RecordOutcome folds one generation attempt into the coach's usage counters
// and persists them.
func (m *Manager) RecordOutcome(coachID string, latency time.Duration, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.coachLocked(coachID)
	if err != nil {
		return err
	}

	c.TotalUses++
	now := time.Now()
	c.LastUsedAt = &now
	latencyMs := float64(latency.Milliseconds())
	if c.AvgLatencyMs == 0 {
		c.AvgLatencyMs = latencyMs
	} else {
		c.AvgLatencyMs += (latencyMs - c.AvgLatencyMs) / float64(c.TotalUses)
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	c.SuccessRate += (outcome - c.SuccessRate) / float64(c.TotalUses)

	if err := m.store.UpdateCoachUsage(coachID, now, c.TotalUses, c.AvgLatencyMs, c.SuccessRate); err != nil {
		return fmt.Errorf("failed to persist usage for coach %s: %w", coachID, err)
	}
	if m.current != nil && m.current.ID == coachID {
		*m.current = *c
	}
	slog.Debug("Recorded generation outcome", "coachID", coachID, "success", success,
		"latency_ms", latencyMs, "success_rate", c.SuccessRate)
	return nil
}

// coachLocked returns a mutable copy of the coach, preferring the cached
// selection. Caller holds m.mu.
func (m *Manager) coachLocked(coachID string) (*models.CoachPersonality, error) {
	if m.current != nil && m.current.ID == coachID {
		c := *m.current
		return &c, nil
	}
	c, err := m.store.GetCoachPersonality(coachID)
	if err != nil {
		return nil, fmt.Errorf("failed to load coach %s: %w", coachID, err)
	}
	if c == nil {
		return nil, models.ErrUnknownCoach
	}
	return c, nil
}

// List returns all personalities.
func (m *Manager) List() ([]models.CoachPersonality, error) {
	return m.store.ListCoachPersonalities()
}

// Save stores or updates a personality record.
func (m *Manager) Save(c models.CoachPersonality) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := m.store.SaveCoachPersonality(c); err != nil {
		return err
	}
	m.mu.Lock()
	if m.current != nil && m.current.ID == c.ID {
		sel := m.current.IsSelected
		*m.current = c
		m.current.IsSelected = sel
	}
	m.mu.Unlock()
	return nil
}
