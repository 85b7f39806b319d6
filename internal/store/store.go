// Package store provides storage backends for voicecoach.
//
// It includes an in-memory store for tests and embedding, plus persistent
// SQLite and PostgreSQL implementations behind a shared interface.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/strideloop/voicecoach/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	// DSN is the database connection string (file path for SQLite).
	DSN string
}

// Option configures store options.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Store is the persistence contract shared by all backends.
//
// Lookup methods return (nil, nil) when a record is absent so callers can
// distinguish a miss from a storage failure.
type Store interface {
	// Coach personalities.
	SaveCoachPersonality(c models.CoachPersonality) error
	GetCoachPersonality(id string) (*models.CoachPersonality, error)
	ListCoachPersonalities() ([]models.CoachPersonality, error)
	// SelectCoach atomically clears the previous selection and marks the
	// given coach selected. Fails with models.ErrUnknownCoach or
	// models.ErrCoachDisabled without changing the selection.
	SelectCoach(id string) error
	GetSelectedCoachID() (string, error)
	UpdateCoachUsage(id string, lastUsed time.Time, totalUses int64, avgLatencyMs, successRate float64) error

	// Voice lines.
	SaveVoiceLine(v models.VoiceLine) error
	GetVoiceLine(cacheKey string) (*models.VoiceLine, error)
	// TouchVoiceLine refreshes last_used and increments use_count.
	TouchVoiceLine(cacheKey string, lastUsed time.Time) error
	DeleteVoiceLine(cacheKey string) error
	// ListVoiceLinesByLastUsed returns all entries ordered oldest first.
	ListVoiceLinesByLastUsed() ([]models.VoiceLine, error)
	VoiceLineTotals() (count int, bytes int64, err error)
	ClearVoiceLines() error

	// Lifetime statistics, accumulated across sessions.
	AddLifetimeStats(delta models.CoachingStats) error
	GetLifetimeStats() (models.CoachingStats, error)

	Close() error
}

// InMemoryStore is a simple in-memory store used by tests and by hosts that
// do not need persistence.
type InMemoryStore struct {
	mu       sync.RWMutex
	coaches  map[string]models.CoachPersonality
	selected string
	lines    map[string]models.VoiceLine
	stats    models.CoachingStats
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		coaches: make(map[string]models.CoachPersonality),
		lines:   make(map[string]models.VoiceLine),
	}
}

func (s *InMemoryStore) SaveCoachPersonality(c models.CoachPersonality) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coaches[c.ID] = c
	if c.IsSelected {
		s.selected = c.ID
	}
	return nil
}

func (s *InMemoryStore) GetCoachPersonality(id string) (*models.CoachPersonality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coaches[id]
	if !ok {
		return nil, nil
	}
	c.IsSelected = s.selected == c.ID
	return &c, nil
}

func (s *InMemoryStore) ListCoachPersonalities() ([]models.CoachPersonality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CoachPersonality, 0, len(s.coaches))
	for _, c := range s.coaches {
		c.IsSelected = s.selected == c.ID
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SelectCoach(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coaches[id]
	if !ok {
		return models.ErrUnknownCoach
	}
	if !c.Enabled {
		return models.ErrCoachDisabled
	}
	s.selected = id
	return nil
}

func (s *InMemoryStore) GetSelectedCoachID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, nil
}

func (s *InMemoryStore) UpdateCoachUsage(id string, lastUsed time.Time, totalUses int64, avgLatencyMs, successRate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coaches[id]
	if !ok {
		return models.ErrUnknownCoach
	}
	c.LastUsedAt = &lastUsed
	c.TotalUses = totalUses
	c.AvgLatencyMs = avgLatencyMs
	c.SuccessRate = successRate
	c.UpdatedAt = time.Now()
	s.coaches[id] = c
	return nil
}

func (s *InMemoryStore) SaveVoiceLine(v models.VoiceLine) error {
	if err := v.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[v.CacheKey] = v
	return nil
}

func (s *InMemoryStore) GetVoiceLine(cacheKey string) (*models.VoiceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.lines[cacheKey]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *InMemoryStore) TouchVoiceLine(cacheKey string, lastUsed time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lines[cacheKey]
	if !ok {
		return nil
	}
	v.LastUsedAt = lastUsed
	v.UseCount++
	s.lines[cacheKey] = v
	return nil
}

func (s *InMemoryStore) DeleteVoiceLine(cacheKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, cacheKey)
	return nil
}

func (s *InMemoryStore) ListVoiceLinesByLastUsed() ([]models.VoiceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.VoiceLine, 0, len(s.lines))
	for _, v := range s.lines {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.Before(out[j].LastUsedAt) })
	return out, nil
}

func (s *InMemoryStore) VoiceLineTotals() (int, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bytes int64
	for _, v := range s.lines {
		bytes += v.FileSize
	}
	return len(s.lines), bytes, nil
}

func (s *InMemoryStore) ClearVoiceLines() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = make(map[string]models.VoiceLine)
	return nil
}

func (s *InMemoryStore) AddLifetimeStats(delta models.CoachingStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.SessionsStarted += delta.SessionsStarted
	s.stats.SessionsCompleted += delta.SessionsCompleted
	s.stats.TotalTriggersProcessed += delta.TotalTriggersProcessed
	s.stats.ErrorCount += delta.ErrorCount
	if s.stats.TotalTriggersProcessed > 0 {
		s.stats.SuccessRate = 1 - float64(s.stats.ErrorCount)/float64(s.stats.TotalTriggersProcessed)
	}
	return nil
}

func (s *InMemoryStore) GetLifetimeStats() (models.CoachingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
