package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/strideloop/voicecoach/internal/models"
)

// isNoRows reports whether err is sql.ErrNoRows, possibly wrapped.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// coachColumns is the column list shared by all coach personality queries.
const coachColumns = `id, name, voice_id, stability, similarity_boost, style, speaker_boost,
	motivational_frequency_secs, pace_warning_threshold, milestone_alerts, form_reminders,
	encouragement_level, enabled, is_selected, total_uses, last_used_at, avg_latency_ms,
	success_rate, created_at, updated_at`

// scanCoach scans a CoachPersonality from a row or rows cursor.
func scanCoach(s rowScanner) (models.CoachPersonality, error) {
	var c models.CoachPersonality
	var freqSecs int64
	var lastUsed sql.NullTime
	err := s.Scan(
		&c.ID, &c.Name, &c.Voice.VoiceID, &c.Voice.Stability, &c.Voice.SimilarityBoost,
		&c.Voice.Style, &c.Voice.SpeakerBoost, &freqSecs, &c.PaceWarningThreshold,
		&c.MilestoneAlerts, &c.FormReminders, &c.EncouragementLevel, &c.Enabled,
		&c.IsSelected, &c.TotalUses, &lastUsed, &c.AvgLatencyMs, &c.SuccessRate,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, fmt.Errorf("scan coach personality failed: %w", err)
	}
	c.MotivationalFrequency = time.Duration(freqSecs) * time.Second
	if lastUsed.Valid {
		c.LastUsedAt = &lastUsed.Time
	}
	return c, nil
}

// voiceLineColumns is the column list shared by all voice line queries.
const voiceLineColumns = `cache_key, coach_id, text, urgency, file_path, file_size, duration_ms,
	checksum, category, priority, created_at, last_used_at, use_count, last_error`

// scanVoiceLine scans a VoiceLine from a row or rows cursor.
func scanVoiceLine(s rowScanner) (models.VoiceLine, error) {
	var v models.VoiceLine
	var durationMs int64
	var lastError sql.NullString
	err := s.Scan(
		&v.CacheKey, &v.CoachID, &v.Text, &v.Urgency, &v.FilePath, &v.FileSize,
		&durationMs, &v.Checksum, &v.Category, &v.Priority, &v.CreatedAt,
		&v.LastUsedAt, &v.UseCount, &lastError,
	)
	if err != nil {
		return v, fmt.Errorf("scan voice line failed: %w", err)
	}
	v.Duration = time.Duration(durationMs) * time.Millisecond
	v.LastError = lastError.String
	return v, nil
}

// coachInsertArgs flattens a CoachPersonality into the argument order used by
// the insert/upsert statements.
func coachInsertArgs(c models.CoachPersonality) []interface{} {
	var lastUsed interface{}
	if c.LastUsedAt != nil {
		lastUsed = *c.LastUsedAt
	}
	return []interface{}{
		c.ID, c.Name, c.Voice.VoiceID, c.Voice.Stability, c.Voice.SimilarityBoost,
		c.Voice.Style, c.Voice.SpeakerBoost, int64(c.MotivationalFrequency / time.Second),
		c.PaceWarningThreshold, c.MilestoneAlerts, c.FormReminders, c.EncouragementLevel,
		c.Enabled, c.IsSelected, c.TotalUses, lastUsed, c.AvgLatencyMs, c.SuccessRate,
		c.CreatedAt, c.UpdatedAt,
	}
}

// voiceLineInsertArgs flattens a VoiceLine into the argument order used by
// the insert/upsert statements.
func voiceLineInsertArgs(v models.VoiceLine) []interface{} {
	return []interface{}{
		v.CacheKey, v.CoachID, v.Text, string(v.Urgency), v.FilePath, v.FileSize,
		v.Duration.Milliseconds(), v.Checksum, string(v.Category), v.Priority,
		v.CreatedAt, v.LastUsedAt, v.UseCount, nilIfEmpty(v.LastError),
	}
}
