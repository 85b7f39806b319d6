// PostgreSQL-backed store mirroring the SQLite implementation behind the same
// Store interface.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/strideloop/voicecoach/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// SaveCoachPersonality stores or updates a coach personality record.
func (s *PostgresStore) SaveCoachPersonality(c models.CoachPersonality) error {
	if err := c.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO coach_personalities (` + coachColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, voice_id = EXCLUDED.voice_id, stability = EXCLUDED.stability,
			similarity_boost = EXCLUDED.similarity_boost, style = EXCLUDED.style,
			speaker_boost = EXCLUDED.speaker_boost,
			motivational_frequency_secs = EXCLUDED.motivational_frequency_secs,
			pace_warning_threshold = EXCLUDED.pace_warning_threshold,
			milestone_alerts = EXCLUDED.milestone_alerts, form_reminders = EXCLUDED.form_reminders,
			encouragement_level = EXCLUDED.encouragement_level, enabled = EXCLUDED.enabled,
			is_selected = EXCLUDED.is_selected, total_uses = EXCLUDED.total_uses,
			last_used_at = EXCLUDED.last_used_at, avg_latency_ms = EXCLUDED.avg_latency_ms,
			success_rate = EXCLUDED.success_rate, updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(query, coachInsertArgs(c)...)
	if err != nil {
		slog.Error("PostgresStore SaveCoachPersonality failed", "error", err, "coachID", c.ID)
		return fmt.Errorf("failed to save coach %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore SaveCoachPersonality succeeded", "coachID", c.ID)
	return nil
}

// GetCoachPersonality retrieves a coach personality by id. Returns (nil, nil)
// when no record exists.
func (s *PostgresStore) GetCoachPersonality(id string) (*models.CoachPersonality, error) {
	row := s.db.QueryRow(`SELECT `+coachColumns+` FROM coach_personalities WHERE id = $1`, id)
	c, err := scanCoach(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		slog.Error("PostgresStore GetCoachPersonality failed", "error", err, "coachID", id)
		return nil, err
	}
	return &c, nil
}

// ListCoachPersonalities returns all coach personality records.
func (s *PostgresStore) ListCoachPersonalities() ([]models.CoachPersonality, error) {
	rows, err := s.db.Query(`SELECT ` + coachColumns + ` FROM coach_personalities ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListCoachPersonalities query failed", "error", err)
		return nil, fmt.Errorf("failed to query coach personalities: %w", err)
	}
	defer rows.Close()

	var coaches []models.CoachPersonality
	for rows.Next() {
		c, err := scanCoach(rows)
		if err != nil {
			slog.Error("PostgresStore ListCoachPersonalities scan failed", "error", err)
			return nil, err
		}
		coaches = append(coaches, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate coach rows: %w", err)
	}
	return coaches, nil
}

// SelectCoach atomically marks the given coach selected and clears the
// previous selection.
func (s *PostgresStore) SelectCoach(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore SelectCoach begin failed", "error", err, "coachID", id)
		return fmt.Errorf("failed to begin selection transaction: %w", err)
	}
	defer tx.Rollback()

	var enabled bool
	err = tx.QueryRow(`SELECT enabled FROM coach_personalities WHERE id = $1`, id).Scan(&enabled)
	if err == sql.ErrNoRows {
		return models.ErrUnknownCoach
	}
	if err != nil {
		slog.Error("PostgresStore SelectCoach lookup failed", "error", err, "coachID", id)
		return fmt.Errorf("failed to look up coach %s: %w", id, err)
	}
	if !enabled {
		return models.ErrCoachDisabled
	}

	if _, err := tx.Exec(`UPDATE coach_personalities SET is_selected = FALSE WHERE is_selected = TRUE`); err != nil {
		return fmt.Errorf("failed to clear previous selection: %w", err)
	}
	if _, err := tx.Exec(`UPDATE coach_personalities SET is_selected = TRUE, updated_at = $1 WHERE id = $2`, time.Now(), id); err != nil {
		return fmt.Errorf("failed to select coach %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit selection: %w", err)
	}
	slog.Debug("PostgresStore SelectCoach succeeded", "coachID", id)
	return nil
}

// GetSelectedCoachID returns the id of the currently selected coach, or an
// empty string when none is selected.
func (s *PostgresStore) GetSelectedCoachID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM coach_personalities WHERE is_selected = TRUE`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSelectedCoachID failed", "error", err)
		return "", fmt.Errorf("failed to query selected coach: %w", err)
	}
	return id, nil
}

// UpdateCoachUsage persists usage counters after a generation attempt.
func (s *PostgresStore) UpdateCoachUsage(id string, lastUsed time.Time, totalUses int64, avgLatencyMs, successRate float64) error {
	res, err := s.db.Exec(`UPDATE coach_personalities
		SET total_uses = $1, last_used_at = $2, avg_latency_ms = $3, success_rate = $4, updated_at = $5
		WHERE id = $6`, totalUses, lastUsed, avgLatencyMs, successRate, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateCoachUsage failed", "error", err, "coachID", id)
		return fmt.Errorf("failed to update usage for coach %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUnknownCoach
	}
	return nil
}

// SaveVoiceLine stores or updates a cached voice line record.
func (s *PostgresStore) SaveVoiceLine(v models.VoiceLine) error {
	if err := v.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO voice_lines (` + voiceLineColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (cache_key) DO UPDATE SET
			file_path = EXCLUDED.file_path, file_size = EXCLUDED.file_size,
			duration_ms = EXCLUDED.duration_ms, checksum = EXCLUDED.checksum,
			last_used_at = EXCLUDED.last_used_at, use_count = EXCLUDED.use_count,
			last_error = EXCLUDED.last_error`
	_, err := s.db.Exec(query, voiceLineInsertArgs(v)...)
	if err != nil {
		slog.Error("PostgresStore SaveVoiceLine failed", "error", err, "cacheKey", v.CacheKey)
		return fmt.Errorf("failed to save voice line %s: %w", v.CacheKey, err)
	}
	return nil
}

// GetVoiceLine retrieves a cached voice line by key. Returns (nil, nil) when
// no record exists.
func (s *PostgresStore) GetVoiceLine(cacheKey string) (*models.VoiceLine, error) {
	row := s.db.QueryRow(`SELECT `+voiceLineColumns+` FROM voice_lines WHERE cache_key = $1`, cacheKey)
	v, err := scanVoiceLine(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		slog.Error("PostgresStore GetVoiceLine failed", "error", err, "cacheKey", cacheKey)
		return nil, err
	}
	return &v, nil
}

// TouchVoiceLine refreshes last_used and increments use_count for LRU bookkeeping.
func (s *PostgresStore) TouchVoiceLine(cacheKey string, lastUsed time.Time) error {
	_, err := s.db.Exec(`UPDATE voice_lines SET last_used_at = $1, use_count = use_count + 1 WHERE cache_key = $2`, lastUsed, cacheKey)
	if err != nil {
		slog.Error("PostgresStore TouchVoiceLine failed", "error", err, "cacheKey", cacheKey)
		return fmt.Errorf("failed to touch voice line %s: %w", cacheKey, err)
	}
	return nil
}

// DeleteVoiceLine removes a cached voice line record.
func (s *PostgresStore) DeleteVoiceLine(cacheKey string) error {
	_, err := s.db.Exec(`DELETE FROM voice_lines WHERE cache_key = $1`, cacheKey)
	if err != nil {
		slog.Error("PostgresStore DeleteVoiceLine failed", "error", err, "cacheKey", cacheKey)
		return fmt.Errorf("failed to delete voice line %s: %w", cacheKey, err)
	}
	return nil
}

// ListVoiceLinesByLastUsed returns all cached voice lines ordered oldest first.
func (s *PostgresStore) ListVoiceLinesByLastUsed() ([]models.VoiceLine, error) {
	rows, err := s.db.Query(`SELECT ` + voiceLineColumns + ` FROM voice_lines ORDER BY last_used_at ASC`)
	if err != nil {
		slog.Error("PostgresStore ListVoiceLinesByLastUsed query failed", "error", err)
		return nil, fmt.Errorf("failed to query voice lines: %w", err)
	}
	defer rows.Close()

	var lines []models.VoiceLine
	for rows.Next() {
		v, err := scanVoiceLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate voice line rows: %w", err)
	}
	return lines, nil
}

// VoiceLineTotals returns the current entry count and total byte size of the cache.
func (s *PostgresStore) VoiceLineTotals() (int, int64, error) {
	var count int
	var bytes sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM voice_lines`).Scan(&count, &bytes)
	if err != nil {
		slog.Error("PostgresStore VoiceLineTotals failed", "error", err)
		return 0, 0, fmt.Errorf("failed to query voice line totals: %w", err)
	}
	return count, bytes.Int64, nil
}

// ClearVoiceLines deletes all voice line records.
func (s *PostgresStore) ClearVoiceLines() error {
	_, err := s.db.Exec(`DELETE FROM voice_lines`)
	if err != nil {
		slog.Error("PostgresStore ClearVoiceLines failed", "error", err)
		return err
	}
	return nil
}

// AddLifetimeStats folds a session's stats into the persisted lifetime row.
func (s *PostgresStore) AddLifetimeStats(delta models.CoachingStats) error {
	_, err := s.db.Exec(`UPDATE coaching_stats SET
		sessions_started = sessions_started + $1,
		sessions_completed = sessions_completed + $2,
		total_triggers = total_triggers + $3,
		error_count = error_count + $4
		WHERE id = 1`,
		delta.SessionsStarted, delta.SessionsCompleted, delta.TotalTriggersProcessed, delta.ErrorCount)
	if err != nil {
		slog.Error("PostgresStore AddLifetimeStats failed", "error", err)
		return fmt.Errorf("failed to update lifetime stats: %w", err)
	}
	return nil
}

// GetLifetimeStats returns the accumulated lifetime statistics.
func (s *PostgresStore) GetLifetimeStats() (models.CoachingStats, error) {
	var st models.CoachingStats
	err := s.db.QueryRow(`SELECT sessions_started, sessions_completed, total_triggers, error_count FROM coaching_stats WHERE id = 1`).
		Scan(&st.SessionsStarted, &st.SessionsCompleted, &st.TotalTriggersProcessed, &st.ErrorCount)
	if err != nil {
		slog.Error("PostgresStore GetLifetimeStats failed", "error", err)
		return st, fmt.Errorf("failed to query lifetime stats: %w", err)
	}
	if st.TotalTriggersProcessed > 0 {
		st.SuccessRate = 1 - float64(st.ErrorCount)/float64(st.TotalTriggersProcessed)
	}
	return st, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
