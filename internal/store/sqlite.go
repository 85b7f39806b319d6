// SQLite-backed store for coach personalities, cached voice lines, and
// lifetime statistics.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/strideloop/voicecoach/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveCoachPersonality stores or updates a coach personality record.
func (s *SQLiteStore) SaveCoachPersonality(c models.CoachPersonality) error {
	if err := c.Validate(); err != nil {
		return err
	}
	query := `INSERT OR REPLACE INTO coach_personalities (` + coachColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, coachInsertArgs(c)...)
	if err != nil {
		slog.Error("SQLiteStore SaveCoachPersonality failed", "error", err, "coachID", c.ID)
		return fmt.Errorf("failed to save coach %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore SaveCoachPersonality succeeded", "coachID", c.ID)
	return nil
}

// GetCoachPersonality retrieves a coach personality by id. Returns (nil, nil)
// when no record exists.
func (s *SQLiteStore) GetCoachPersonality(id string) (*models.CoachPersonality, error) {
	row := s.db.QueryRow(`SELECT `+coachColumns+` FROM coach_personalities WHERE id = ?`, id)
	c, err := scanCoach(row)
	if err != nil {
		if isNoRows(err) {
			slog.Debug("SQLiteStore GetCoachPersonality not found", "coachID", id)
			return nil, nil
		}
		slog.Error("SQLiteStore GetCoachPersonality failed", "error", err, "coachID", id)
		return nil, err
	}
	return &c, nil
}

// ListCoachPersonalities returns all coach personality records.
func (s *SQLiteStore) ListCoachPersonalities() ([]models.CoachPersonality, error) {
	rows, err := s.db.Query(`SELECT ` + coachColumns + ` FROM coach_personalities ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListCoachPersonalities query failed", "error", err)
		return nil, fmt.Errorf("failed to query coach personalities: %w", err)
	}
	defer rows.Close()

	var coaches []models.CoachPersonality
	for rows.Next() {
		c, err := scanCoach(rows)
		if err != nil {
			slog.Error("SQLiteStore ListCoachPersonalities scan failed", "error", err)
			return nil, err
		}
		coaches = append(coaches, c)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListCoachPersonalities rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate coach rows: %w", err)
	}
	slog.Debug("SQLiteStore ListCoachPersonalities succeeded", "count", len(coaches))
	return coaches, nil
}

// SelectCoach atomically marks the given coach selected and clears the
// previous selection. The transaction guarantees a reader never observes zero
// or two selected coaches.
func (s *SQLiteStore) SelectCoach(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore SelectCoach begin failed", "error", err, "coachID", id)
		return fmt.Errorf("failed to begin selection transaction: %w", err)
	}
	defer tx.Rollback()

	var enabled bool
	err = tx.QueryRow(`SELECT enabled FROM coach_personalities WHERE id = ?`, id).Scan(&enabled)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore SelectCoach unknown coach", "coachID", id)
		return models.ErrUnknownCoach
	}
	if err != nil {
		slog.Error("SQLiteStore SelectCoach lookup failed", "error", err, "coachID", id)
		return fmt.Errorf("failed to look up coach %s: %w", id, err)
	}
	if !enabled {
		slog.Debug("SQLiteStore SelectCoach coach disabled", "coachID", id)
		return models.ErrCoachDisabled
	}

	if _, err := tx.Exec(`UPDATE coach_personalities SET is_selected = 0 WHERE is_selected = 1`); err != nil {
		slog.Error("SQLiteStore SelectCoach clear failed", "error", err)
		return fmt.Errorf("failed to clear previous selection: %w", err)
	}
	if _, err := tx.Exec(`UPDATE coach_personalities SET is_selected = 1, updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		slog.Error("SQLiteStore SelectCoach set failed", "error", err, "coachID", id)
		return fmt.Errorf("failed to select coach %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SelectCoach commit failed", "error", err, "coachID", id)
		return fmt.Errorf("failed to commit selection: %w", err)
	}
	slog.Debug("SQLiteStore SelectCoach succeeded", "coachID", id)
	return nil
}

// GetSelectedCoachID returns the id of the currently selected coach, or an
// empty string when none is selected.
func (s *SQLiteStore) GetSelectedCoachID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM coach_personalities WHERE is_selected = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSelectedCoachID failed", "error", err)
		return "", fmt.Errorf("failed to query selected coach: %w", err)
	}
	return id, nil
}

// UpdateCoachUsage persists usage counters after a generation attempt.
func (s *SQLiteStore) UpdateCoachUsage(id string, lastUsed time.Time, totalUses int64, avgLatencyMs, successRate float64) error {
	res, err := s.db.Exec(`UPDATE coach_personalities
		SET total_uses = ?, last_used_at = ?, avg_latency_ms = ?, success_rate = ?, updated_at = ?
		WHERE id = ?`, totalUses, lastUsed, avgLatencyMs, successRate, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateCoachUsage failed", "error", err, "coachID", id)
		return fmt.Errorf("failed to update usage for coach %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUnknownCoach
	}
	slog.Debug("SQLiteStore UpdateCoachUsage succeeded", "coachID", id, "totalUses", totalUses)
	return nil
}

// SaveVoiceLine stores or updates a cached voice line record.
func (s *SQLiteStore) SaveVoiceLine(v models.VoiceLine) error {
	if err := v.Validate(); err != nil {
		return err
	}
	query := `INSERT OR REPLACE INTO voice_lines (` + voiceLineColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, voiceLineInsertArgs(v)...)
	if err != nil {
		slog.Error("SQLiteStore SaveVoiceLine failed", "error", err, "cacheKey", v.CacheKey)
		return fmt.Errorf("failed to save voice line %s: %w", v.CacheKey, err)
	}
	slog.Debug("SQLiteStore SaveVoiceLine succeeded", "cacheKey", v.CacheKey, "size", v.FileSize)
	return nil
}

// GetVoiceLine retrieves a cached voice line by key. Returns (nil, nil) when
// no record exists.
func (s *SQLiteStore) GetVoiceLine(cacheKey string) (*models.VoiceLine, error) {
	row := s.db.QueryRow(`SELECT `+voiceLineColumns+` FROM voice_lines WHERE cache_key = ?`, cacheKey)
	v, err := scanVoiceLine(row)
	if err != nil {
		if isNoRows(err) {
			slog.Debug("SQLiteStore GetVoiceLine not found", "cacheKey", cacheKey)
			return nil, nil
		}
		slog.Error("SQLiteStore GetVoiceLine failed", "error", err, "cacheKey", cacheKey)
		return nil, err
	}
	return &v, nil
}

// TouchVoiceLine refreshes last_used and increments use_count for LRU bookkeeping.
func (s *SQLiteStore) TouchVoiceLine(cacheKey string, lastUsed time.Time) error {
	_, err := s.db.Exec(`UPDATE voice_lines SET last_used_at = ?, use_count = use_count + 1 WHERE cache_key = ?`, lastUsed, cacheKey)
	if err != nil {
		slog.Error("SQLiteStore TouchVoiceLine failed", "error", err, "cacheKey", cacheKey)
		return fmt.Errorf("failed to touch voice line %s: %w", cacheKey, err)
	}
	return nil
}

// DeleteVoiceLine removes a cached voice line record.
func (s *SQLiteStore) DeleteVoiceLine(cacheKey string) error {
	_, err := s.db.Exec(`DELETE FROM voice_lines WHERE cache_key = ?`, cacheKey)
	if err != nil {
		slog.Error("SQLiteStore DeleteVoiceLine failed", "error", err, "cacheKey", cacheKey)
		return fmt.Errorf("failed to delete voice line %s: %w", cacheKey, err)
	}
	slog.Debug("SQLiteStore DeleteVoiceLine succeeded", "cacheKey", cacheKey)
	return nil
}

// ListVoiceLinesByLastUsed returns all cached voice lines ordered oldest first.
func (s *SQLiteStore) ListVoiceLinesByLastUsed() ([]models.VoiceLine, error) {
	rows, err := s.db.Query(`SELECT ` + voiceLineColumns + ` FROM voice_lines ORDER BY last_used_at ASC`)
	if err != nil {
		slog.Error("SQLiteStore ListVoiceLinesByLastUsed query failed", "error", err)
		return nil, fmt.Errorf("failed to query voice lines: %w", err)
	}
	defer rows.Close()

	var lines []models.VoiceLine
	for rows.Next() {
		v, err := scanVoiceLine(rows)
		if err != nil {
			slog.Error("SQLiteStore ListVoiceLinesByLastUsed scan failed", "error", err)
			return nil, err
		}
		lines = append(lines, v)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListVoiceLinesByLastUsed rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate voice line rows: %w", err)
	}
	slog.Debug("SQLiteStore ListVoiceLinesByLastUsed succeeded", "count", len(lines))
	return lines, nil
}

// VoiceLineTotals returns the current entry count and total byte size of the cache.
func (s *SQLiteStore) VoiceLineTotals() (int, int64, error) {
	var count int
	var bytes sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM voice_lines`).Scan(&count, &bytes)
	if err != nil {
		slog.Error("SQLiteStore VoiceLineTotals failed", "error", err)
		return 0, 0, fmt.Errorf("failed to query voice line totals: %w", err)
	}
	return count, bytes.Int64, nil
}

// ClearVoiceLines deletes all voice line records.
func (s *SQLiteStore) ClearVoiceLines() error {
	_, err := s.db.Exec(`DELETE FROM voice_lines`)
	if err != nil {
		slog.Error("SQLiteStore ClearVoiceLines failed", "error", err)
		return err
	}
	slog.Debug("SQLiteStore ClearVoiceLines succeeded")
	return nil
}

// AddLifetimeStats folds a session's stats into the persisted lifetime row.
func (s *SQLiteStore) AddLifetimeStats(delta models.CoachingStats) error {
	_, err := s.db.Exec(`UPDATE coaching_stats SET
		sessions_started = sessions_started + ?,
		sessions_completed = sessions_completed + ?,
		total_triggers = total_triggers + ?,
		error_count = error_count + ?
		WHERE id = 1`,
		delta.SessionsStarted, delta.SessionsCompleted, delta.TotalTriggersProcessed, delta.ErrorCount)
	if err != nil {
		slog.Error("SQLiteStore AddLifetimeStats failed", "error", err)
		return fmt.Errorf("failed to update lifetime stats: %w", err)
	}
	return nil
}

// GetLifetimeStats returns the accumulated lifetime statistics.
func (s *SQLiteStore) GetLifetimeStats() (models.CoachingStats, error) {
	var st models.CoachingStats
	err := s.db.QueryRow(`SELECT sessions_started, sessions_completed, total_triggers, error_count FROM coaching_stats WHERE id = 1`).
		Scan(&st.SessionsStarted, &st.SessionsCompleted, &st.TotalTriggersProcessed, &st.ErrorCount)
	if err != nil {
		slog.Error("SQLiteStore GetLifetimeStats failed", "error", err)
		return st, fmt.Errorf("failed to query lifetime stats: %w", err)
	}
	if st.TotalTriggersProcessed > 0 {
		st.SuccessRate = 1 - float64(st.ErrorCount)/float64(st.TotalTriggersProcessed)
	}
	return st, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
