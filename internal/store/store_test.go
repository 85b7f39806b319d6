package store

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/strideloop/voicecoach/internal/models"
)

// newTestStores returns one store per backend. The postgres backend is only
// exercised when VOICECOACH_TEST_POSTGRES_DSN is set.
func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{
		"inmemory": NewInMemoryStore(),
	}

	sqlite, err := NewSQLiteStore(WithDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	stores["sqlite"] = sqlite

	if dsn := os.Getenv("VOICECOACH_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			t.Fatalf("failed to create postgres store: %v", err)
		}
		if err := pg.ClearVoiceLines(); err != nil {
			t.Fatalf("failed to reset postgres voice lines: %v", err)
		}
		stores["postgres"] = pg
	}

	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func testCoach(id string, enabled bool) models.CoachPersonality {
	now := time.Now().Truncate(time.Second)
	return models.CoachPersonality{
		ID:                    id,
		Name:                  "Coach " + id,
		Voice:                 models.VoiceSettings{VoiceID: "voice-" + id, Stability: 0.5, SimilarityBoost: 0.75},
		MotivationalFrequency: 5 * time.Minute,
		PaceWarningThreshold:  0.5,
		MilestoneAlerts:       true,
		EncouragementLevel:    3,
		Enabled:               enabled,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func testLine(key string) models.VoiceLine {
	now := time.Now().Truncate(time.Second)
	return models.VoiceLine{
		CacheKey:   key,
		CoachID:    "alpha",
		Text:       "Looking strong out there.",
		Urgency:    models.UrgencyNormal,
		FilePath:   "/tmp/audio/" + key + ".mp3",
		FileSize:   2048,
		Duration:   2 * time.Second,
		Checksum:   "abc123",
		Category:   models.EventMotivation,
		Priority:   1,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func TestCoachPersonalityRoundTrip(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			want := testCoach("alpha", true)
			if err := s.SaveCoachPersonality(want); err != nil {
				t.Fatalf("save failed: %v", err)
			}

			got, err := s.GetCoachPersonality("alpha")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got == nil {
				t.Fatal("expected coach, got nil")
			}
			if got.Name != want.Name || got.Voice.VoiceID != want.Voice.VoiceID {
				t.Errorf("round trip mismatch: got %+v", got)
			}
			if got.MotivationalFrequency != want.MotivationalFrequency {
				t.Errorf("expected frequency %v, got %v", want.MotivationalFrequency, got.MotivationalFrequency)
			}

			missing, err := s.GetCoachPersonality("nobody")
			if err != nil {
				t.Fatalf("get missing failed: %v", err)
			}
			if missing != nil {
				t.Errorf("expected nil for missing coach, got %+v", missing)
			}
		})
	}
}

func TestSelectCoachInvariant(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, c := range []models.CoachPersonality{testCoach("alpha", true), testCoach("bravo", true), testCoach("charlie", false)} {
				if err := s.SaveCoachPersonality(c); err != nil {
					t.Fatalf("save failed: %v", err)
				}
			}

			if err := s.SelectCoach("nobody"); !errors.Is(err, models.ErrUnknownCoach) {
				t.Errorf("expected ErrUnknownCoach, got %v", err)
			}
			if err := s.SelectCoach("charlie"); !errors.Is(err, models.ErrCoachDisabled) {
				t.Errorf("expected ErrCoachDisabled, got %v", err)
			}
			if id, _ := s.GetSelectedCoachID(); id != "" {
				t.Errorf("expected no selection after rejections, got %q", id)
			}

			if err := s.SelectCoach("alpha"); err != nil {
				t.Fatalf("select failed: %v", err)
			}
			if err := s.SelectCoach("bravo"); err != nil {
				t.Fatalf("select failed: %v", err)
			}
			id, err := s.GetSelectedCoachID()
			if err != nil {
				t.Fatalf("get selected failed: %v", err)
			}
			if id != "bravo" {
				t.Errorf("expected bravo selected, got %q", id)
			}

			// Exactly one coach carries the selection flag.
			coaches, err := s.ListCoachPersonalities()
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			selected := 0
			for _, c := range coaches {
				if c.IsSelected {
					selected++
				}
			}
			if selected != 1 {
				t.Errorf("expected exactly one selected coach, got %d", selected)
			}
		})
	}
}

func TestUpdateCoachUsage(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SaveCoachPersonality(testCoach("alpha", true)); err != nil {
				t.Fatalf("save failed: %v", err)
			}
			used := time.Now().Truncate(time.Second)
			if err := s.UpdateCoachUsage("alpha", used, 7, 230.5, 0.85); err != nil {
				t.Fatalf("update usage failed: %v", err)
			}

			got, err := s.GetCoachPersonality("alpha")
			if err != nil || got == nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.TotalUses != 7 {
				t.Errorf("expected 7 uses, got %d", got.TotalUses)
			}
			if got.AvgLatencyMs != 230.5 {
				t.Errorf("expected latency 230.5, got %v", got.AvgLatencyMs)
			}
			if got.LastUsedAt == nil {
				t.Error("expected last used set")
			}

			if err := s.UpdateCoachUsage("nobody", used, 1, 0, 1); !errors.Is(err, models.ErrUnknownCoach) {
				t.Errorf("expected ErrUnknownCoach, got %v", err)
			}
		})
	}
}

func TestVoiceLineRoundTrip(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			want := testLine("key-1")
			if err := s.SaveVoiceLine(want); err != nil {
				t.Fatalf("save failed: %v", err)
			}

			got, err := s.GetVoiceLine("key-1")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got == nil {
				t.Fatal("expected voice line, got nil")
			}
			if got.Text != want.Text || got.FilePath != want.FilePath || got.FileSize != want.FileSize {
				t.Errorf("round trip mismatch: got %+v", got)
			}
			if got.Duration != want.Duration {
				t.Errorf("expected duration %v, got %v", want.Duration, got.Duration)
			}

			missing, err := s.GetVoiceLine("never")
			if err != nil {
				t.Fatalf("get missing failed: %v", err)
			}
			if missing != nil {
				t.Errorf("expected nil for missing line, got %+v", missing)
			}
		})
	}
}

func TestTouchVoiceLine(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			line := testLine("key-1")
			line.LastUsedAt = time.Now().Add(-time.Hour).Truncate(time.Second)
			if err := s.SaveVoiceLine(line); err != nil {
				t.Fatalf("save failed: %v", err)
			}

			touched := time.Now().Truncate(time.Second)
			if err := s.TouchVoiceLine("key-1", touched); err != nil {
				t.Fatalf("touch failed: %v", err)
			}

			got, err := s.GetVoiceLine("key-1")
			if err != nil || got == nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.UseCount != 1 {
				t.Errorf("expected use count 1, got %d", got.UseCount)
			}
			if got.LastUsedAt.Before(touched.Add(-time.Second)) {
				t.Errorf("expected refreshed last used, got %v", got.LastUsedAt)
			}
		})
	}
}

func TestListVoiceLinesOrderedOldestFirst(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().Add(-time.Hour).Truncate(time.Second)
			for i, key := range []string{"newest", "oldest", "middle"} {
				line := testLine(key)
				switch key {
				case "oldest":
					line.LastUsedAt = base
				case "middle":
					line.LastUsedAt = base.Add(10 * time.Minute)
				case "newest":
					line.LastUsedAt = base.Add(20 * time.Minute)
				}
				line.FileSize = int64(1000 + i)
				if err := s.SaveVoiceLine(line); err != nil {
					t.Fatalf("save failed: %v", err)
				}
			}

			lines, err := s.ListVoiceLinesByLastUsed()
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(lines) != 3 {
				t.Fatalf("expected 3 lines, got %d", len(lines))
			}
			order := []string{lines[0].CacheKey, lines[1].CacheKey, lines[2].CacheKey}
			if order[0] != "oldest" || order[1] != "middle" || order[2] != "newest" {
				t.Errorf("expected oldest-first ordering, got %v", order)
			}
		})
	}
}

func TestVoiceLineTotalsAndClear(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			count, bytes, err := s.VoiceLineTotals()
			if err != nil {
				t.Fatalf("totals failed: %v", err)
			}
			if count != 0 || bytes != 0 {
				t.Fatalf("expected empty totals, got %d entries / %d bytes", count, bytes)
			}

			for i, key := range []string{"a", "b"} {
				line := testLine(key)
				line.FileSize = int64((i + 1) * 100)
				if err := s.SaveVoiceLine(line); err != nil {
					t.Fatalf("save failed: %v", err)
				}
			}
			count, bytes, err = s.VoiceLineTotals()
			if err != nil {
				t.Fatalf("totals failed: %v", err)
			}
			if count != 2 || bytes != 300 {
				t.Errorf("expected 2 entries / 300 bytes, got %d / %d", count, bytes)
			}

			if err := s.DeleteVoiceLine("a"); err != nil {
				t.Fatalf("delete failed: %v", err)
			}
			count, _, _ = s.VoiceLineTotals()
			if count != 1 {
				t.Errorf("expected 1 entry after delete, got %d", count)
			}

			if err := s.ClearVoiceLines(); err != nil {
				t.Fatalf("clear failed: %v", err)
			}
			count, bytes, _ = s.VoiceLineTotals()
			if count != 0 || bytes != 0 {
				t.Errorf("expected empty totals after clear, got %d / %d", count, bytes)
			}
		})
	}
}

func TestLifetimeStatsAccumulate(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if name == "postgres" {
				t.Skip("lifetime stats accumulate across runs on a shared database")
			}

			deltas := []models.CoachingStats{
				{SessionsStarted: 1, SessionsCompleted: 1, TotalTriggersProcessed: 10, ErrorCount: 2},
				{SessionsStarted: 1, TotalTriggersProcessed: 5, ErrorCount: 1},
			}
			for _, d := range deltas {
				if err := s.AddLifetimeStats(d); err != nil {
					t.Fatalf("add stats failed: %v", err)
				}
			}

			got, err := s.GetLifetimeStats()
			if err != nil {
				t.Fatalf("get stats failed: %v", err)
			}
			if got.SessionsStarted != 2 || got.SessionsCompleted != 1 {
				t.Errorf("expected 2 started / 1 completed, got %d / %d", got.SessionsStarted, got.SessionsCompleted)
			}
			if got.TotalTriggersProcessed != 15 || got.ErrorCount != 3 {
				t.Errorf("expected 15 triggers / 3 errors, got %d / %d", got.TotalTriggersProcessed, got.ErrorCount)
			}
			if math.Abs(got.SuccessRate-0.8) > 1e-9 {
				t.Errorf("expected success rate 0.8, got %v", got.SuccessRate)
			}
		})
	}
}

func TestSaveRejectsInvalidRecords(t *testing.T) {
	s := NewInMemoryStore()

	bad := testCoach("", true)
	if err := s.SaveCoachPersonality(bad); !errors.Is(err, models.ErrEmptyCoachID) {
		t.Errorf("expected ErrEmptyCoachID, got %v", err)
	}

	line := testLine("key-1")
	line.FilePath = ""
	if err := s.SaveVoiceLine(line); !errors.Is(err, models.ErrEmptyFilePath) {
		t.Errorf("expected ErrEmptyFilePath, got %v", err)
	}
}
