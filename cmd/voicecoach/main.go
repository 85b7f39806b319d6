// Command voicecoach runs the voice coaching engine as a standalone harness:
// it wires the store, cache, speech backend, and session coordinator the way
// a host application would, and can replay a captured metrics stream or
// synthesize a demo run.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/strideloop/voicecoach/internal/cache"
	"github.com/strideloop/voicecoach/internal/coach"
	"github.com/strideloop/voicecoach/internal/genai"
	"github.com/strideloop/voicecoach/internal/lockfile"
	"github.com/strideloop/voicecoach/internal/models"
	"github.com/strideloop/voicecoach/internal/pipeline"
	"github.com/strideloop/voicecoach/internal/scheduler"
	"github.com/strideloop/voicecoach/internal/session"
	"github.com/strideloop/voicecoach/internal/speech"
	"github.com/strideloop/voicecoach/internal/store"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for voicecoach state data
	DefaultStateDir = "/var/lib/voicecoach"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "voicecoach.db"
	// DefaultSweepCron runs the cache maintenance sweep every 15 minutes
	DefaultSweepCron = "*/15 * * * *"
)

// Config holds environment configuration
type Config struct {
	DbDriver      string
	DatabaseURL   string
	StateDir      string
	ElevenLabsKey string
	OutputFormat  string
	OpenAIKey     string
	MetricsAddr   string
	SweepCron     string
	PlayerBin     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDriver       *string
	dbDSN          *string
	metricsAddr    *string
	sweepCron      *string
	playerBin      *string
	replayPath     *string
	demo           *bool
	targetPace     *float64
	targetDistance *float64
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "dir", *flags.stateDir)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Another voicecoach instance is using the state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := seedDefaultCoaches(st); err != nil {
		slog.Error("Failed to seed coach personalities", "error", err)
		os.Exit(1)
	}

	voiceCache := cache.New(st)
	coaches, err := coach.NewManager(st)
	if err != nil {
		slog.Error("Failed to initialize coach manager", "error", err)
		os.Exit(1)
	}

	backend, err := buildSpeechBackend(config, flags)
	if err != nil {
		slog.Error("Failed to initialize speech backend", "error", err)
		os.Exit(1)
	}

	coordinator, err := buildSession(flags, voiceCache, coaches, backend, st, config)
	if err != nil {
		slog.Error("Failed to build session coordinator", "error", err)
		os.Exit(1)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.sweepCron, func() {
		if err := voiceCache.Sweep(); err != nil {
			slog.Error("Cache maintenance sweep failed", "error", err)
		}
	}); err != nil {
		slog.Error("Failed to schedule cache sweep", "error", err)
		os.Exit(1)
	}

	if *flags.metricsAddr != "" {
		go serveMetrics(*flags.metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	samples, err := buildSampleFeed(ctx, flags)
	if err != nil {
		slog.Error("Failed to build sample feed", "error", err)
		os.Exit(1)
	}
	if samples == nil {
		slog.Info("No replay or demo feed configured, idling until signal")
		<-ctx.Done()
		return
	}

	if err := coordinator.Start(ctx, samples); err != nil {
		slog.Error("Failed to start session", "error", err)
		os.Exit(1)
	}
	slog.Info("Session running", "phase", coordinator.Phase())

	<-ctx.Done()
	if err := coordinator.Stop(); err != nil && err != models.ErrSessionNotActive {
		slog.Error("Failed to stop session", "error", err)
	}
	final := coordinator.Stats()
	slog.Info("Session finished",
		"triggers", final.TotalTriggersProcessed,
		"errors", final.ErrorCount,
		"success_rate", final.SuccessRate)
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DbDriver:      os.Getenv("VOICECOACH_DB_DRIVER"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("VOICECOACH_STATE_DIR"),
		ElevenLabsKey: os.Getenv("ELEVENLABS_API_KEY"),
		OutputFormat:  os.Getenv("ELEVENLABS_OUTPUT_FORMAT"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),
		SweepCron:     os.Getenv("CACHE_SWEEP_CRON"),
		PlayerBin:     os.Getenv("PLAYER_BIN"),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.SweepCron == "" {
		config.SweepCron = DefaultSweepCron
	}
	return config
}

// parseCommandLineFlags defines and parses flags, with environment values as defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "Directory for state data (database, audio cache)"),
		dbDriver:       flag.String("db-driver", config.DbDriver, "Database driver: sqlite3 or postgres"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "Database DSN (defaults to SQLite in state dir)"),
		metricsAddr:    flag.String("metrics-addr", config.MetricsAddr, "Address for Prometheus metrics (empty disables)"),
		sweepCron:      flag.String("sweep-cron", config.SweepCron, "Cron expression for cache maintenance"),
		playerBin:      flag.String("player", config.PlayerBin, "Audio player binary (default ffplay)"),
		replayPath:     flag.String("replay", "", "Replay a JSONL metrics capture"),
		demo:           flag.Bool("demo", false, "Feed a synthesized demo run"),
		targetPace:     flag.Float64("target-pace", 5.0, "Target pace in min/km"),
		targetDistance: flag.Float64("target-distance", 5000, "Target distance in meters"),
	}
	flag.Parse()
	return flags
}

// buildStore selects the database driver the same way the DSN is configured:
// postgres when requested, SQLite in the state directory otherwise.
func buildStore(flags Flags) (store.Store, error) {
	driver := *flags.dbDriver
	dsn := *flags.dbDSN
	if driver == "postgres" {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	if dsn == "" {
		dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	slog.Info("Using SQLite store", "dsn", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildSpeechBackend wires the ElevenLabs synthesizer and the local player.
func buildSpeechBackend(config Config, flags Flags) (speech.Backend, error) {
	opts := []speech.Option{
		speech.WithAPIKey(config.ElevenLabsKey),
		speech.WithOutputDir(filepath.Join(*flags.stateDir, "audio")),
	}
	if config.OutputFormat != "" {
		opts = append(opts, speech.WithOutputFormat(config.OutputFormat))
	}
	synth, err := speech.NewElevenLabsClient(opts...)
	if err != nil {
		return nil, err
	}
	player := speech.NewExecPlayer(*flags.playerBin)
	return speech.NewService(synth, player), nil
}

// buildSession assembles the pipeline and coordinator around a shared stats
// recorder.
func buildSession(flags Flags, vc *cache.Cache, coaches *coach.Manager, backend speech.Backend, st store.Store, config Config) (*session.Coordinator, error) {
	cfg := models.SessionConfig{
		TargetPace:     *flags.targetPace,
		TargetDistance: *flags.targetDistance,
	}

	var pipeOpts []pipeline.Option
	if config.OpenAIKey != "" {
		composer, err := genai.NewClient(config.OpenAIKey)
		if err != nil {
			return nil, err
		}
		pipeOpts = append(pipeOpts, pipeline.WithComposer(composer))
		slog.Info("GenAI line composer enabled")
	}

	recorder := session.NewRecorder()
	pipe := pipeline.New(vc, coaches, backend, recorder, pipeOpts...)
	return session.NewCoordinatorWithRecorder(cfg, coaches, pipe, st, recorder)
}

// seedDefaultCoaches installs the built-in personalities on first run.
func seedDefaultCoaches(st store.Store) error {
	existing, err := st.ListCoachPersonalities()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	slog.Info("Seeding default coach personalities")
	now := time.Now()
	defaults := []models.CoachPersonality{
		{
			ID:   "aria",
			Name: "Aria",
			Voice: models.VoiceSettings{
				VoiceID: "9BWtsMINqrJLrRacOk9x", Stability: 0.6, SimilarityBoost: 0.8, Style: 0.2,
			},
			MotivationalFrequency: 5 * time.Minute,
			PaceWarningThreshold:  0.5,
			MilestoneAlerts:       true,
			EncouragementLevel:    3,
			Enabled:               true,
			SuccessRate:           1,
			CreatedAt:             now,
			UpdatedAt:             now,
		},
		{
			ID:   "marcus",
			Name: "Marcus",
			Voice: models.VoiceSettings{
				VoiceID: "TxGEqnHWrfWFTfGW9XjX", Stability: 0.4, SimilarityBoost: 0.75, Style: 0.5, SpeakerBoost: true,
			},
			MotivationalFrequency: 3 * time.Minute,
			PaceWarningThreshold:  0.3,
			MilestoneAlerts:       true,
			FormReminders:         true,
			EncouragementLevel:    5,
			Enabled:               true,
			SuccessRate:           1,
			CreatedAt:             now,
			UpdatedAt:             now,
		},
		{
			ID:   "kai",
			Name: "Kai",
			Voice: models.VoiceSettings{
				VoiceID: "onwK4e9ZLuTAKqWW03F9", Stability: 0.8, SimilarityBoost: 0.7,
			},
			MotivationalFrequency: 8 * time.Minute,
			PaceWarningThreshold:  0.8,
			MilestoneAlerts:       true,
			EncouragementLevel:    2,
			Enabled:               true,
			SuccessRate:           1,
			CreatedAt:             now,
			UpdatedAt:             now,
		},
	}
	for _, c := range defaults {
		if err := st.SaveCoachPersonality(c); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics exposes the Prometheus registry.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Metrics server failed", "error", err)
	}
}
