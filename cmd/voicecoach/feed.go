package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/strideloop/voicecoach/internal/models"
)

// capturedSample is the JSONL wire form of a recorded metrics sample.
type capturedSample struct {
	DistanceMeters float64 `json:"distance_m"`
	ElapsedSeconds float64 `json:"elapsed_s"`
	CurrentPace    float64 `json:"current_pace"`
	AveragePace    float64 `json:"average_pace"`
	HeartRate      *int    `json:"heart_rate,omitempty"`
	ElevationGain  float64 `json:"elevation_gain_m"`
}

// buildSampleFeed returns the metrics stream for this invocation: a JSONL
// replay, a synthesized demo run, or nil when neither was requested.
func buildSampleFeed(ctx context.Context, flags Flags) (<-chan models.RunMetricsSample, error) {
	if *flags.replayPath != "" {
		return replayFeed(ctx, *flags.replayPath)
	}
	if *flags.demo {
		return demoFeed(ctx, *flags.targetPace, *flags.targetDistance), nil
	}
	return nil, nil
}

// replayFeed streams samples from a JSONL capture, pacing them by the elapsed
// deltas between consecutive samples.
func replayFeed(ctx context.Context, path string) (<-chan models.RunMetricsSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}

	out := make(chan models.RunMetricsSample)
	go func() {
		defer close(out)
		defer f.Close()

		start := time.Now()
		var prevElapsed time.Duration
		scanner := bufio.NewScanner(f)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			var cs capturedSample
			if err := json.Unmarshal(raw, &cs); err != nil {
				slog.Warn("Skipping malformed replay line", "line", line, "error", err)
				continue
			}
			elapsed := time.Duration(cs.ElapsedSeconds * float64(time.Second))
			if wait := elapsed - prevElapsed; wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
			prevElapsed = elapsed

			sample := models.RunMetricsSample{
				Distance:      cs.DistanceMeters,
				Elapsed:       elapsed,
				CurrentPace:   cs.CurrentPace,
				AveragePace:   cs.AveragePace,
				HeartRate:     cs.HeartRate,
				ElevationGain: cs.ElevationGain,
				Timestamp:     start.Add(elapsed),
			}
			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("Replay read failed", "error", err, "path", path)
		}
		slog.Info("Replay finished", "path", path, "samples", line)
	}()
	return out, nil
}

// demoFeed synthesizes a run at roughly the target pace with a slow sinusoidal
// drift, one sample per second, ending when the target distance is reached.
func demoFeed(ctx context.Context, targetPace, targetDistance float64) <-chan models.RunMetricsSample {
	out := make(chan models.RunMetricsSample)
	go func() {
		defer close(out)

		start := time.Now()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		var distance float64
		for tick := 1; ; tick++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			elapsed := time.Duration(tick) * time.Second

			// Drift the pace around the target so feedback triggers fire.
			pace := targetPace * (1 + 0.3*math.Sin(float64(tick)/45))
			distance += 1000 / (pace * 60) // meters per second at this pace
			hr := 130 + int(30*math.Sin(float64(tick)/90))

			avgPace := targetPace
			if distance > 0 {
				avgPace = elapsed.Minutes() / (distance / 1000)
			}

			sample := models.RunMetricsSample{
				Distance:    distance,
				Elapsed:     elapsed,
				CurrentPace: pace,
				AveragePace: avgPace,
				HeartRate:   &hr,
				Timestamp:   start.Add(elapsed),
			}
			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
			if distance >= targetDistance {
				slog.Info("Demo run complete", "distance", distance, "elapsed", elapsed)
				return
			}
		}
	}()
	return out
}
