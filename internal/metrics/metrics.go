// Package metrics exposes Prometheus instrumentation for the coaching engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicecoach_triggers_total",
		Help: "Coaching events emitted, by event type",
	}, []string{"type"})

	TriggersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicecoach_triggers_dropped_total",
		Help: "Coaching events dropped before playback, by reason",
	}, []string{"reason"})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicecoach_generation_duration_seconds",
		Help:    "Speech synthesis latency on cache miss",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 15.0},
	})

	GenerationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicecoach_generation_errors_total",
		Help: "Failed or timed-out speech synthesis requests",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicecoach_cache_hits_total",
		Help: "Voice line cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicecoach_cache_misses_total",
		Help: "Voice line cache misses, including invalidated entries",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicecoach_cache_evictions_total",
		Help: "Voice line cache entries removed by LRU eviction",
	})

	PlaybackActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicecoach_playback_active",
		Help: "Whether a coaching line is currently playing (0 or 1)",
	})

	PlaybackInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicecoach_playback_interrupts_total",
		Help: "Playback segments cut short by an urgent event",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicecoach_sessions_active",
		Help: "Currently active coaching sessions",
	})
)
