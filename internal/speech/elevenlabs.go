package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/strideloop/voicecoach/internal/audio"
	"github.com/strideloop/voicecoach/internal/models"
)

// Defaults for the ElevenLabs client.
const (
	DefaultBaseURL      = "https://api.elevenlabs.io"
	DefaultModelID      = "eleven_turbo_v2"
	DefaultOutputFormat = "pcm_22050"
	DefaultHTTPTimeout  = 30 * time.Second
)

// Opts holds configuration options for the ElevenLabs client.
type Opts struct {
	APIKey       string
	BaseURL      string
	ModelID      string
	OutputDir    string
	OutputFormat string
	HTTPClient   *http.Client
}

// Option configures ElevenLabs client options.
type Option func(*Opts)

// WithAPIKey sets the ElevenLabs API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModelID sets the synthesis model.
func WithModelID(id string) Option {
	return func(o *Opts) { o.ModelID = id }
}

// WithOutputDir sets the directory where synthesized audio is written.
func WithOutputDir(dir string) Option {
	return func(o *Opts) { o.OutputDir = dir }
}

// WithOutputFormat sets the ElevenLabs output_format parameter. Raw pcm_*
// formats are wrapped in a WAV container on write so cached lines carry a
// measurable duration; anything else is written verbatim as MP3.
func WithOutputFormat(format string) Option {
	return func(o *Opts) { o.OutputFormat = format }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// ElevenLabsClient synthesizes coaching lines through the ElevenLabs API.
type ElevenLabsClient struct {
	apiKey       string
	baseURL      string
	modelID      string
	outputDir    string
	outputFormat string
	http         *http.Client
}

// NewElevenLabsClient creates a synthesizer client. The API key and output
// directory are required.
func NewElevenLabsClient(opts ...Option) (*ElevenLabsClient, error) {
	cfg := Opts{BaseURL: DefaultBaseURL, ModelID: DefaultModelID, OutputFormat: DefaultOutputFormat}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ElevenLabs API key not set")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory not set")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	slog.Debug("ElevenLabs client created", "base_url", cfg.BaseURL, "model", cfg.ModelID,
		"output_format", cfg.OutputFormat)
	return &ElevenLabsClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		modelID:      cfg.ModelID,
		outputDir:    cfg.OutputDir,
		outputFormat: cfg.OutputFormat,
		http:         cfg.HTTPClient,
	}, nil
}

// pcmSampleRate extracts the sample rate from a pcm_* output format, e.g.
// pcm_22050. Returns false for container formats handled by the API itself.
func pcmSampleRate(format string) (int, bool) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, false
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

// writeArtifact persists synthesized audio to the output directory. Raw PCM
// is wrapped in a WAV container so the cache can probe a real duration.
func (c *ElevenLabsClient) writeArtifact(data []byte) (string, error) {
	if rate, ok := pcmSampleRate(c.outputFormat); ok {
		path := filepath.Join(c.outputDir, uuid.NewString()+".wav")
		if err := audio.WritePCM(path, data, rate); err != nil {
			return "", fmt.Errorf("failed to write audio file: %w", err)
		}
		return path, nil
	}
	path := filepath.Join(c.outputDir, uuid.NewString()+".mp3")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	return path, nil
}

// ttsRequest is the text-to-speech request payload.
type ttsRequest struct {
	Text          string      `json:"text"`
	ModelID       string      `json:"model_id"`
	VoiceSettings ttsSettings `json:"voice_settings"`
}

type ttsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// GenerateAudio synthesizes text with the given voice settings and writes the
// resulting audio to the output directory, returning its path.
func (c *ElevenLabsClient) GenerateAudio(ctx context.Context, text string, voice models.VoiceSettings) (string, error) {
	if voice.VoiceID == "" {
		return "", models.ErrEmptyVoiceID
	}

	payload, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: ttsSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.SimilarityBoost,
			Style:           voice.Style,
			UseSpeakerBoost: voice.SpeakerBoost,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.baseURL, voice.VoiceID, c.outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build synthesis request: %w", err)
	}
	accept := "audio/mpeg"
	if _, ok := pcmSampleRate(c.outputFormat); ok {
		accept = "application/octet-stream"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("xi-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("ElevenLabs synthesis request failed", "error", err)
		return "", fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("ElevenLabs synthesis rejected", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("synthesis failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read synthesis response: %w", err)
	}
	path, err := c.writeArtifact(data)
	if err != nil {
		return "", err
	}

	slog.Debug("ElevenLabs synthesis succeeded", "bytes", len(data), "latency", time.Since(start), "path", path)
	return path, nil
}
