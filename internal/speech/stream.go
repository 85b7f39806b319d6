package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/strideloop/voicecoach/internal/models"
)

// GenerateAudioStream synthesizes text over the ElevenLabs websocket
// streaming endpoint, collecting audio chunks as they are produced. This
// shaves synthesis latency for urgent lines compared to the buffered HTTP
// endpoint.
func (c *ElevenLabsClient) GenerateAudioStream(ctx context.Context, text string, voice models.VoiceSettings) (string, error) {
	if voice.VoiceID == "" {
		return "", models.ErrEmptyVoiceID
	}

	wsURL := strings.Replace(c.baseURL, "http", "ws", 1)
	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		wsURL, voice.VoiceID, c.modelID, c.outputFormat)

	header := http.Header{}
	header.Set("xi-api-key", c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return "", fmt.Errorf("failed to open synthesis stream: %w", err)
	}
	defer conn.Close()

	// Close the socket when ctx is cancelled so pending reads unblock.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	init := map[string]interface{}{
		"text": " ",
		"voice_settings": ttsSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.SimilarityBoost,
			Style:           voice.Style,
			UseSpeakerBoost: voice.SpeakerBoost,
		},
	}
	if err := conn.WriteJSON(init); err != nil {
		return "", fmt.Errorf("failed to initialize synthesis stream: %w", err)
	}
	if err := conn.WriteJSON(map[string]string{"text": text + " "}); err != nil {
		return "", fmt.Errorf("failed to send text to synthesis stream: %w", err)
	}
	// Empty text signals end of input.
	if err := conn.WriteJSON(map[string]string{"text": ""}); err != nil {
		return "", fmt.Errorf("failed to finalize synthesis stream: %w", err)
	}

	var data []byte
	for {
		// The terminator message carries no audio field, so the chunk must
		// be zeroed every iteration or the previous payload bleeds through.
		var chunk struct {
			Audio   string `json:"audio"`
			IsFinal bool   `json:"isFinal"`
			Error   string `json:"error"`
		}
		if err := conn.ReadJSON(&chunk); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("synthesis stream read failed: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("synthesis stream error: %s", chunk.Error)
		}
		if chunk.Audio != "" {
			b, err := base64.StdEncoding.DecodeString(chunk.Audio)
			if err != nil {
				return "", fmt.Errorf("failed to decode audio chunk: %w", err)
			}
			data = append(data, b...)
		}
		if chunk.IsFinal {
			break
		}
	}

	path, err := c.writeArtifact(data)
	if err != nil {
		return "", err
	}
	slog.Debug("ElevenLabs stream synthesis succeeded", "bytes", len(data), "path", path)
	return path, nil
}
