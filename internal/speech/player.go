package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
)

// ExecPlayer plays audio artifacts through an external player binary
// (ffplay by default). It satisfies the Player half of the backend contract.
type ExecPlayer struct {
	binary string
	mu     sync.Mutex
	cmd    *exec.Cmd
}

// NewExecPlayer creates a player using the given binary. An empty binary
// selects ffplay.
func NewExecPlayer(binary string) *ExecPlayer {
	if binary == "" {
		binary = "ffplay"
	}
	return &ExecPlayer{binary: binary}
}

// PlayAudio plays the file and blocks until it finishes, is stopped, or ctx
// is cancelled.
func (p *ExecPlayer) PlayAudio(ctx context.Context, filePath string, volume float64) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	// ffplay volume is 0..100.
	cmd := exec.CommandContext(ctx, p.binary,
		"-nodisp", "-autoexit", "-loglevel", "quiet",
		"-volume", fmt.Sprintf("%d", int(volume*100)),
		filePath)

	p.mu.Lock()
	if p.cmd != nil {
		p.mu.Unlock()
		return fmt.Errorf("player busy: another segment is playing")
	}
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("failed to start playback: %w", err)
	}
	p.cmd = cmd
	p.mu.Unlock()

	err := cmd.Wait()

	p.mu.Lock()
	p.cmd = nil
	p.mu.Unlock()

	if ctx.Err() != nil {
		// Cancellation and interruption are not playback failures.
		slog.Debug("Playback cancelled", "path", filePath)
		return nil
	}
	if err != nil {
		// Killed by StopCurrentAudio shows up as an exit error too.
		if _, ok := err.(*exec.ExitError); ok {
			slog.Debug("Playback stopped early", "path", filePath)
			return nil
		}
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}

// StopCurrentAudio kills the currently playing segment, if any.
func (p *ExecPlayer) StopCurrentAudio() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		slog.Debug("Stopping current playback")
		_ = p.cmd.Process.Kill()
	}
}

// IsPlayingAudio reports whether a segment is currently playing.
func (p *ExecPlayer) IsPlayingAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}
