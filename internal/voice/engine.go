// Package voice coordinates speech capture and playback over injected
// engines so at most one session of each kind runs at a time.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"oneiro/internal/config"
)

// ErrNoCapability is reported when the host has no speech engine configured.
var ErrNoCapability = errors.New("voice: capability not available on this platform")

// Recognizer runs a single-shot, non-continuous recognition session in the
// interpretation language and returns the final transcript.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Synthesizer speaks one utterance, returning when playback finishes or the
// context is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// commandRecognizer shells out to a helper that records from the microphone
// and prints the transcript on stdout.
type commandRecognizer struct {
	argv []string
}

func (r *commandRecognizer) Recognize(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("recognize helper: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// commandSynthesizer shells out to a helper that reads text on stdin and
// plays it aloud.
type commandSynthesizer struct {
	argv []string
}

func (s *commandSynthesizer) Speak(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("speak helper: %w", err)
	}
	return nil
}

// Engines builds the configured helper-process engines. A nil engine means
// the capability is absent and the matching affordance stays disabled.
func Engines(cfg config.VoiceConfig) (Recognizer, Synthesizer) {
	var rec Recognizer
	var syn Synthesizer
	if len(cfg.RecognizeCommand) > 0 {
		rec = &commandRecognizer{argv: cfg.RecognizeCommand}
	}
	if len(cfg.SpeakCommand) > 0 {
		syn = &commandSynthesizer{argv: cfg.SpeakCommand}
	}
	return rec, syn
}
