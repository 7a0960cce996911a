package voice

import (
	"context"
	"sync"
)

// NoFocus is the PlayingIndex value when nothing is speaking.
const NoFocus = -1

// Playback wraps a Synthesizer in system-wide mutual exclusion: at most one
// utterance plays at a time, identified by the index of the timeline message
// it belongs to.
type Playback struct {
	engine Synthesizer

	mu     sync.Mutex
	token  int
	gen    uint64
	cancel context.CancelFunc
}

// NewPlayback builds the adapter. A nil engine makes Toggle fail with
// ErrNoCapability.
func NewPlayback(engine Synthesizer) *Playback {
	return &Playback{engine: engine, token: NoFocus}
}

// Toggle stops whatever is speaking first, unconditionally. If the silenced
// utterance carried the requested token the call acts as a pure stop;
// otherwise the new text starts speaking and takes playback focus.
func (p *Playback) Toggle(text string, token int) error {
	p.mu.Lock()
	prev := p.token
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.token = NoFocus
	p.gen++

	if prev == token {
		p.mu.Unlock()
		return nil
	}
	if p.engine == nil {
		p.mu.Unlock()
		return ErrNoCapability
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.token = token
	gen := p.gen
	p.mu.Unlock()

	go func() {
		_ = p.engine.Speak(ctx, text)

		// Clear focus at natural end unless a later Toggle already took over.
		p.mu.Lock()
		if p.gen == gen {
			p.token = NoFocus
			p.cancel = nil
		}
		p.mu.Unlock()
	}()
	return nil
}

// Stop silences any active utterance and clears playback focus.
func (p *Playback) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.token = NoFocus
	p.gen++
	p.mu.Unlock()
}

// PlayingIndex returns the token currently speaking, or NoFocus.
func (p *Playback) PlayingIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}
