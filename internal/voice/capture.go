package voice

import (
	"context"
	"errors"
	"sync"
)

// ErrCaptureActive is returned when a session is already listening. Callers
// are expected to gate the affordance on IsRecording instead of racing.
var ErrCaptureActive = errors.New("voice: capture session already active")

// Capture wraps a Recognizer in single-session semantics: exactly one final
// transcript (or one error) per activation, then back to idle.
type Capture struct {
	engine Recognizer

	mu     sync.Mutex
	cancel context.CancelFunc // non-nil while listening
}

// NewCapture builds the adapter. A nil engine makes Start fail with
// ErrNoCapability so the caller can disable the affordance.
func NewCapture(engine Recognizer) *Capture {
	return &Capture{engine: engine}
}

// Start begins listening. onResult fires at most once with the final
// transcript; onError fires instead when the session fails. Either way the
// adapter is idle again before the callback runs.
func (c *Capture) Start(onResult func(transcript string), onError func(error)) error {
	if c.engine == nil {
		return ErrNoCapability
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrCaptureActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		transcript, err := c.engine.Recognize(ctx)

		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if onError != nil {
				onError(err)
			}
			return
		}
		if onResult != nil {
			onResult(transcript)
		}
	}()
	return nil
}

// Stop aborts the active session. It is a no-op when idle.
func (c *Capture) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsRecording reports whether a session is listening.
func (c *Capture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}
