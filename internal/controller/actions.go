package controller

import (
	"context"

	"oneiro/internal/models"
)

// RequestPayment asks the gateway for an invoice link and hands it to the
// platform's link opener. Guests are redirected to registration without a
// gateway call. Failures never touch the timeline.
func (c *Controller) RequestPayment(ctx context.Context) (string, error) {
	var userID int64
	var guest bool
	c.do(func() {
		guest = c.identity == nil
		if !guest {
			userID = c.identity.ID
		}
	})
	if guest {
		return "", ErrRegistrationRequired
	}

	url, err := c.gateway.CreateInvoice(ctx, userID, c.invoiceAmount)
	if err != nil {
		return "", err
	}
	if c.openLink != nil {
		c.openLink(url)
	}
	return url, nil
}

// ToggleCapture starts a recognition session, or stops the active one. A
// final transcript replaces the input buffer entirely.
func (c *Controller) ToggleCapture() error {
	if c.capture.IsRecording() {
		c.capture.Stop()
		return nil
	}
	return c.capture.Start(
		func(transcript string) {
			c.post(func() { c.input = transcript })
		},
		func(err error) {
			// The session already returned to idle; just leave a notice for
			// the next snapshot.
			c.post(func() { c.captureNotice = err.Error() })
		},
	)
}

// TogglePlayback speaks the addressed bot message, or silences it when it is
// the one already speaking. User messages and control markers are refused.
func (c *Controller) TogglePlayback(index int) error {
	var msg models.Message
	var toggleErr error
	c.do(func() {
		timeline := c.activeTimeline()
		if index < 0 || index >= len(timeline) {
			toggleErr = ErrNotPlayable
			return
		}
		msg = timeline[index]
		if msg.Role != models.RoleBot || models.IsSentinel(msg) {
			toggleErr = ErrNotPlayable
		}
	})
	if toggleErr != nil {
		return toggleErr
	}
	return c.playback.Toggle(msg.Text, index)
}
