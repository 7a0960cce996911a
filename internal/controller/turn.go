package controller

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"oneiro/internal/gateway"
	"oneiro/internal/models"
)

const interpretationFailed = "Произошла ошибка. Пожалуйста, попробуйте отправить сообщение еще раз."

// activeTurn is the in-flight unit of interaction. It owns the status-cycle
// ticker, which dies with the turn.
type activeTurn struct {
	seq    uint64
	ticker *time.Ticker
	halt   chan struct{}
	phase  int
}

// stopCycle cancels the recurring status rotation. Safe to call once only;
// resolution and teardown are the sole callers and are serialized by the
// controller loop.
func (t *activeTurn) stopCycle() {
	t.ticker.Stop()
	close(t.halt)
}

// abandonTurn drops the in-flight turn without resolving it. Loop-owned;
// every tier transition goes through here so a late gateway response fails
// the sequence check instead of landing in the fresh timeline.
func (c *Controller) abandonTurn() {
	if c.turn != nil {
		c.turn.stopCycle()
		c.turn = nil
	}
}

// SubmitTurn validates the dream text and, if accepted, appends the user
// message plus a pending marker, starts the status cycle and issues the
// interpretation request for the active tier. Rejections leave the timeline
// untouched.
func (c *Controller) SubmitTurn(ctx context.Context, rawText string) error {
	text := strings.TrimSpace(rawText)

	var submitErr error
	c.do(func() {
		if utf8.RuneCountInString(text) < minDreamRunes {
			submitErr = ErrTooShort
			return
		}
		if c.turn != nil {
			submitErr = ErrTurnInFlight
			return
		}
		if c.loading {
			submitErr = ErrHistoryLoading
			return
		}
		guest := c.identity == nil
		if guest && c.quotaUsed {
			submitErr = ErrRegistrationRequired
			return
		}

		c.appendMessage(models.Message{Role: models.RoleUser, Text: text})
		c.appendMessage(models.Message{Role: models.RoleBot, Text: models.PendingText})
		c.input = ""

		c.turnSeq++
		turn := &activeTurn{
			seq:    c.turnSeq,
			ticker: time.NewTicker(c.statusInterval),
			halt:   make(chan struct{}),
		}
		c.turn = turn
		go c.runCycle(turn)

		var userID int64
		if !guest {
			userID = c.identity.ID
		}
		// The turn outlives the submitting call: an HTTP bridge caller gets
		// its 202 and its request context dies immediately, so the gateway
		// request must not inherit that cancellation. Late responses are
		// dropped by the sequence check, not by a cancellation token.
		go c.interpret(context.WithoutCancel(ctx), turn.seq, text, guest, userID)
	})
	return submitErr
}

// runCycle forwards ticker beats into the loop tagged with the turn sequence
// so a beat that raced resolution is dropped instead of overwriting the
// final answer.
func (c *Controller) runCycle(turn *activeTurn) {
	for {
		select {
		case <-turn.ticker.C:
			c.post(func() { c.statusTick(turn.seq) })
		case <-turn.halt:
			return
		}
	}
}

// statusTick replaces the last timeline entry with the next whimsical
// "still thinking" phrase. The timeline never grows during the cycle.
func (c *Controller) statusTick(seq uint64) {
	if c.turn == nil || c.turn.seq != seq {
		return
	}
	phrase := models.ThinkingPhrases[c.turn.phase%len(models.ThinkingPhrases)]
	c.turn.phase++
	c.replaceLast(models.Message{Role: models.RoleBot, Text: phrase})
}

// interpret performs the gateway call off-loop and posts the resolution.
func (c *Controller) interpret(ctx context.Context, seq uint64, text string, guest bool, userID int64) {
	var reply string
	var err error
	if guest {
		reply, err = c.gateway.InterpretAsGuest(ctx, text)
	} else {
		reply, err = c.gateway.InterpretAsRegistered(ctx, text, userID)
	}
	c.post(func() { c.resolveTurn(seq, guest, reply, err) })
}

// resolveTurn finalizes the in-flight turn. The status cycle is cancelled
// first so no tick initiated after this point is honored, and the turn is
// cleared unconditionally.
func (c *Controller) resolveTurn(seq uint64, guest bool, reply string, err error) {
	if c.turn == nil || c.turn.seq != seq {
		// Superseded by logout or teardown; the response is ignored.
		return
	}
	c.turn.stopCycle()
	defer func() { c.turn = nil }()

	if err != nil {
		c.replaceLast(models.Message{Role: models.RoleBot, Text: diagnosticText(err)})
		return
	}

	c.replaceLast(models.Message{Role: models.RoleBot, Text: reply})

	if guest {
		c.quotaUsed = true
		if consumeErr := c.gate.Consume(context.Background()); consumeErr != nil {
			log.Printf("persist guest quota: %v", consumeErr)
		}
		// The interpretation and the invitation are two distinct permanent
		// entries: this one is appended, not a replacement.
		c.appendMessage(models.Message{Role: models.RoleBot, Text: models.RegisterInviteText})
	}
}

// diagnosticText prefers the backend-supplied detail over the generic retry
// prompt.
func diagnosticText(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return interpretationFailed
}
