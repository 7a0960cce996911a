// Package controller owns the message timeline and drives the turn state
// machine for the dream-interpretation chat.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"oneiro/internal/models"
	"oneiro/internal/quota"
	"oneiro/internal/store"
	"oneiro/internal/voice"
)

// Rejection signals surfaced to the presentation layer as inline notices.
// None of them mutate the timeline.
var (
	// ErrTooShort rejects dream texts under the minimum descriptive length.
	ErrTooShort = errors.New("dream description must be at least 10 characters")
	// ErrTurnInFlight rejects a submission while another turn is pending.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrHistoryLoading rejects submissions while history is being fetched.
	ErrHistoryLoading = errors.New("history is still loading")
	// ErrRegistrationRequired redirects a blocked guest to registration.
	ErrRegistrationRequired = errors.New("registration required")
	// ErrNotPlayable rejects playback of user messages and control markers.
	ErrNotPlayable = errors.New("message cannot be spoken")
)

// minDreamRunes is the minimum trimmed length of a usable dream description.
const minDreamRunes = 10

// Gateway is the controller's view of the remote interpretation service.
type Gateway interface {
	CreateOrFindUser(ctx context.Context, firstName string, lastName *string, dob, phone string) (*models.User, error)
	InterpretAsGuest(ctx context.Context, text string) (string, error)
	InterpretAsRegistered(ctx context.Context, text string, userID int64) (string, error)
	FetchHistory(ctx context.Context, userID int64) ([]models.Message, error)
	CreateInvoice(ctx context.Context, userID int64, amount float64) (string, error)
}

// Options wires the controller's collaborators.
type Options struct {
	Gateway  Gateway
	Store    store.Store
	Capture  *voice.Capture
	Playback *voice.Playback
	// StatusInterval is the cadence of the "still thinking" rotation.
	StatusInterval time.Duration
	// InvoiceAmount is the price passed to invoice creation.
	InvoiceAmount float64
	// OpenLink hands a payment URL to the platform's link opener.
	OpenLink func(url string)
}

// Snapshot is a read-only view of the controller state for the UI.
type Snapshot struct {
	Identity       *models.User     `json:"identity"`
	Timeline       []models.Message `json:"timeline"`
	Input          string           `json:"input"`
	TurnInFlight   bool             `json:"turn_in_flight"`
	LoadingHistory bool             `json:"loading_history"`
	IsRecording    bool             `json:"is_recording"`
	PlayingIndex   int              `json:"playing_index"`
	IsGuestBlocked bool             `json:"is_guest_blocked"`
	// CaptureNotice is a one-shot recognition failure message, cleared once
	// observed.
	CaptureNotice string `json:"capture_notice,omitempty"`
}

// Controller runs all state mutation on a single loop goroutine. Operations
// post closures into the loop and wait, so there is exactly one logical
// thread touching the timeline, the turn state, and the quota mirror.
type Controller struct {
	gateway  Gateway
	store    store.Store
	gate     *quota.Gate
	capture  *voice.Capture
	playback *voice.Playback

	statusInterval time.Duration
	invoiceAmount  float64
	openLink       func(string)

	cmds chan func()
	done chan struct{}
	stop sync.Once

	// Loop-owned state. Guest and registered timelines are disjoint and
	// never merged; identity selects which one is active.
	identity      *models.User
	guestTimeline []models.Message
	userTimeline  []models.Message
	input         string
	quotaUsed     bool
	loading       bool
	captureNotice string
	turn          *activeTurn
	turnSeq       uint64
}

// New builds the controller and starts its run loop.
func New(opts Options) *Controller {
	interval := opts.StatusInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	amount := opts.InvoiceAmount
	if amount <= 0 {
		amount = 100
	}
	capture := opts.Capture
	if capture == nil {
		capture = voice.NewCapture(nil)
	}
	playback := opts.Playback
	if playback == nil {
		playback = voice.NewPlayback(nil)
	}
	c := &Controller{
		gateway:        opts.Gateway,
		store:          opts.Store,
		gate:           quota.NewGate(opts.Store),
		capture:        capture,
		playback:       playback,
		statusInterval: interval,
		invoiceAmount:  amount,
		openLink:       opts.OpenLink,
		cmds:           make(chan func()),
		done:           make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.done:
			return
		}
	}
}

// do runs fn on the loop and waits for it to finish.
func (c *Controller) do(fn func()) {
	doneCh := make(chan struct{})
	select {
	case c.cmds <- func() {
		fn()
		close(doneCh)
	}:
		<-doneCh
	case <-c.done:
	}
}

// post runs fn on the loop without waiting. Used by ticker and gateway
// goroutines re-entering the loop; after Close the work is dropped.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// Close tears the controller down: active capture and playback stop, the
// in-flight turn's ticker is cancelled, and late gateway responses are
// ignored. In-flight gateway requests themselves are not cancelled.
func (c *Controller) Close() {
	c.stop.Do(func() {
		c.do(func() { c.abandonTurn() })
		c.capture.Stop()
		c.playback.Stop()
		close(c.done)
	})
}

// State returns a consistent snapshot of the controller.
func (c *Controller) State() Snapshot {
	var snap Snapshot
	c.do(func() {
		timeline := c.activeTimeline()
		snap = Snapshot{
			Identity:       c.identity,
			Timeline:       append([]models.Message(nil), timeline...),
			Input:          c.input,
			TurnInFlight:   c.turn != nil,
			LoadingHistory: c.loading,
			IsRecording:    c.capture.IsRecording(),
			PlayingIndex:   c.playback.PlayingIndex(),
			IsGuestBlocked: c.identity == nil && c.quotaUsed,
			CaptureNotice:  c.captureNotice,
		}
		c.captureNotice = ""
	})
	return snap
}

// activeTimeline returns the timeline for the current tier. Loop-owned.
func (c *Controller) activeTimeline() []models.Message {
	if c.identity != nil {
		return c.userTimeline
	}
	return c.guestTimeline
}

func (c *Controller) setActiveTimeline(timeline []models.Message) {
	if c.identity != nil {
		c.userTimeline = timeline
	} else {
		c.guestTimeline = timeline
	}
}

// replaceLast swaps the last entry of the active timeline without growing it.
func (c *Controller) replaceLast(msg models.Message) {
	timeline := c.activeTimeline()
	if len(timeline) == 0 {
		return
	}
	timeline[len(timeline)-1] = msg
}

func (c *Controller) appendMessage(msg models.Message) {
	c.setActiveTimeline(append(c.activeTimeline(), msg))
}
