// Package wallet drives the Apple Pay and Google Pay session life cycles,
// bridging platform wallet callbacks into the opaque token contract shared
// with card tokenization. Each session is a small state machine fed by a
// single-consumer event channel; callbacks arriving after a terminal state
// are dropped.
package wallet

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Wallet kinds.
const (
	WalletApplePay  = "apple_pay"
	WalletGooglePay = "google_pay"
)

// State of a wallet session.
type State string

const (
	StateUnavailable       State = "unavailable"
	StateRequesting        State = "requesting"
	StateAwaitingUserAuth  State = "awaiting_user_auth"
	StateAuthorizedPending State = "authorized_pending"
	StateCompleted         State = "completed"
	StateCancelled         State = "cancelled"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed, StateUnavailable:
		return true
	}
	return false
}

// EventKind identifies a platform wallet callback.
type EventKind int

const (
	// EventValidateMerchant carries the wallet-supplied validation URL.
	EventValidateMerchant EventKind = iota
	// EventAuthorized carries the encrypted payment blob.
	EventAuthorized
	// EventCancelled means the buyer dismissed the sheet.
	EventCancelled
	// EventFailed means the platform reported a session error.
	EventFailed
)

// Event is one wallet callback message.
type Event struct {
	Kind          EventKind
	ValidationURL string
	PaymentBlob   json.RawMessage
	Err           error
}

// Session is one wallet payment attempt. Platform callbacks post events
// through the typed methods; the adapter's Run loop is the sole consumer.
type Session struct {
	ID     string
	Wallet string

	mu           sync.Mutex
	state        State
	events       chan Event
	completeOnce sync.Once
}

func newSession(wallet string) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Wallet: wallet,
		state:  StateRequesting,
		events: make(chan Event, 8),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events exposes the callback stream to the single consumer.
func (s *Session) Events() <-chan Event {
	return s.events
}

// RequestMerchantValidation posts the merchant validation callback.
func (s *Session) RequestMerchantValidation(validationURL string) {
	s.post(Event{Kind: EventValidateMerchant, ValidationURL: validationURL})
}

// Authorize posts the payment-authorized callback with the encrypted blob.
func (s *Session) Authorize(paymentBlob json.RawMessage) {
	s.post(Event{Kind: EventAuthorized, PaymentBlob: paymentBlob})
}

// Cancel posts the buyer-cancelled callback.
func (s *Session) Cancel() {
	s.post(Event{Kind: EventCancelled})
}

// Fail posts a platform-level session failure.
func (s *Session) Fail(err error) {
	s.post(Event{Kind: EventFailed, Err: err})
}

// post drops messages once the session is terminal or the buffer is full.
func (s *Session) post(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// transition moves to next unless already terminal.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = next
	return true
}

// resolveCompletion invokes the native sheet completion callback at most
// once per session, regardless of how the attempt ends.
func (s *Session) resolveCompletion(complete func(success bool), success bool) {
	s.completeOnce.Do(func() {
		if complete != nil {
			complete(success)
		}
	})
}

// SubmitResult is the host checkout boundary's response envelope.
type SubmitResult struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect,omitempty"`
	Messages string `json:"messages,omitempty"`
}

// Success reports whether the checkout accepted the payment.
func (r SubmitResult) Success() bool {
	return r.Result == "success"
}

// Submitter submits a wallet payment blob to the host checkout out-of-band,
// outside the synchronous place-order path.
type Submitter interface {
	SubmitWalletPayment(ctx context.Context, wallet, tokenBase64 string) (SubmitResult, error)
}
