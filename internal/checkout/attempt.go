// Package checkout owns the payment attempt state machine that gates the
// host checkout's place-order action for card payments. One attempt per
// checkout session, stored server-side so concurrent forms and tabs do not
// share a processing flag. Wallet payments bypass this machine and submit
// out-of-band.
package checkout

import (
	"encoding/json"
	"time"

	"github.com/chargx/storefront-gateway/internal/processor"
)

// AttemptState is the per-session payment attempt state.
type AttemptState string

const (
	StateIdle       AttemptState = "idle"
	StateTokenizing AttemptState = "tokenizing"
	StateTokenized  AttemptState = "tokenized"
	StateSubmitting AttemptState = "submitting"
	StateFailed     AttemptState = "failed"
)

// Attempt is one checkout session's payment attempt. Token holds the
// serialized opaque data between tokenization and submission and is cleared
// on reset.
type Attempt struct {
	SessionID string       `json:"sessionId"`
	State     AttemptState `json:"state"`
	Token     string       `json:"token,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// SetToken stores the serialized opaque data on the attempt.
func (a *Attempt) SetToken(opaque processor.OpaqueData) error {
	raw, err := json.Marshal(opaque)
	if err != nil {
		return err
	}
	a.Token = string(raw)
	return nil
}

// OpaqueData decodes the stored token.
func (a *Attempt) OpaqueData() (processor.OpaqueData, error) {
	var opaque processor.OpaqueData
	err := json.Unmarshal([]byte(a.Token), &opaque)
	return opaque, err
}

// HasToken reports whether a token is present on the attempt.
func (a *Attempt) HasToken() bool {
	return a.Token != ""
}
