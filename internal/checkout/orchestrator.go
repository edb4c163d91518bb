package checkout

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/processor"
	"github.com/chargx/storefront-gateway/internal/tokenize"
)

// Tokenizer exchanges card input for opaque data.
type Tokenizer interface {
	Tokenize(ctx context.Context, in tokenize.CardInput) (processor.OpaqueData, error)
}

// Submission is the host checkout's place-order continuation. Proceed runs
// the default submission with the token injected; OnError surfaces a
// field-level error to the buyer.
type Submission interface {
	Proceed(ctx context.Context, opaque processor.OpaqueData) error
	OnError(err error)
}

// Orchestrator intercepts the place-order action for card payments. The
// first trigger with no token suppresses submission, tokenizes, and
// re-triggers; the re-trigger sees the stored token and passes through
// exactly once, then the session returns to idle. Every state transition
// is a compare-and-set against the attempt store, so concurrent triggers
// for one session collapse to a single attempt: losers observe a conflict
// and drop out. A failed attempt surfaces the error and leaves the
// session retryable.
type Orchestrator struct {
	Store     AttemptStore
	Tokenizer Tokenizer
	Log       zerolog.Logger
}

// PlaceOrder handles one place-order trigger for a checkout session.
func (o *Orchestrator) PlaceOrder(ctx context.Context, sessionID string, card tokenize.CardInput, submission Submission) error {
	attempt, err := o.Store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	switch attempt.State {
	case StateTokenizing, StateSubmitting:
		// A pending attempt owns the session; re-entrant triggers are no-ops.
		return nil
	case StateTokenized:
		return o.submit(ctx, attempt, submission)
	default:
		// Idle or Failed: a fresh attempt starts with tokenization.
		return o.tokenizeAndRetrigger(ctx, attempt, card, submission)
	}
}

func (o *Orchestrator) tokenizeAndRetrigger(ctx context.Context, attempt Attempt, card tokenize.CardInput, submission Submission) error {
	from := attempt.State
	if from == "" {
		from = StateIdle
	}
	attempt.State = StateTokenizing
	attempt.Token = ""
	if err := o.Store.Transition(ctx, attempt, from); err != nil {
		if errors.Is(err, ErrStateConflict) {
			// Another trigger claimed the session first.
			return nil
		}
		return err
	}

	opaque, err := o.Tokenizer.Tokenize(ctx, card)
	if err != nil {
		o.Log.Warn().Err(err).Str("session", attempt.SessionID).Msg("tokenization failed")
		if resetErr := o.Store.Reset(ctx, attempt.SessionID); resetErr != nil {
			o.Log.Error().Err(resetErr).Str("session", attempt.SessionID).Msg("attempt reset failed")
		}
		submission.OnError(err)
		return err
	}

	attempt.State = StateTokenized
	if err := attempt.SetToken(opaque); err != nil {
		return err
	}
	if err := o.Store.Save(ctx, attempt); err != nil {
		return err
	}

	// Re-trigger: this pass sees the stored token and submits.
	return o.PlaceOrder(ctx, attempt.SessionID, tokenize.CardInput{}, submission)
}

func (o *Orchestrator) submit(ctx context.Context, attempt Attempt, submission Submission) error {
	opaque, err := attempt.OpaqueData()
	if err != nil {
		_ = o.Store.Reset(ctx, attempt.SessionID)
		submission.OnError(err)
		return err
	}

	attempt.State = StateSubmitting
	if err := o.Store.Transition(ctx, attempt, StateTokenized); err != nil {
		if errors.Is(err, ErrStateConflict) {
			// Another trigger already took the token through.
			return nil
		}
		return err
	}

	if err := submission.Proceed(ctx, opaque); err != nil {
		o.Log.Warn().Err(err).Str("session", attempt.SessionID).Msg("checkout submission failed")
		attempt.State = StateFailed
		attempt.Token = ""
		if saveErr := o.Store.Save(ctx, attempt); saveErr != nil {
			o.Log.Error().Err(saveErr).Str("session", attempt.SessionID).Msg("attempt save failed")
		}
		submission.OnError(err)
		return err
	}

	// Allow-through complete; the session returns to idle.
	return o.Store.Reset(ctx, attempt.SessionID)
}
