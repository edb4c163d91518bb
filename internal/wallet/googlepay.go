package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/obs"
)

// GoogleDriver is the platform-native PaymentRequest surface.
type GoogleDriver interface {
	// Present is the wallet API presence gate, checked once at init.
	Present() bool
	// IsReadyToPay probes payability for the given method data.
	IsReadyToPay(ctx context.Context, methodData json.RawMessage) (bool, error)
	// Show opens the native payment sheet; the platform posts callbacks
	// through the session's event methods.
	Show(ctx context.Context, request json.RawMessage, s *Session) error
	// Complete resolves the sheet so the native UI closes. Leaving it
	// unresolved leaves the sheet stuck.
	Complete(success bool)
}

// Google drives a Google Pay session from button render to settlement
// submission.
type Google struct {
	Fetcher      DescriptorFetcher
	Driver       GoogleDriver
	Submitter    Submitter
	CurrencyCode string
	Log          zerolog.Logger

	availOnce sync.Once
	available bool
}

// Available reports wallet API presence, evaluated once. The payment
// button must not render when this is false.
func (g *Google) Available() bool {
	g.availOnce.Do(func() {
		g.available = g.Driver != nil && g.Driver.Present()
	})
	return g.available
}

// Begin fetches the wallet method descriptor, builds a payment request with
// the order total, probes payability, and shows the native sheet.
func (g *Google) Begin(ctx context.Context, total string) (*Session, error) {
	if !g.Available() {
		return nil, ErrUnavailable
	}
	descriptor, err := g.Fetcher.Pretransact(ctx)
	if err != nil {
		return nil, err
	}
	if descriptor.GooglePay == nil || len(descriptor.GooglePay.MethodData) == 0 {
		return nil, ErrNoWalletConfig
	}

	ready, err := g.Driver.IsReadyToPay(ctx, descriptor.GooglePay.MethodData)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrUnavailable
	}

	request, err := buildGoogleRequest(descriptor.GooglePay.MethodData, total, g.CurrencyCode)
	if err != nil {
		return nil, err
	}

	s := newSession(WalletGooglePay)
	if err := g.Driver.Show(ctx, request, s); err != nil {
		s.transition(StateFailed)
		return nil, err
	}
	s.transition(StateAwaitingUserAuth)
	return s, nil
}

// Run consumes the session's callback stream until a terminal state. The
// sheet completion callback is resolved exactly once per attempt.
func (g *Google) Run(ctx context.Context, s *Session) error {
	for {
		select {
		case <-ctx.Done():
			s.transition(StateFailed)
			obs.WalletSessionTotal.WithLabelValues(WalletGooglePay, "context_cancelled").Inc()
			return ctx.Err()
		case ev := <-s.Events():
			done, err := g.handle(ctx, s, ev)
			if done {
				return err
			}
		}
	}
}

func (g *Google) handle(ctx context.Context, s *Session, ev Event) (bool, error) {
	switch ev.Kind {
	case EventAuthorized:
		s.transition(StateAuthorizedPending)
		blob64 := base64.StdEncoding.EncodeToString(ev.PaymentBlob)
		result, err := g.Submitter.SubmitWalletPayment(ctx, WalletGooglePay, blob64)
		success := err == nil && result.Success()
		s.resolveCompletion(g.Driver.Complete, success)
		if !success {
			s.transition(StateFailed)
			obs.WalletSessionTotal.WithLabelValues(WalletGooglePay, "submission_failed").Inc()
			if err != nil {
				return true, err
			}
			return true, fmt.Errorf("%w: %s", ErrSubmissionRejected, result.Messages)
		}
		s.transition(StateCompleted)
		obs.WalletSessionTotal.WithLabelValues(WalletGooglePay, "completed").Inc()
		return true, nil

	case EventCancelled:
		s.transition(StateCancelled)
		obs.WalletSessionTotal.WithLabelValues(WalletGooglePay, "cancelled").Inc()
		return true, nil

	case EventFailed:
		s.transition(StateFailed)
		obs.WalletSessionTotal.WithLabelValues(WalletGooglePay, "failed").Inc()
		return true, ev.Err

	case EventValidateMerchant:
		// Google Pay has no merchant validation step.
		g.Log.Warn().Str("session", s.ID).Msg("unexpected merchant validation event on google pay session")
		return false, nil
	}
	return false, nil
}

// buildGoogleRequest combines the method descriptor with transaction info.
func buildGoogleRequest(methodData json.RawMessage, total, currency string) (json.RawMessage, error) {
	request := map[string]any{
		"methodData": json.RawMessage(methodData),
		"details": map[string]any{
			"total": map[string]any{
				"label": "Total",
				"amount": map[string]any{
					"currency": currency,
					"value":    total,
				},
			},
		},
	}
	out, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("wallet: encode payment request: %w", err)
	}
	return out, nil
}
