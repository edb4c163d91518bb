package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/obs"
	"github.com/chargx/storefront-gateway/internal/processor"
)

var (
	// ErrUnavailable means the platform lacks the wallet capability.
	ErrUnavailable = errors.New("wallet: not available on this platform")
	// ErrNoWalletConfig means pretransact returned no wallet configuration.
	ErrNoWalletConfig = errors.New("wallet: pretransact response lacks wallet configuration")
	// ErrValidationAborted means merchant validation failed and the session was aborted.
	ErrValidationAborted = errors.New("wallet: merchant validation failed, session aborted")
	// ErrSubmissionRejected means the host checkout declined the payment.
	ErrSubmissionRejected = errors.New("wallet: checkout rejected the payment")
)

// DescriptorFetcher fetches the pretransact descriptor for wallet setup.
type DescriptorFetcher interface {
	Pretransact(ctx context.Context) (processor.PretransactResponse, error)
}

// MerchantValidator is the server-side relay that signs a wallet
// validation URL with the merchant's TLS credentials.
type MerchantValidator interface {
	Validate(ctx context.Context, validationURL string) (json.RawMessage, error)
}

// AppleDriver is the platform-native Apple Pay session surface.
type AppleDriver interface {
	// CanMakePayments is the capability predicate, checked once at init.
	CanMakePayments() bool
	// Begin opens the native payment sheet; the platform posts callbacks
	// through the session's event methods.
	Begin(ctx context.Context, paymentRequest json.RawMessage, s *Session) error
	// CompleteMerchantValidation feeds the signed session into the sheet.
	CompleteMerchantValidation(signedSession json.RawMessage)
	// CompletePayment resolves the sheet with success or failure.
	CompletePayment(success bool)
	// Abort tears the sheet down after an unrecoverable error.
	Abort()
}

// Apple drives an Apple Pay session from button render to settlement
// submission.
type Apple struct {
	Fetcher   DescriptorFetcher
	Driver    AppleDriver
	Relay     MerchantValidator
	Submitter Submitter
	Log       zerolog.Logger

	availOnce sync.Once
	available bool
}

// Available reports the platform capability, evaluated once. The payment
// button must not render when this is false.
func (a *Apple) Available() bool {
	a.availOnce.Do(func() {
		a.available = a.Driver != nil && a.Driver.CanMakePayments()
	})
	return a.available
}

// Begin fetches the wallet payment request, injects the order total, and
// opens the native sheet. The returned session must be driven by Run.
func (a *Apple) Begin(ctx context.Context, total string) (*Session, error) {
	if !a.Available() {
		return nil, ErrUnavailable
	}
	descriptor, err := a.Fetcher.Pretransact(ctx)
	if err != nil {
		return nil, err
	}
	if descriptor.ApplePay == nil || len(descriptor.ApplePay.PaymentRequest) == 0 {
		return nil, ErrNoWalletConfig
	}
	paymentRequest, err := injectTotal(descriptor.ApplePay.PaymentRequest, total)
	if err != nil {
		return nil, err
	}

	s := newSession(WalletApplePay)
	if err := a.Driver.Begin(ctx, paymentRequest, s); err != nil {
		s.transition(StateFailed)
		return nil, err
	}
	return s, nil
}

// Run consumes the session's callback stream until a terminal state. The
// sheet completion callback is resolved exactly once per attempt.
func (a *Apple) Run(ctx context.Context, s *Session) error {
	for {
		select {
		case <-ctx.Done():
			if s.transition(StateFailed) {
				a.Driver.Abort()
			}
			obs.WalletSessionTotal.WithLabelValues(WalletApplePay, "context_cancelled").Inc()
			return ctx.Err()
		case ev := <-s.Events():
			done, err := a.handle(ctx, s, ev)
			if done {
				return err
			}
		}
	}
}

func (a *Apple) handle(ctx context.Context, s *Session, ev Event) (bool, error) {
	switch ev.Kind {
	case EventValidateMerchant:
		signed, err := a.Relay.Validate(ctx, ev.ValidationURL)
		if err != nil {
			a.Log.Error().Err(err).Str("session", s.ID).Msg("apple pay merchant validation failed")
			a.Driver.Abort()
			s.transition(StateFailed)
			obs.WalletSessionTotal.WithLabelValues(WalletApplePay, "validation_failed").Inc()
			return true, fmt.Errorf("%w: %w", ErrValidationAborted, err)
		}
		a.Driver.CompleteMerchantValidation(signed)
		s.transition(StateAwaitingUserAuth)
		return false, nil

	case EventAuthorized:
		s.transition(StateAuthorizedPending)
		blob64 := base64.StdEncoding.EncodeToString(ev.PaymentBlob)
		result, err := a.Submitter.SubmitWalletPayment(ctx, WalletApplePay, blob64)
		success := err == nil && result.Success()
		s.resolveCompletion(a.Driver.CompletePayment, success)
		if !success {
			s.transition(StateFailed)
			obs.WalletSessionTotal.WithLabelValues(WalletApplePay, "submission_failed").Inc()
			if err != nil {
				return true, err
			}
			return true, fmt.Errorf("%w: %s", ErrSubmissionRejected, result.Messages)
		}
		s.transition(StateCompleted)
		obs.WalletSessionTotal.WithLabelValues(WalletApplePay, "completed").Inc()
		return true, nil

	case EventCancelled:
		s.transition(StateCancelled)
		obs.WalletSessionTotal.WithLabelValues(WalletApplePay, "cancelled").Inc()
		return true, nil

	case EventFailed:
		s.transition(StateFailed)
		obs.WalletSessionTotal.WithLabelValues(WalletApplePay, "failed").Inc()
		return true, ev.Err
	}
	return false, nil
}

// injectTotal sets total.amount on the wallet payment request template.
func injectTotal(paymentRequest json.RawMessage, amount string) (json.RawMessage, error) {
	var request map[string]any
	if err := json.Unmarshal(paymentRequest, &request); err != nil {
		return nil, fmt.Errorf("wallet: decode payment request: %w", err)
	}
	total, _ := request["total"].(map[string]any)
	if total == nil {
		total = map[string]any{}
	}
	total["amount"] = amount
	request["total"] = total
	out, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("wallet: encode payment request: %w", err)
	}
	return out, nil
}
