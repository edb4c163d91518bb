// Package settlement exchanges opaque payment tokens for settled processor
// transactions and maps the outcome onto order state. Meta fields are
// written only after a successful settlement; a failure marks the order
// failed and leaves everything else untouched.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chargx/storefront-gateway/internal/obs"
	"github.com/chargx/storefront-gateway/internal/order"
	"github.com/chargx/storefront-gateway/internal/processor"
)

var tracer = otel.Tracer("settlement")

// Payment methods understood by the settlement service.
const (
	MethodCard      = "card"
	MethodApplePay  = "apple_pay"
	MethodGooglePay = "google_pay"
)

// Capture modes.
const (
	ModeSale      = "capture"
	ModeAuthorize = "authorize"
)

var (
	// ErrMissingToken means the checkout payload carried no opaque token.
	ErrMissingToken = errors.New("settlement: opaque payment token is missing")
	// ErrInvalidToken means the opaque token was not well-formed JSON.
	ErrInvalidToken = errors.New("settlement: opaque payment token is malformed")
	// ErrMissingTransactionID means the processor accepted the charge but
	// returned no transaction id, which makes capture/refund/void impossible.
	ErrMissingTransactionID = errors.New("settlement: processor response has no transaction id")
	// ErrNoRemoteTransaction means the order has no recorded processor transaction.
	ErrNoRemoteTransaction = errors.New("settlement: no processor transaction recorded for this order")
	// ErrUnknownWallet means the wallet kind is not apple_pay or google_pay.
	ErrUnknownWallet = errors.New("settlement: unknown wallet kind")
)

// ProcessorAPI is the slice of the processor client the service needs.
type ProcessorAPI interface {
	Transact(ctx context.Context, req processor.TransactRequest) (processor.TransactResponse, error)
	Authorize(ctx context.Context, req processor.TransactRequest) (processor.TransactResponse, error)
	Capture(ctx context.Context, orderID string) (processor.TransactResponse, error)
	Refund(ctx context.Context, orderID string) (processor.TransactResponse, error)
	Void(ctx context.Context, orderID string) (processor.TransactResponse, error)
}

// SubscriptionProvisioner schedules processor subscription provisioning for
// a settled recurring order.
type SubscriptionProvisioner interface {
	EnqueueProvision(ctx context.Context, orderID string) error
}

// Result is the buyer-facing settlement outcome.
type Result struct {
	TransactionID string
	DisplayID     string
	OnHold        bool
}

// Service performs one settlement call per order-processing invocation.
// Replay protection is the caller's concern; the checkout route sits behind
// the idempotency middleware.
type Service struct {
	API         ProcessorAPI
	Orders      order.Store
	Cart        order.CartClearer
	Subs        SubscriptionProvisioner
	CaptureMode string
	Log         zerolog.Logger
}

// SettleCard charges a card token for the order. Deferred-capture mode
// authorizes instead of charging.
func (s *Service) SettleCard(ctx context.Context, orderID, rawToken string) (Result, error) {
	opaque, err := decodeToken(rawToken)
	if err != nil {
		return Result{}, err
	}
	mode := ModeSale
	if s.CaptureMode == ModeAuthorize {
		mode = ModeAuthorize
	}
	return s.settle(ctx, orderID, MethodCard, mode, opaque)
}

// SettleWallet charges a wallet payment blob. Wallet settlements are always
// a sale.
func (s *Service) SettleWallet(ctx context.Context, orderID, wallet, tokenBase64 string) (Result, error) {
	if strings.TrimSpace(tokenBase64) == "" {
		return Result{}, ErrMissingToken
	}
	var descriptor string
	switch wallet {
	case MethodApplePay:
		descriptor = processor.ApplePayDescriptor
	case MethodGooglePay:
		descriptor = processor.GooglePayDescriptor
	default:
		return Result{}, ErrUnknownWallet
	}
	opaque := processor.WalletOpaqueData(descriptor, tokenBase64)
	return s.settle(ctx, orderID, wallet, ModeSale, opaque)
}

func (s *Service) settle(ctx context.Context, orderID, method, mode string, opaque processor.OpaqueData) (Result, error) {
	ctx, span := tracer.Start(ctx, "settlement.settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("payment.method", method),
		attribute.String("payment.mode", mode),
	)

	ord, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return Result{}, err
	}

	req := processor.TransactRequest{
		Currency:   ord.Currency,
		Amount:     ord.Amount,
		Type:       "fiat",
		OpaqueData: opaque,
		Customer: processor.Customer{
			Name:  ord.Customer.Name,
			Email: ord.Customer.Email,
			Phone: ord.Customer.Phone,
		},
		BillingAddress: processor.BillingAddress{
			Street:      ord.Billing.Street,
			Unit:        ord.Billing.Unit,
			City:        ord.Billing.City,
			State:       ord.Billing.State,
			ZipCode:     ord.Billing.ZipCode,
			CountryCode: ord.Billing.CountryCode,
			Phone:       ord.Billing.Phone,
		},
		OrderID: ord.ID,
	}

	var resp processor.TransactResponse
	if mode == ModeAuthorize {
		resp, err = s.API.Authorize(ctx, req)
	} else {
		resp, err = s.API.Transact(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		s.markFailed(ctx, orderID)
		obs.SettlementTotal.WithLabelValues(method, mode, "declined").Inc()
		return Result{}, err
	}

	txID := strings.TrimSpace(resp.Result.OrderID)
	if txID == "" {
		s.Log.Error().Str("order", orderID).Msg("processor response missing transaction id")
		s.markFailed(ctx, orderID)
		obs.SettlementTotal.WithLabelValues(method, mode, "missing_tx_id").Inc()
		return Result{}, ErrMissingTransactionID
	}

	serialized, err := json.Marshal(opaque)
	if err != nil {
		return Result{}, err
	}
	if err := s.Orders.SetMeta(ctx, orderID, order.MetaOrderID, txID); err != nil {
		return Result{}, err
	}
	if err := s.Orders.SetMeta(ctx, orderID, order.MetaOrderDisplayID, resp.Result.OrderDisplayID); err != nil {
		return Result{}, err
	}
	// Retained only for subscription provisioning, never for charge replay.
	if err := s.Orders.SetMeta(ctx, orderID, order.MetaOpaqueData, string(serialized)); err != nil {
		return Result{}, err
	}

	onHold := mode == ModeAuthorize
	status := order.StatusPaid
	if onHold {
		status = order.StatusOnHold
	}
	if err := s.Orders.SetStatus(ctx, orderID, status); err != nil {
		return Result{}, err
	}
	if s.Cart != nil {
		if err := s.Cart.ClearCart(ctx, orderID); err != nil {
			s.Log.Warn().Err(err).Str("order", orderID).Msg("cart clear failed after settlement")
		}
	}
	if ord.Recurring && s.Subs != nil {
		if err := s.Subs.EnqueueProvision(ctx, orderID); err != nil {
			s.Log.Error().Err(err).Str("order", orderID).Msg("subscription provisioning enqueue failed")
		}
	}

	obs.SettlementTotal.WithLabelValues(method, mode, "settled").Inc()
	s.Log.Info().
		Str("order", orderID).
		Str("transaction", txID).
		Str("method", method).
		Str("mode", mode).
		Msg("settlement completed")
	return Result{TransactionID: txID, DisplayID: resp.Result.OrderDisplayID, OnHold: onHold}, nil
}

// Capture settles a previously authorized order and marks it paid.
func (s *Service) Capture(ctx context.Context, orderID string) error {
	txID, err := s.remoteTransaction(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := s.API.Capture(ctx, txID); err != nil {
		return err
	}
	return s.Orders.SetStatus(ctx, orderID, order.StatusPaid)
}

// RefundOrder refunds the order's processor transaction and marks it refunded.
func (s *Service) RefundOrder(ctx context.Context, orderID string) error {
	txID, err := s.remoteTransaction(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := s.API.Refund(ctx, txID); err != nil {
		return err
	}
	return s.Orders.SetStatus(ctx, orderID, order.StatusRefunded)
}

// VoidOrder cancels an authorization before capture.
func (s *Service) VoidOrder(ctx context.Context, orderID string) error {
	txID, err := s.remoteTransaction(ctx, orderID)
	if err != nil {
		return err
	}
	_, err = s.API.Void(ctx, txID)
	return err
}

func (s *Service) remoteTransaction(ctx context.Context, orderID string) (string, error) {
	ord, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	txID := ord.MetaValue(order.MetaOrderID)
	if txID == "" {
		return "", ErrNoRemoteTransaction
	}
	return txID, nil
}

func (s *Service) markFailed(ctx context.Context, orderID string) {
	if err := s.Orders.SetStatus(ctx, orderID, order.StatusFailed); err != nil {
		s.Log.Error().Err(err).Str("order", orderID).Msg("failed status update error")
	}
}

// decodeToken validates that the incoming token is present and well-formed.
func decodeToken(rawToken string) (processor.OpaqueData, error) {
	trimmed := strings.TrimSpace(rawToken)
	if trimmed == "" {
		return processor.OpaqueData{}, ErrMissingToken
	}
	var opaque processor.OpaqueData
	if err := json.Unmarshal([]byte(trimmed), &opaque); err != nil {
		return processor.OpaqueData{}, ErrInvalidToken
	}
	if opaque.DataValue == "" && opaque.Token == "" {
		return processor.OpaqueData{}, ErrInvalidToken
	}
	return opaque, nil
}
