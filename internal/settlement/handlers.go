package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/checkout"
	"github.com/chargx/storefront-gateway/internal/common"
	"github.com/chargx/storefront-gateway/internal/order"
	"github.com/chargx/storefront-gateway/internal/processor"
)

var validate = validator.New()

// PayoutAPI is the admin payout slice of the processor client.
type PayoutAPI interface {
	Payout(ctx context.Context, req processor.PayoutRequest) (processor.PayoutResponse, error)
}

// GatewayParams is the checkout client bootstrap payload.
type GatewayParams struct {
	CardGatewayID   string `json:"cardGatewayId"`
	AppleGatewayID  string `json:"appleGatewayId"`
	GoogleGatewayID string `json:"googleGatewayId"`
	PublishableKey  string `json:"publishableKey"`
	Currency        string `json:"currency"`
	TestMode        bool   `json:"testMode"`
}

// Handler exposes checkout settlement and admin transaction operations.
// Gate, when set, serializes settlement per order so concurrent tabs
// submitting the same order cannot both reach the processor.
type Handler struct {
	Svc        *Service
	Payouts    PayoutAPI
	Gate       *checkout.Gate
	Params     GatewayParams
	ReturnBase string
	Log        zerolog.Logger
}

// checkoutEnvelope is the host checkout boundary response shape.
type checkoutEnvelope struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect,omitempty"`
	Messages string `json:"messages,omitempty"`
}

type cardCheckoutRequest struct {
	OrderID    string          `json:"orderId" validate:"required"`
	OpaqueData json.RawMessage `json:"opaqueData" validate:"required"`
}

type walletCheckoutRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Wallet  string `json:"wallet" validate:"required,oneof=apple_pay google_pay"`
	Token   string `json:"token" validate:"required"`
}

// SettleCard handles the card place-order submission.
func (h *Handler) SettleCard(w http.ResponseWriter, r *http.Request) {
	var req cardCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeCheckoutFailure(w, http.StatusBadRequest, "There was a problem tokenizing your card. Please try again.")
		return
	}

	release, ok := h.acquireGate(r.Context(), w, req.OrderID)
	if !ok {
		return
	}
	defer release()

	result, err := h.Svc.SettleCard(r.Context(), req.OrderID, string(req.OpaqueData))
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	h.writeCheckoutSuccess(w, req.OrderID, result)
}

// SettleWallet handles the asynchronous wallet submission.
func (h *Handler) SettleWallet(w http.ResponseWriter, r *http.Request) {
	var req walletCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeCheckoutFailure(w, http.StatusBadRequest, "Missing wallet payment token. Please try again.")
		return
	}

	release, ok := h.acquireGate(r.Context(), w, req.OrderID)
	if !ok {
		return
	}
	defer release()

	result, err := h.Svc.SettleWallet(r.Context(), req.OrderID, req.Wallet, req.Token)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	h.writeCheckoutSuccess(w, req.OrderID, result)
}

// acquireGate claims the per-order submission slot. It writes the response
// itself when the slot is taken or the store fails.
func (h *Handler) acquireGate(ctx context.Context, w http.ResponseWriter, orderID string) (func(), bool) {
	if h.Gate == nil {
		return func() {}, true
	}
	release, err := h.Gate.Acquire(ctx, "order:"+orderID)
	if err != nil {
		if errors.Is(err, checkout.ErrStateConflict) {
			h.writeCheckoutFailure(w, http.StatusConflict, "Your payment is already being processed.")
			return nil, false
		}
		h.Log.Error().Err(err).Str("order_id", orderID).Msg("submission gate error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "submission gate error", nil)
		return nil, false
	}
	return release, true
}

// GatewayParams serves the checkout client bootstrap payload.
func (h *Handler) GatewayParams(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, h.Params)
}

// Capture settles a previously authorized order.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	h.adminTransaction(w, r, h.Svc.Capture)
}

// Refund refunds the order's processor transaction.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.adminTransaction(w, r, h.Svc.RefundOrder)
}

// Void cancels an authorization before capture.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	h.adminTransaction(w, r, h.Svc.VoidOrder)
}

func (h *Handler) adminTransaction(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order id is required", nil)
		return
	}
	if err := op(r.Context(), orderID); err != nil {
		h.writeAdminError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitPayout forwards a payout request to the processor admin API.
func (h *Handler) SubmitPayout(w http.ResponseWriter, r *http.Request) {
	if h.Payouts == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "PAYOUT_UNAVAILABLE", "payout api is not configured", nil)
		return
	}
	var req processor.PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	resp, err := h.Payouts.Payout(r.Context(), req)
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, resp)
}

func (h *Handler) writeCheckoutSuccess(w http.ResponseWriter, orderID string, result Result) {
	redirect := ""
	if h.ReturnBase != "" {
		redirect = strings.TrimRight(h.ReturnBase, "/") + "/order/" + orderID + "/received"
	}
	common.JSON(w, http.StatusOK, checkoutEnvelope{Result: "success", Redirect: redirect})
}

// writeCheckoutError maps settlement failures onto the checkout envelope.
// Processor decline messages pass through verbatim; raw bodies stay in logs.
func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrMissingToken):
		h.writeCheckoutFailure(w, http.StatusBadRequest, "There was a problem tokenizing your card. Please try again.")
	case errors.Is(err, ErrInvalidToken):
		h.writeCheckoutFailure(w, http.StatusBadRequest, "Invalid card token received. Please try again.")
	case errors.Is(err, ErrUnknownWallet):
		h.writeCheckoutFailure(w, http.StatusBadRequest, "Unsupported wallet payment method.")
	case errors.Is(err, ErrMissingTransactionID):
		h.writeCheckoutFailure(w, http.StatusBadGateway, "Payment failed: missing transaction id.")
	default:
		if apiErr, ok := processor.AsAPIError(err); ok && !apiErr.IsTransport() {
			h.writeCheckoutFailure(w, http.StatusPaymentRequired, apiErr.Message)
			return
		}
		h.writeCheckoutFailure(w, http.StatusBadGateway, "Payment could not be processed. Please try again.")
	}
}

func (h *Handler) writeCheckoutFailure(w http.ResponseWriter, status int, message string) {
	common.JSON(w, status, checkoutEnvelope{Result: "failure", Messages: message})
}

func (h *Handler) writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrNoRemoteTransaction):
		common.JSONError(w, http.StatusNotFound, "NO_REMOTE_TRANSACTION", "no processor transaction recorded for this order", nil)
	case errors.Is(err, processor.ErrNoSecretKey):
		common.JSONError(w, http.StatusServiceUnavailable, "SECRET_KEY_MISSING", "processor secret key is not configured", nil)
	default:
		if apiErr, ok := processor.AsAPIError(err); ok {
			common.JSONError(w, http.StatusBadGateway, "PROCESSOR_ERROR", apiErr.Message, map[string]any{"status": apiErr.Status})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "operation failed", nil)
	}
}
