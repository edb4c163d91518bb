package subs

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/common"
	"github.com/chargx/storefront-gateway/internal/order"
	"github.com/chargx/storefront-gateway/internal/processor"
)

// Handler exposes the admin subscription endpoints.
type Handler struct {
	Svc *Service
	Log zerolog.Logger
}

// Status reports the processor-side state of an order's subscription.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	ord, err := h.Svc.Orders.Get(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	subID := ord.MetaValue(order.MetaSubscriptionID)
	if subID == "" {
		h.writeError(w, ErrNotProvisioned)
		return
	}
	sub, err := h.Svc.API.GetSubscription(r.Context(), subID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, sub)
}

// Cancel deletes an order's processor subscription.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	if err := h.Svc.Cancel(r.Context(), orderID); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrNotProvisioned):
		common.JSONError(w, http.StatusNotFound, "NO_SUBSCRIPTION", "no subscription recorded for this order", nil)
	default:
		var apiErr *processor.APIError
		if errors.As(err, &apiErr) && !apiErr.IsTransport() {
			common.JSONError(w, http.StatusBadGateway, "PROCESSOR_ERROR", apiErr.Message, map[string]int{"status": apiErr.Status})
			return
		}
		h.Log.Error().Err(err).Msg("subscription request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "subscription request failed", nil)
	}
}
