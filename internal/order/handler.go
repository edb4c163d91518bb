package order

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/common"
)

var validate = validator.New()

// Putter registers or replaces an order snapshot.
type Putter interface {
	Put(ctx context.Context, o Order) error
}

// Handler lets the host platform register orders and read back their state.
type Handler struct {
	Store Store
	Put   Putter
	Log   zerolog.Logger
}

type upsertRequest struct {
	ID        string   `json:"id" validate:"required"`
	Amount    string   `json:"amount" validate:"required"`
	Currency  string   `json:"currency" validate:"required,len=3"`
	Customer  Customer `json:"customer"`
	Billing   Address  `json:"billing"`
	Recurring bool     `json:"recurring"`
}

// Upsert registers an order before checkout starts. Status resets to
// pending; meta survives re-registration of an existing order.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	o := Order{
		ID:        req.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Customer:  req.Customer,
		Billing:   req.Billing,
		Status:    StatusPending,
		Recurring: req.Recurring,
	}
	if existing, err := h.Store.Get(r.Context(), req.ID); err == nil {
		o.Meta = existing.Meta
	}
	if err := h.Put.Put(r.Context(), o); err != nil {
		h.Log.Error().Err(err).Str("order", req.ID).Msg("order upsert failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order registration failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"id": o.ID, "status": o.Status})
}

// Get returns the gateway's view of an order.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderId")
	o, err := h.Store.Get(r.Context(), id)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, o)
}
