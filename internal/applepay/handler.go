package applepay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/common"
)

var validate = validator.New()

// Handler exposes the merchant validation relay over HTTP.
type Handler struct {
	Validator *Validator
	Log       zerolog.Logger
}

type validateMerchantRequest struct {
	ValidationURL string `json:"validationUrl" validate:"required,url"`
}

// ValidateMerchant relays the wallet-supplied validation URL through the
// mutual-TLS validator and returns the signed session verbatim.
func (h *Handler) ValidateMerchant(w http.ResponseWriter, r *http.Request) {
	if h.Validator == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "APPLEPAY_NOT_CONFIGURED", "apple pay is not configured", nil)
		return
	}

	var req validateMerchantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "validationUrl is required", nil)
		return
	}

	signed, err := h.Validator.Validate(r.Context(), req.ValidationURL)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(signed)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var transportErr *TransportError
	switch {
	case errors.Is(err, ErrNotConfigured):
		common.JSONError(w, http.StatusServiceUnavailable, "APPLEPAY_NOT_CONFIGURED", "apple pay is not configured", nil)
	case errors.Is(err, ErrValidationRejected):
		common.JSONError(w, http.StatusBadGateway, "APPLEPAY_VALIDATION_REJECTED", "apple pay merchant validation failed", nil)
	case errors.As(err, &transportErr):
		common.JSONError(w, http.StatusBadGateway, "APPLEPAY_UPSTREAM", "could not reach apple pay validation service", nil)
	default:
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid validation url", nil)
	}
}
