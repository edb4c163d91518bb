// Package tokenize implements the client-side card tokenization protocol:
// a pretransact handshake for a one-time token-request descriptor, local
// card validation, placeholder substitution, and the token request itself.
// Raw card data is sent only to the processor-supplied token URL.
package tokenize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field categories reported by validation failures.
const (
	FieldCardNumber = "cardNumber"
	FieldExpiry     = "expiry"
	FieldCVC        = "cvc"
)

// FieldError is a buyer-input validation failure for one field category.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("tokenize: invalid %s: %s", e.Field, e.Message)
}

// CardInput is the raw buyer-typed card form data.
type CardInput struct {
	Number string
	Expiry string
	CVC    string
}

// normalized card fields ready for placeholder substitution.
type cardFields struct {
	Number     string
	ExpiryMMYY string
	CVC        string
}

// validate strips whitespace and checks each field, reporting the first
// failing category. Expiry parsing uses now for two-digit year expansion.
func (in CardInput) validate(now time.Time) (cardFields, error) {
	number := stripSpaces(in.Number)
	if number == "" {
		return cardFields{}, &FieldError{Field: FieldCardNumber, Message: "card number is required"}
	}
	expiry, err := ParseExpiry(in.Expiry, now)
	if err != nil {
		return cardFields{}, err
	}
	cvc := strings.TrimSpace(in.CVC)
	if cvc == "" {
		return cardFields{}, &FieldError{Field: FieldCVC, Message: "security code is required"}
	}
	return cardFields{Number: number, ExpiryMMYY: expiry, CVC: cvc}, nil
}

// ParseExpiry parses MM/YY or MM/YYYY into the MMYY wire format. A two-digit
// year is expanded with the current century. That heuristic is wrong near
// century boundaries and is kept as documented behavior.
func ParseExpiry(raw string, now time.Time) (string, error) {
	trimmed := stripSpaces(raw)
	if trimmed == "" {
		return "", &FieldError{Field: FieldExpiry, Message: "expiry is required"}
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 {
		return "", &FieldError{Field: FieldExpiry, Message: "expiry must be MM/YY or MM/YYYY"}
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return "", &FieldError{Field: FieldExpiry, Message: "expiry month is invalid"}
	}
	yearRaw := parts[1]
	year, err := strconv.Atoi(yearRaw)
	if err != nil || year < 0 {
		return "", &FieldError{Field: FieldExpiry, Message: "expiry year is invalid"}
	}
	switch len(yearRaw) {
	case 2:
		century := now.Year() / 100 * 100
		year = century + year
	case 4:
	default:
		return "", &FieldError{Field: FieldExpiry, Message: "expiry year must be 2 or 4 digits"}
	}
	return fmt.Sprintf("%02d%02d", month, year%100), nil
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
