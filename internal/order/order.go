// Package order defines the boundary to the merchant's order storage.
// The gateway never owns orders; it reads amount/currency/customer data
// and writes status transitions plus a small set of metadata keys.
package order

import (
	"context"
	"errors"
)

// Metadata keys written by the gateway onto an order record.
const (
	MetaOrderID        = "_chargx_order_id"
	MetaOrderDisplayID = "_chargx_order_display_id"
	MetaOpaqueData     = "_chargx_opaque_data"
	MetaSubscriptionID = "_chargx_subscription_id"
)

// Order status values understood by the host storefront.
const (
	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusOnHold   = "on-hold"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
)

// ErrNotFound is returned when the referenced order does not exist.
var ErrNotFound = errors.New("order: not found")

// Customer is the buyer record attached to an order.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Address is the billing address attached to an order.
type Address struct {
	Street      string `json:"street"`
	Unit        string `json:"unit"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zipCode"`
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone"`
}

// Order is a snapshot of the host storefront's order record.
type Order struct {
	ID        string            `json:"id"`
	Amount    string            `json:"amount"`
	Currency  string            `json:"currency"`
	Customer  Customer          `json:"customer"`
	Billing   Address           `json:"billing"`
	Status    string            `json:"status"`
	Recurring bool              `json:"recurring"`
	Meta      map[string]string `json:"meta"`
}

// MetaValue returns the metadata value for key, or empty string.
func (o Order) MetaValue(key string) string {
	if o.Meta == nil {
		return ""
	}
	return o.Meta[key]
}

// Store is the order-storage collaborator interface.
type Store interface {
	Get(ctx context.Context, id string) (Order, error)
	SetStatus(ctx context.Context, id, status string) error
	SetMeta(ctx context.Context, id, key, value string) error
	DeleteMeta(ctx context.Context, id, key string) error
}

// CartClearer empties the buyer's cart after a successful settlement.
type CartClearer interface {
	ClearCart(ctx context.Context, orderID string) error
}
