// Package subs provisions processor-side subscriptions from the opaque data
// stored at settlement time. Provisioning runs on the task queue because it
// hangs off the order lifecycle, not the checkout request path.
package subs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/lock"
	"github.com/chargx/storefront-gateway/internal/order"
	"github.com/chargx/storefront-gateway/internal/processor"
)

var (
	// ErrNoStoredToken means the order carries no stored opaque data to reuse.
	ErrNoStoredToken = errors.New("subs: order has no stored opaque data")
	// ErrNotProvisioned means no processor subscription is recorded for the order.
	ErrNotProvisioned = errors.New("subs: no subscription recorded for this order")
	// ErrNoSubscriptionID means the processor created the subscription but
	// returned no id to store.
	ErrNoSubscriptionID = errors.New("subs: processor response has no subscription id")
)

// SubscriptionAPI is the subscription slice of the processor client.
type SubscriptionAPI interface {
	CreateSubscription(ctx context.Context, req processor.SubscriptionRequest) (processor.SubscriptionResponse, error)
	GetSubscription(ctx context.Context, id string) (processor.SubscriptionResponse, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// VariantID derives the processor variant identifier for an order's
// subscription.
func VariantID(ref string) string {
	return "storefront-subscription-" + ref
}

// Service creates and cancels processor subscriptions for recurring orders.
// Locks, when configured, serializes provisioning per order across workers.
type Service struct {
	API    SubscriptionAPI
	Orders order.Store
	Locks  *lock.Locker
	Log    zerolog.Logger
}

// Provision creates a processor subscription from the order's stored opaque
// data and records the subscription id. Idempotent: an order that already
// has a subscription id keeps it.
func (s *Service) Provision(ctx context.Context, orderID string) (string, error) {
	ord, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if existing := ord.MetaValue(order.MetaSubscriptionID); existing != "" {
		return existing, nil
	}

	raw := ord.MetaValue(order.MetaOpaqueData)
	if strings.TrimSpace(raw) == "" {
		return "", ErrNoStoredToken
	}
	var opaque processor.OpaqueData
	if err := json.Unmarshal([]byte(raw), &opaque); err != nil {
		return "", ErrNoStoredToken
	}

	first, last := splitName(ord.Customer.Name)
	req := processor.SubscriptionRequest{
		VariantID:  VariantID(orderID),
		OpaqueData: opaque,
		Customer: processor.SubscriptionCustomer{
			Email:    ord.Customer.Email,
			Name:     first,
			LastName: last,
			Phone:    ord.Customer.Phone,
		},
		Address: processor.SubscriptionAddress{
			Street:      ord.Billing.Street,
			Unit:        ord.Billing.Unit,
			City:        ord.Billing.City,
			State:       ord.Billing.State,
			ZipCode:     ord.Billing.ZipCode,
			CountryCode: ord.Billing.CountryCode,
		},
	}

	resp, err := s.API.CreateSubscription(ctx, req)
	if err != nil {
		s.Log.Error().Err(err).Str("order", orderID).Msg("subscription provisioning failed")
		return "", err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", ErrNoSubscriptionID
	}
	if err := s.Orders.SetMeta(ctx, orderID, order.MetaSubscriptionID, resp.ID); err != nil {
		return "", err
	}
	s.Log.Info().Str("order", orderID).Str("subscription", resp.ID).Msg("subscription provisioned")
	return resp.ID, nil
}

// Cancel deletes the order's processor subscription and clears the meta key.
func (s *Service) Cancel(ctx context.Context, orderID string) error {
	ord, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	subID := ord.MetaValue(order.MetaSubscriptionID)
	if subID == "" {
		return ErrNotProvisioned
	}
	if err := s.API.DeleteSubscription(ctx, subID); err != nil {
		return err
	}
	return s.Orders.DeleteMeta(ctx, orderID, order.MetaSubscriptionID)
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
