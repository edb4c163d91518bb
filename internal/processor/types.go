package processor

import "encoding/json"

// Opaque data descriptors attached to wallet payment blobs.
const (
	ApplePayDescriptor  = "COMMON.APPLE.INAPP.PAYMENT"
	GooglePayDescriptor = "COMMON.GOOGLE.INAPP.PAYMENT"
)

// OpaqueData is the processor's tokenized stand-in for payment credentials.
// Card and wallet tokens carry dataDescriptor/dataValue; some processors
// return a bare token string instead.
type OpaqueData struct {
	DataDescriptor string `json:"dataDescriptor,omitempty"`
	DataValue      string `json:"dataValue,omitempty"`
	Token          string `json:"token,omitempty"`
}

// WalletOpaqueData builds opaque data wrapping a base64 wallet payment blob.
func WalletOpaqueData(descriptor, blobBase64 string) OpaqueData {
	return OpaqueData{DataDescriptor: descriptor, DataValue: blobBase64}
}

// ApplePayOptions is the wallet section of a pretransact response.
type ApplePayOptions struct {
	PaymentRequest json.RawMessage `json:"paymentRequest"`
}

// GooglePayOptions carries the Google Pay method data from pretransact.
type GooglePayOptions struct {
	MethodData json.RawMessage `json:"methodData"`
}

// PretransactResponse is the short-lived token-request descriptor. It is
// fetched fresh per payment attempt and never cached.
type PretransactResponse struct {
	CardTokenRequestURL    string            `json:"cardTokenRequestUrl"`
	CardTokenRequestParams json.RawMessage   `json:"cardTokenRequestParams"`
	ApplePay               *ApplePayOptions  `json:"applePay,omitempty"`
	GooglePay              *GooglePayOptions `json:"googlePay,omitempty"`
}

// Customer identifies the buyer on a charge.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// BillingAddress is the buyer's billing address on a charge.
type BillingAddress struct {
	Street      string `json:"street"`
	Unit        string `json:"unit"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zipCode"`
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone"`
}

// TransactRequest is the payload for transact and authorize calls.
// Amount is the decimal total as a string, Type is always "fiat".
type TransactRequest struct {
	Currency       string         `json:"currency"`
	Amount         string         `json:"amount"`
	Type           string         `json:"type"`
	OpaqueData     OpaqueData     `json:"opaqueData"`
	Customer       Customer       `json:"customer"`
	BillingAddress BillingAddress `json:"billingAddress"`
	OrderID        string         `json:"orderId"`
}

// TransactResult carries the processor-side transaction identifiers.
type TransactResult struct {
	OrderID        string `json:"orderId"`
	OrderDisplayID string `json:"orderDisplayId"`
}

// TransactResponse wraps the result object returned by transact/authorize
// and the transaction lifecycle endpoints.
type TransactResponse struct {
	Result TransactResult `json:"result"`
}

// SubscriptionCustomer splits the buyer name for subscription records.
type SubscriptionCustomer struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	LastName string `json:"lastName"`
	Phone    string `json:"phone"`
}

// SubscriptionAddress is the address block on a subscription.
type SubscriptionAddress struct {
	Street      string `json:"street"`
	Unit        string `json:"unit"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zipCode"`
	CountryCode string `json:"countryCode"`
}

// SubscriptionRequest creates a recurring charge from stored opaque data.
type SubscriptionRequest struct {
	VariantID  string               `json:"variant_id"`
	OpaqueData OpaqueData           `json:"opaqueData"`
	Customer   SubscriptionCustomer `json:"customer"`
	Address    SubscriptionAddress  `json:"address"`
}

// SubscriptionResponse is the processor's subscription record.
type SubscriptionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// PayoutRequest is forwarded to the admin payout endpoint as-is.
type PayoutRequest map[string]any

// PayoutResponse is the raw admin payout result.
type PayoutResponse map[string]any
