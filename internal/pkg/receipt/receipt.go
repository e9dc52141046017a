// Package receipt talks to the external purchase-verification services
// (Apple's verifyReceipt endpoint and the Google Play Developer API) and
// normalizes their answers into a single Outcome shape.
//
// Both clients are fail-closed: transport, auth and parse failures are
// logged and degrade to Outcome{Valid: false}. A broken validator must never
// grant entitlement, so no error is ever returned to the caller.
package receipt

import "time"

// Outcome is the normalized result of a purchase validation.
type Outcome struct {
	Valid          bool       `json:"valid"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	ProductID      string     `json:"product_id,omitempty"`
	PurchaseDate   time.Time  `json:"purchase_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	IsTrial        bool       `json:"is_trial"`
}

// Invalid is the fail-closed zero outcome.
func Invalid() Outcome {
	return Outcome{Valid: false}
}
