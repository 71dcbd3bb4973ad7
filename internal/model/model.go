package model

// Package model contains the pipeline's domain types. These are pure data
// structures shared across layers; no persistence or API coupling here.

import (
	"encoding/json"
	"time"
)

// Tenant is one client/organization whose data is isolated end-to-end by
// ClientID. Tenants are never deleted, only deactivated.
type Tenant struct {
	ClientID       string    `json:"client_id"`
	DisplayName    string    `json:"display_name"`
	RealmID        string    `json:"realm_id"`
	Active         bool      `json:"active"`
	NeedsReconsent bool      `json:"needs_reconsent"`
	CreatedAt      time.Time `json:"created_at"`
}

// Credential is the OAuth credential set for one tenant. Exactly one live
// credential exists per tenant; it is mutated only by the token manager on
// refresh.
type Credential struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	RealmID       string    `json:"realm_id"`
	Expiry        time.Time `json:"expiry"`
	RefreshIssued time.Time `json:"refresh_issued"`
}

// ExpiresWithin reports whether the access token expires inside the buffer.
func (c Credential) ExpiresWithin(buffer time.Duration) bool {
	return time.Now().After(c.Expiry.Add(-buffer))
}

// EntityType names one QBO entity table (Invoice, Customer, ...).
type EntityType string

// Entity tables pulled via SELECT * FROM {table}, plus CompanyInfo which has
// its own endpoint.
const (
	EntityAccount       EntityType = "Account"
	EntityBill          EntityType = "Bill"
	EntityBillPayment   EntityType = "BillPayment"
	EntityClass         EntityType = "Class"
	EntityCompanyInfo   EntityType = "CompanyInfo"
	EntityCreditMemo    EntityType = "CreditMemo"
	EntityCustomer      EntityType = "Customer"
	EntityDepartment    EntityType = "Department"
	EntityDeposit       EntityType = "Deposit"
	EntityEmployee      EntityType = "Employee"
	EntityEstimate      EntityType = "Estimate"
	EntityInvoice       EntityType = "Invoice"
	EntityItem          EntityType = "Item"
	EntityJournalEntry  EntityType = "JournalEntry"
	EntityPayment       EntityType = "Payment"
	EntityPaymentMethod EntityType = "PaymentMethod"
	EntityPurchase      EntityType = "Purchase"
	EntityRefundReceipt EntityType = "RefundReceipt"
	EntitySalesReceipt  EntityType = "SalesReceipt"
	EntityTaxCode       EntityType = "TaxCode"
	EntityTaxRate       EntityType = "TaxRate"
	EntityTerm          EntityType = "Term"
	EntityTransfer      EntityType = "Transfer"
	EntityVendor        EntityType = "Vendor"
)

// RawDocument is the unmodified JSON payload for one transaction or
// reference entity, keyed by (ClientID, Entity, ID). Raw preserves the exact
// bytes for archival; Data is the decoded form used by the flatteners.
type RawDocument struct {
	ClientID string
	Entity   EntityType
	ID       string
	Data     map[string]any
	Raw      json.RawMessage
}
