package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bill statuses. pending, partial and paid are derived from payments;
// refunded and cancelled are explicit terminal states.
const (
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusPaid      = "paid"
	StatusRefunded  = "refunded"
	StatusCancelled = "cancelled"
)

// Accepted payment methods.
const (
	MethodCash         = "cash"
	MethodCard         = "card"
	MethodUPI          = "upi"
	MethodBankTransfer = "bank_transfer"
)

// ErrOverpayment is returned when a payment would push the collected
// amount past the bill total.
var ErrOverpayment = errors.New("payment exceeds the outstanding balance")

// Bill is an invoice for a visit. A visit has at most one bill.
type Bill struct {
	ID         uuid.UUID       `json:"id"`
	BillNumber string          `json:"bill_number"`
	VisitID    *uuid.UUID      `json:"visit_id,omitempty"`
	PatientID  uuid.UUID       `json:"patient_id"`
	Items      []BillItem      `json:"items,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TaxRate    decimal.Decimal `json:"tax_rate"` // percent
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
	Paid       decimal.Decimal `json:"paid"`
	Status     string          `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Balance is the amount still owed.
func (b *Bill) Balance() decimal.Decimal {
	return b.Total.Sub(b.Paid)
}

// Settled reports whether the bill accepts no further payments.
func (b *Bill) Settled() bool {
	return b.Status == StatusPaid || b.Status == StatusRefunded || b.Status == StatusCancelled
}

// deriveStatus computes the payment-derived status from collected vs total.
func deriveStatus(paid, total decimal.Decimal) string {
	switch {
	case paid.GreaterThanOrEqual(total) && total.GreaterThan(decimal.Zero):
		return StatusPaid
	case paid.GreaterThan(decimal.Zero):
		return StatusPartial
	default:
		return StatusPending
	}
}

// BillItem is one line on a bill.
type BillItem struct {
	ID          uuid.UUID       `json:"id"`
	BillID      uuid.UUID       `json:"bill_id"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Payment is money received against a bill.
type Payment struct {
	ID         uuid.UUID       `json:"id"`
	BillID     uuid.UUID       `json:"bill_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference,omitempty"`
	ReceivedBy string          `json:"received_by,omitempty"`
	PaidAt     time.Time       `json:"paid_at"`
}

// TreatmentPackage is a prepaid bundle of sessions sold by the clinic.
type TreatmentPackage struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	SessionCount int             `json:"session_count"`
	Price        decimal.Decimal `json:"price"`
	ValidityDays int             `json:"validity_days"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PatientPackage tracks a patient's purchased package balance.
type PatientPackage struct {
	ID                uuid.UUID `json:"id"`
	PatientID         uuid.UUID `json:"patient_id"`
	PackageID         uuid.UUID `json:"package_id"`
	SessionsRemaining int       `json:"sessions_remaining"`
	PurchasedAt       time.Time `json:"purchased_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Active            bool      `json:"active"`
}

// Usable reports whether a session can be consumed right now.
func (pp *PatientPackage) Usable(now time.Time) bool {
	return pp.Active && pp.SessionsRemaining > 0 && now.Before(pp.ExpiresAt)
}
