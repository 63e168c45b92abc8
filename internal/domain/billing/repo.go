package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// Filter narrows ListBills results.
type Filter struct {
	PatientID uuid.UUID
	Status    string
	From      time.Time
	To        time.Time
}

// MethodTotal is one row of the revenue breakdown.
type MethodTotal struct {
	Method string          `json:"method"`
	Total  decimal.Decimal `json:"total"`
}

// Repository is the persistence boundary for bills, payments and packages.
type Repository interface {
	// Bills. CreateBill persists the bill and its items. GetBill loads
	// items and the paid sum. LockBill row-locks the bill for the duration
	// of the surrounding transaction.
	CreateBill(ctx context.Context, b *Bill) error
	GetBill(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetBillByVisit(ctx context.Context, visitID uuid.UUID) (*Bill, error)
	LockBill(ctx context.Context, id uuid.UUID) (*Bill, error)
	UpdateBillStatus(ctx context.Context, id uuid.UUID, status string) error
	ListBills(ctx context.Context, f Filter, page pagination.Params) ([]*Bill, int, error)

	// ListUnpaidOlderThan returns pending and partial bills created before
	// the cutoff, for payment reminder sweeps.
	ListUnpaidOlderThan(ctx context.Context, cutoff time.Time) ([]*Bill, error)

	// Payments.
	AddPayment(ctx context.Context, p *Payment) error
	SumPayments(ctx context.Context, billID uuid.UUID) (decimal.Decimal, error)
	ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
	RevenueByMethod(ctx context.Context, from, to time.Time) ([]MethodTotal, error)
	OutstandingForPatient(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error)

	// Treatment packages.
	CreatePackage(ctx context.Context, tp *TreatmentPackage) error
	GetPackage(ctx context.Context, id uuid.UUID) (*TreatmentPackage, error)
	UpdatePackage(ctx context.Context, tp *TreatmentPackage) error
	ListPackages(ctx context.Context, includeInactive bool) ([]*TreatmentPackage, error)

	CreatePatientPackage(ctx context.Context, pp *PatientPackage) error
	GetPatientPackage(ctx context.Context, id uuid.UUID) (*PatientPackage, error)
	LockPatientPackage(ctx context.Context, id uuid.UUID) (*PatientPackage, error)
	UpdatePatientPackage(ctx context.Context, pp *PatientPackage) error
	ListPatientPackages(ctx context.Context, patientID uuid.UUID) ([]*PatientPackage, error)
	ListPackagesExpiringBy(ctx context.Context, cutoff time.Time) ([]*PatientPackage, error)
}
