package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicrm/clinicrm/internal/domain/patient"
	"github.com/clinicrm/clinicrm/internal/platform/db"
	"github.com/clinicrm/clinicrm/internal/platform/events"
	"github.com/clinicrm/clinicrm/internal/platform/notification"
	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// ErrBillState is returned when an operation does not apply to the bill's
// current status, e.g. paying a cancelled bill.
var ErrBillState = errors.New("operation not allowed in the bill's current status")

var validMethods = map[string]bool{
	MethodCash:         true,
	MethodCard:         true,
	MethodUPI:          true,
	MethodBankTransfer: true,
}

const defaultValidityDays = 90

// PatientDirectory resolves patient records for messaging.
type PatientDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// Notifier sends templated patient messages.
type Notifier interface {
	SendTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Message, error)
}

// Dependencies wires the service into the rest of the system. Pool enables
// transactional payment recording; Notifier and Events are optional.
type Dependencies struct {
	Pool     *pgxpool.Pool
	Patients PatientDirectory
	Notifier Notifier
	Events   events.Publisher
	Logger   zerolog.Logger
}

// Config carries the clinic's billing rules.
type Config struct {
	TaxRatePercent decimal.Decimal
	ReminderAfter  time.Duration // unpaid bill age before a payment reminder
	ExpiryWindow   time.Duration // package expiry notice window
}

// Service implements invoicing, payments and treatment packages.
type Service struct {
	repo Repository
	deps Dependencies
	cfg  Config
}

func NewService(repo Repository, deps Dependencies, cfg Config) *Service {
	if deps.Events == nil {
		deps.Events = events.NewNoop()
	}
	if cfg.ReminderAfter <= 0 {
		cfg.ReminderAfter = 7 * 24 * time.Hour
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = 7 * 24 * time.Hour
	}
	return &Service{repo: repo, deps: deps, cfg: cfg}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.deps.Pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.deps.Pool, fn)
}

// IssueBill creates the invoice for a visit. A visit gets exactly one
// bill: if one exists already it is returned unchanged.
func (s *Service) IssueBill(ctx context.Context, b *Bill) (*Bill, error) {
	if b.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if len(b.Items) == 0 {
		return nil, fmt.Errorf("a bill needs at least one item")
	}

	if b.VisitID != nil {
		if existing, err := s.repo.GetBillByVisit(ctx, *b.VisitID); err == nil {
			return existing, nil
		}
	}

	subtotal := decimal.Zero
	for i := range b.Items {
		item := &b.Items[i]
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		if item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("unit_price cannot be negative")
		}
		item.Amount = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(item.Amount)
	}

	b.Subtotal = subtotal
	b.TaxRate = s.cfg.TaxRatePercent
	b.TaxAmount = subtotal.Mul(b.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
	if b.Discount.IsNegative() {
		return nil, fmt.Errorf("discount cannot be negative")
	}
	b.Total = b.Subtotal.Add(b.TaxAmount).Sub(b.Discount)
	if b.Total.IsNegative() {
		return nil, fmt.Errorf("discount exceeds the bill amount")
	}
	b.Status = StatusPending
	b.Paid = decimal.Zero

	if err := s.repo.CreateBill(ctx, b); err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeBillIssued, b.ID, map[string]string{
		"patient_id":  b.PatientID.String(),
		"bill_number": b.BillNumber,
		"total":       b.Total.StringFixed(2),
	})
	s.notify(ctx, b.PatientID, "bill-notification", map[string]string{
		"bill_number": b.BillNumber,
		"amount":      b.Total.StringFixed(2),
	})
	return b, nil
}

// RecordPayment applies money to a bill. The bill row is locked for the
// duration, so concurrent payments serialize: the collected amount can
// never exceed the total, and the status always reflects the final sum.
func (s *Service) RecordPayment(ctx context.Context, billID uuid.UUID, p *Payment) (*Bill, error) {
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be positive")
	}
	if p.Method == "" {
		p.Method = MethodCash
	}
	if !validMethods[p.Method] {
		return nil, fmt.Errorf("invalid payment method: %s", p.Method)
	}

	var bill *Bill
	err := s.inTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.LockBill(ctx, billID)
		if err != nil {
			return err
		}
		if b.Settled() {
			return fmt.Errorf("%w: bill is %s", ErrBillState, b.Status)
		}
		if b.Paid.Add(p.Amount).GreaterThan(b.Total) {
			return ErrOverpayment
		}

		p.BillID = b.ID
		if err := s.repo.AddPayment(ctx, p); err != nil {
			return err
		}

		b.Paid = b.Paid.Add(p.Amount)
		b.Status = deriveStatus(b.Paid, b.Total)
		if err := s.repo.UpdateBillStatus(ctx, b.ID, b.Status); err != nil {
			return err
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypePaymentRecorded, bill.ID, map[string]string{
		"bill_number": bill.BillNumber,
		"amount":      p.Amount.StringFixed(2),
		"method":      p.Method,
		"status":      bill.Status,
	})
	return bill, nil
}

// Refund marks a bill refunded. Only bills with recorded payments can be
// refunded; the money movement itself happens outside the system.
func (s *Service) Refund(ctx context.Context, billID uuid.UUID) (*Bill, error) {
	var bill *Bill
	err := s.inTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.LockBill(ctx, billID)
		if err != nil {
			return err
		}
		if b.Status == StatusRefunded || b.Status == StatusCancelled {
			return fmt.Errorf("%w: bill is %s", ErrBillState, b.Status)
		}
		if b.Paid.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: nothing has been paid", ErrBillState)
		}
		b.Status = StatusRefunded
		bill = b
		return s.repo.UpdateBillStatus(ctx, b.ID, StatusRefunded)
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// CancelBill voids an untouched bill. Bills with payments must be refunded
// instead.
func (s *Service) CancelBill(ctx context.Context, billID uuid.UUID) (*Bill, error) {
	var bill *Bill
	err := s.inTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.LockBill(ctx, billID)
		if err != nil {
			return err
		}
		if b.Status != StatusPending {
			return fmt.Errorf("%w: bill is %s", ErrBillState, b.Status)
		}
		if b.Paid.GreaterThan(decimal.Zero) {
			return fmt.Errorf("%w: bill has payments, refund it instead", ErrBillState)
		}
		b.Status = StatusCancelled
		bill = b
		return s.repo.UpdateBillStatus(ctx, b.ID, StatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.repo.GetBill(ctx, id)
}

func (s *Service) GetBillByVisit(ctx context.Context, visitID uuid.UUID) (*Bill, error) {
	return s.repo.GetBillByVisit(ctx, visitID)
}

func (s *Service) ListBills(ctx context.Context, f Filter, page pagination.Params) ([]*Bill, int, error) {
	return s.repo.ListBills(ctx, f, page)
}

func (s *Service) Payments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	if _, err := s.repo.GetBill(ctx, billID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, billID)
}

// OutstandingBalance sums what the patient still owes across open bills.
func (s *Service) OutstandingBalance(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.OutstandingForPatient(ctx, patientID)
}

// RevenueStats summarizes collected payments for the window.
type RevenueStats struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Total    decimal.Decimal `json:"total"`
	ByMethod []MethodTotal   `json:"by_method"`
}

func (s *Service) Revenue(ctx context.Context, from, to time.Time) (*RevenueStats, error) {
	byMethod, err := s.repo.RevenueByMethod(ctx, from, to)
	if err != nil {
		return nil, err
	}
	stats := &RevenueStats{From: from, To: to, Total: decimal.Zero, ByMethod: byMethod}
	for _, mt := range byMethod {
		stats.Total = stats.Total.Add(mt.Total)
	}
	return stats, nil
}

// CreatePackage defines a prepaid session bundle.
func (s *Service) CreatePackage(ctx context.Context, tp *TreatmentPackage) error {
	if tp.Name == "" {
		return fmt.Errorf("name is required")
	}
	if tp.SessionCount <= 0 {
		return fmt.Errorf("session_count must be positive")
	}
	if tp.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("price must be positive")
	}
	if tp.ValidityDays <= 0 {
		tp.ValidityDays = defaultValidityDays
	}
	return s.repo.CreatePackage(ctx, tp)
}

func (s *Service) UpdatePackage(ctx context.Context, id uuid.UUID, updated *TreatmentPackage) (*TreatmentPackage, error) {
	existing, err := s.repo.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	if updated.ValidityDays <= 0 {
		updated.ValidityDays = existing.ValidityDays
	}
	if err := s.repo.UpdatePackage(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) ListPackages(ctx context.Context, includeInactive bool) ([]*TreatmentPackage, error) {
	return s.repo.ListPackages(ctx, includeInactive)
}

// PurchasePackage sells a package to a patient: it opens the session
// balance and issues the bill for the package price.
func (s *Service) PurchasePackage(ctx context.Context, patientID, packageID uuid.UUID) (*PatientPackage, *Bill, error) {
	tp, err := s.repo.GetPackage(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	if !tp.Active {
		return nil, nil, fmt.Errorf("package is no longer offered")
	}

	now := time.Now().UTC()
	pp := &PatientPackage{
		PatientID:         patientID,
		PackageID:         tp.ID,
		SessionsRemaining: tp.SessionCount,
		PurchasedAt:       now,
		ExpiresAt:         now.AddDate(0, 0, tp.ValidityDays),
		Active:            true,
	}

	var bill *Bill
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreatePatientPackage(ctx, pp); err != nil {
			return err
		}
		b, err := s.IssueBill(ctx, &Bill{
			PatientID: patientID,
			Items: []BillItem{{
				Description: "Package: " + tp.Name,
				Quantity:    1,
				UnitPrice:   tp.Price,
			}},
		})
		if err != nil {
			return err
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pp, bill, nil
}

// UseSession consumes one session from the balance. The row is locked so
// concurrent check-ins cannot overdraw; the package deactivates when the
// last session is used.
func (s *Service) UseSession(ctx context.Context, patientPackageID uuid.UUID) (*PatientPackage, error) {
	var pp *PatientPackage
	err := s.inTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockPatientPackage(ctx, patientPackageID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if !locked.Active {
			return fmt.Errorf("package is not active")
		}
		if !now.Before(locked.ExpiresAt) {
			locked.Active = false
			_ = s.repo.UpdatePatientPackage(ctx, locked)
			return fmt.Errorf("package expired on %s", locked.ExpiresAt.Format("January 2, 2006"))
		}
		if locked.SessionsRemaining <= 0 {
			return fmt.Errorf("no sessions remaining")
		}

		locked.SessionsRemaining--
		if locked.SessionsRemaining == 0 {
			locked.Active = false
		}
		pp = locked
		return s.repo.UpdatePatientPackage(ctx, locked)
	})
	if err != nil {
		return nil, err
	}
	return pp, nil
}

func (s *Service) PatientPackages(ctx context.Context, patientID uuid.UUID) ([]*PatientPackage, error) {
	return s.repo.ListPatientPackages(ctx, patientID)
}

// SendPaymentReminders messages patients with bills unpaid past the
// configured age. Returns the number of reminders sent.
func (s *Service) SendPaymentReminders(ctx context.Context) (int, error) {
	bills, err := s.repo.ListUnpaidOlderThan(ctx, time.Now().Add(-s.cfg.ReminderAfter))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, b := range bills {
		paid, err := s.repo.SumPayments(ctx, b.ID)
		if err != nil {
			return sent, err
		}
		ok := s.notify(ctx, b.PatientID, "payment-reminder", map[string]string{
			"bill_number": b.BillNumber,
			"amount":      b.Total.Sub(paid).StringFixed(2),
		})
		if ok {
			sent++
		}
	}
	return sent, nil
}

// SendExpiryReminders messages patients whose package balances lapse
// within the notice window.
func (s *Service) SendExpiryReminders(ctx context.Context) (int, error) {
	packages, err := s.repo.ListPackagesExpiringBy(ctx, time.Now().Add(s.cfg.ExpiryWindow))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, pp := range packages {
		tp, err := s.repo.GetPackage(ctx, pp.PackageID)
		if err != nil {
			continue
		}
		ok := s.notify(ctx, pp.PatientID, "package-expiry", map[string]string{
			"package_name": tp.Name,
			"sessions":     fmt.Sprintf("%d", pp.SessionsRemaining),
			"expiry_date":  pp.ExpiresAt.Format("January 2, 2006"),
		})
		if ok {
			sent++
		}
	}
	return sent, nil
}

// notify sends a templated message and reports success. Failures are
// logged, never propagated.
func (s *Service) notify(ctx context.Context, patientID uuid.UUID, templateID string, data map[string]string) bool {
	if s.deps.Notifier == nil || s.deps.Patients == nil {
		return false
	}
	p, err := s.deps.Patients.Get(ctx, patientID)
	if err != nil {
		return false
	}
	data["patient_name"] = p.FullName()
	if _, err := s.deps.Notifier.SendTemplate(ctx, templateID, data, p.Phone); err != nil {
		s.deps.Logger.Warn().Err(err).Str("template", templateID).Msg("billing notification failed")
		return false
	}
	return true
}

func (s *Service) publish(ctx context.Context, eventType string, subject uuid.UUID, data map[string]string) {
	if err := s.deps.Events.Publish(ctx, events.New(eventType, subject, data)); err != nil {
		s.deps.Logger.Warn().Err(err).Str("event_type", eventType).Msg("event publish failed")
	}
}
