package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicrm/clinicrm/internal/domain/patient"
	"github.com/clinicrm/clinicrm/internal/platform/notification"
	"github.com/clinicrm/clinicrm/pkg/pagination"
)

type mockRepo struct {
	bills           map[uuid.UUID]*Bill
	payments        map[uuid.UUID][]*Payment
	packages        map[uuid.UUID]*TreatmentPackage
	patientPackages map[uuid.UUID]*PatientPackage
	billSeq         int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		bills:           make(map[uuid.UUID]*Bill),
		payments:        make(map[uuid.UUID][]*Payment),
		packages:        make(map[uuid.UUID]*TreatmentPackage),
		patientPackages: make(map[uuid.UUID]*PatientPackage),
	}
}

func (m *mockRepo) CreateBill(_ context.Context, b *Bill) error {
	b.ID = uuid.New()
	m.billSeq++
	if b.BillNumber == "" {
		b.BillNumber = fmt.Sprintf("BILL%s%04d", time.Now().Format("20060102"), m.billSeq)
	}
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	copied := *b
	m.bills[b.ID] = &copied
	return nil
}

func (m *mockRepo) getBill(id uuid.UUID) (*Bill, error) {
	b, ok := m.bills[id]
	if !ok {
		return nil, ErrBillNotFound
	}
	copied := *b
	paid := decimal.Zero
	for _, p := range m.payments[id] {
		paid = paid.Add(p.Amount)
	}
	copied.Paid = paid
	return &copied, nil
}

func (m *mockRepo) GetBill(_ context.Context, id uuid.UUID) (*Bill, error) { return m.getBill(id) }

func (m *mockRepo) GetBillByVisit(_ context.Context, visitID uuid.UUID) (*Bill, error) {
	for id, b := range m.bills {
		if b.VisitID != nil && *b.VisitID == visitID {
			return m.getBill(id)
		}
	}
	return nil, ErrBillNotFound
}

func (m *mockRepo) LockBill(_ context.Context, id uuid.UUID) (*Bill, error) { return m.getBill(id) }

func (m *mockRepo) UpdateBillStatus(_ context.Context, id uuid.UUID, status string) error {
	b, ok := m.bills[id]
	if !ok {
		return ErrBillNotFound
	}
	b.Status = status
	return nil
}

func (m *mockRepo) ListBills(_ context.Context, f Filter, _ pagination.Params) ([]*Bill, int, error) {
	var out []*Bill
	for id, b := range m.bills {
		if f.PatientID != uuid.Nil && b.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		got, _ := m.getBill(id)
		out = append(out, got)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListUnpaidOlderThan(_ context.Context, cutoff time.Time) ([]*Bill, error) {
	var out []*Bill
	for id, b := range m.bills {
		if (b.Status == StatusPending || b.Status == StatusPartial) && b.CreatedAt.Before(cutoff) {
			got, _ := m.getBill(id)
			out = append(out, got)
		}
	}
	return out, nil
}

func (m *mockRepo) AddPayment(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	if p.PaidAt.IsZero() {
		p.PaidAt = time.Now().UTC()
	}
	m.payments[p.BillID] = append(m.payments[p.BillID], p)
	return nil
}

func (m *mockRepo) SumPayments(_ context.Context, billID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range m.payments[billID] {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

func (m *mockRepo) ListPayments(_ context.Context, billID uuid.UUID) ([]*Payment, error) {
	return m.payments[billID], nil
}

func (m *mockRepo) RevenueByMethod(_ context.Context, from, to time.Time) ([]MethodTotal, error) {
	totals := map[string]decimal.Decimal{}
	for _, payments := range m.payments {
		for _, p := range payments {
			if !p.PaidAt.Before(from) && p.PaidAt.Before(to) {
				totals[p.Method] = totals[p.Method].Add(p.Amount)
			}
		}
	}
	var out []MethodTotal
	for method, total := range totals {
		out = append(out, MethodTotal{Method: method, Total: total})
	}
	return out, nil
}

func (m *mockRepo) OutstandingForPatient(_ context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	outstanding := decimal.Zero
	for id, b := range m.bills {
		if b.PatientID != patientID {
			continue
		}
		if b.Status != StatusPending && b.Status != StatusPartial {
			continue
		}
		got, _ := m.getBill(id)
		outstanding = outstanding.Add(got.Balance())
	}
	return outstanding, nil
}

func (m *mockRepo) CreatePackage(_ context.Context, tp *TreatmentPackage) error {
	tp.ID = uuid.New()
	tp.Active = true
	tp.CreatedAt = time.Now().UTC()
	tp.UpdatedAt = tp.CreatedAt
	m.packages[tp.ID] = tp
	return nil
}

func (m *mockRepo) GetPackage(_ context.Context, id uuid.UUID) (*TreatmentPackage, error) {
	tp, ok := m.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return tp, nil
}

func (m *mockRepo) UpdatePackage(_ context.Context, tp *TreatmentPackage) error {
	if _, ok := m.packages[tp.ID]; !ok {
		return ErrPackageNotFound
	}
	m.packages[tp.ID] = tp
	return nil
}

func (m *mockRepo) ListPackages(_ context.Context, includeInactive bool) ([]*TreatmentPackage, error) {
	var out []*TreatmentPackage
	for _, tp := range m.packages {
		if !includeInactive && !tp.Active {
			continue
		}
		out = append(out, tp)
	}
	return out, nil
}

func (m *mockRepo) CreatePatientPackage(_ context.Context, pp *PatientPackage) error {
	pp.ID = uuid.New()
	m.patientPackages[pp.ID] = pp
	return nil
}

func (m *mockRepo) GetPatientPackage(_ context.Context, id uuid.UUID) (*PatientPackage, error) {
	pp, ok := m.patientPackages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return pp, nil
}

func (m *mockRepo) LockPatientPackage(ctx context.Context, id uuid.UUID) (*PatientPackage, error) {
	return m.GetPatientPackage(ctx, id)
}

func (m *mockRepo) UpdatePatientPackage(_ context.Context, pp *PatientPackage) error {
	if _, ok := m.patientPackages[pp.ID]; !ok {
		return ErrPackageNotFound
	}
	m.patientPackages[pp.ID] = pp
	return nil
}

func (m *mockRepo) ListPatientPackages(_ context.Context, patientID uuid.UUID) ([]*PatientPackage, error) {
	var out []*PatientPackage
	for _, pp := range m.patientPackages {
		if pp.PatientID == patientID {
			out = append(out, pp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListPackagesExpiringBy(_ context.Context, cutoff time.Time) ([]*PatientPackage, error) {
	now := time.Now()
	var out []*PatientPackage
	for _, pp := range m.patientPackages {
		if pp.Active && pp.SessionsRemaining > 0 && pp.ExpiresAt.After(now) && !pp.ExpiresAt.After(cutoff) {
			out = append(out, pp)
		}
	}
	return out, nil
}

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type mockNotifier struct {
	sent []string
}

func (m *mockNotifier) SendTemplate(_ context.Context, templateID string, _ map[string]string, _ string) (*notification.Message, error) {
	m.sent = append(m.sent, templateID)
	return &notification.Message{}, nil
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	notifier *mockNotifier
	patient  *patient.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepo()
	notifier := &mockNotifier{}
	p := &patient.Patient{ID: uuid.New(), FirstName: "Asha", LastName: "Rao", Phone: "+919876543210", Active: true}

	svc := NewService(repo, Dependencies{
		Patients: &mockPatients{patients: map[uuid.UUID]*patient.Patient{p.ID: p}},
		Notifier: notifier,
	}, Config{TaxRatePercent: decimal.NewFromInt(18)})
	return &fixture{svc: svc, repo: repo, notifier: notifier, patient: p}
}

func consultation(fx *fixture) *Bill {
	return &Bill{
		PatientID: fx.patient.ID,
		Items: []BillItem{
			{Description: "Consultation", Quantity: 1, UnitPrice: decimal.NewFromInt(500)},
		},
	}
}

func TestIssueBill_ComputesTotals(t *testing.T) {
	fx := newFixture(t)

	b, err := fx.svc.IssueBill(context.Background(), &Bill{
		PatientID: fx.patient.ID,
		Items: []BillItem{
			{Description: "Consultation", Quantity: 1, UnitPrice: decimal.NewFromInt(500)},
			{Description: "Dressing", Quantity: 2, UnitPrice: decimal.NewFromInt(150)},
		},
	})
	if err != nil {
		t.Fatalf("IssueBill() error: %v", err)
	}

	if !b.Subtotal.Equal(decimal.NewFromInt(800)) {
		t.Errorf("expected subtotal 800, got %s", b.Subtotal)
	}
	if !b.TaxAmount.Equal(decimal.NewFromInt(144)) {
		t.Errorf("expected tax 144, got %s", b.TaxAmount)
	}
	if !b.Total.Equal(decimal.NewFromInt(944)) {
		t.Errorf("expected total 944, got %s", b.Total)
	}
	if b.Status != StatusPending {
		t.Errorf("expected pending, got %s", b.Status)
	}
	if b.BillNumber == "" {
		t.Error("expected bill number assigned")
	}
	if len(fx.notifier.sent) != 1 || fx.notifier.sent[0] != "bill-notification" {
		t.Errorf("expected bill notification, got %v", fx.notifier.sent)
	}
}

func TestIssueBill_OnePerVisit(t *testing.T) {
	fx := newFixture(t)

	visitID := uuid.New()
	first := consultation(fx)
	first.VisitID = &visitID
	issued, err := fx.svc.IssueBill(context.Background(), first)
	if err != nil {
		t.Fatalf("IssueBill() error: %v", err)
	}

	second := consultation(fx)
	second.VisitID = &visitID
	again, err := fx.svc.IssueBill(context.Background(), second)
	if err != nil {
		t.Fatalf("second IssueBill() error: %v", err)
	}
	if again.ID != issued.ID {
		t.Error("expected the existing bill for the visit")
	}
	if len(fx.repo.bills) != 1 {
		t.Errorf("expected 1 bill, got %d", len(fx.repo.bills))
	}
}

func TestIssueBill_Validation(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.svc.IssueBill(context.Background(), &Bill{PatientID: fx.patient.ID}); err == nil {
		t.Error("expected error for bill without items")
	}

	b := consultation(fx)
	b.Discount = decimal.NewFromInt(10000)
	if _, err := fx.svc.IssueBill(context.Background(), b); err == nil {
		t.Error("expected error for discount exceeding the total")
	}
}

func TestRecordPayment_StatusProgression(t *testing.T) {
	fx := newFixture(t)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx)) // total 590

	partial, err := fx.svc.RecordPayment(context.Background(), b.ID, &Payment{
		Amount: decimal.NewFromInt(200), Method: MethodCash,
	})
	if err != nil {
		t.Fatalf("RecordPayment() error: %v", err)
	}
	if partial.Status != StatusPartial {
		t.Errorf("expected partial, got %s", partial.Status)
	}

	paid, err := fx.svc.RecordPayment(context.Background(), b.ID, &Payment{
		Amount: decimal.NewFromInt(390), Method: MethodUPI,
	})
	if err != nil {
		t.Fatalf("RecordPayment() error: %v", err)
	}
	if paid.Status != StatusPaid {
		t.Errorf("expected paid, got %s", paid.Status)
	}
	if !paid.Balance().IsZero() {
		t.Errorf("expected zero balance, got %s", paid.Balance())
	}
}

func TestRecordPayment_OverpaymentRejected(t *testing.T) {
	fx := newFixture(t)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx)) // total 590

	_, err := fx.svc.RecordPayment(context.Background(), b.ID, &Payment{
		Amount: decimal.NewFromInt(600), Method: MethodCash,
	})
	if !errors.Is(err, ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}

	// Nothing was recorded.
	got, _ := fx.svc.GetBill(context.Background(), b.ID)
	if !got.Paid.IsZero() {
		t.Errorf("expected no payment recorded, got %s", got.Paid)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
}

func TestRecordPayment_SettledBillRejected(t *testing.T) {
	fx := newFixture(t)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx))
	_, _ = fx.svc.RecordPayment(context.Background(), b.ID, &Payment{Amount: decimal.NewFromInt(590), Method: MethodCash})

	_, err := fx.svc.RecordPayment(context.Background(), b.ID, &Payment{Amount: decimal.NewFromInt(1), Method: MethodCash})
	if !errors.Is(err, ErrBillState) {
		t.Errorf("expected ErrBillState for paid bill, got %v", err)
	}
}

func TestRecordPayment_Validation(t *testing.T) {
	fx := newFixture(t)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx))

	if _, err := fx.svc.RecordPayment(context.Background(), b.ID, &Payment{Amount: decimal.Zero}); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := fx.svc.RecordPayment(context.Background(), b.ID, &Payment{
		Amount: decimal.NewFromInt(10), Method: "barter",
	}); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestRefund(t *testing.T) {
	fx := newFixture(t)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx))

	// Refund with no payments is rejected.
	if _, err := fx.svc.Refund(context.Background(), b.ID); !errors.Is(err, ErrBillState) {
		t.Errorf("expected ErrBillState, got %v", err)
	}

	_, _ = fx.svc.RecordPayment(context.Background(), b.ID, &Payment{Amount: decimal.NewFromInt(590), Method: MethodCard})
	refunded, err := fx.svc.Refund(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Refund() error: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", refunded.Status)
	}

	// Terminal: no more payments.
	if _, err := fx.svc.RecordPayment(context.Background(), b.ID, &Payment{Amount: decimal.NewFromInt(1), Method: MethodCash}); !errors.Is(err, ErrBillState) {
		t.Errorf("expected ErrBillState after refund, got %v", err)
	}
}

func TestCancelBill(t *testing.T) {
	fx := newFixture(t)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx))

	cancelled, err := fx.svc.CancelBill(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("CancelBill() error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	// A bill with payments cannot be cancelled.
	b2, _ := fx.svc.IssueBill(context.Background(), consultation(fx))
	_, _ = fx.svc.RecordPayment(context.Background(), b2.ID, &Payment{Amount: decimal.NewFromInt(100), Method: MethodCash})
	if _, err := fx.svc.CancelBill(context.Background(), b2.ID); !errors.Is(err, ErrBillState) {
		t.Errorf("expected ErrBillState, got %v", err)
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		paid, total int64
		want        string
	}{
		{0, 500, StatusPending},
		{200, 500, StatusPartial},
		{500, 500, StatusPaid},
	}
	for _, tc := range cases {
		got := deriveStatus(decimal.NewFromInt(tc.paid), decimal.NewFromInt(tc.total))
		if got != tc.want {
			t.Errorf("deriveStatus(%d, %d) = %s, want %s", tc.paid, tc.total, got, tc.want)
		}
	}
}

func TestOutstandingBalance(t *testing.T) {
	fx := newFixture(t)
	b1, _ := fx.svc.IssueBill(context.Background(), consultation(fx)) // 590
	_, _ = fx.svc.IssueBill(context.Background(), consultation(fx))   // 590
	_, _ = fx.svc.RecordPayment(context.Background(), b1.ID, &Payment{Amount: decimal.NewFromInt(90), Method: MethodCash})

	outstanding, err := fx.svc.OutstandingBalance(context.Background(), fx.patient.ID)
	if err != nil {
		t.Fatalf("OutstandingBalance() error: %v", err)
	}
	if !outstanding.Equal(decimal.NewFromInt(1090)) {
		t.Errorf("expected 1090 outstanding, got %s", outstanding)
	}
}

func TestRevenue(t *testing.T) {
	fx := newFixture(t)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx))
	_, _ = fx.svc.RecordPayment(context.Background(), b.ID, &Payment{Amount: decimal.NewFromInt(200), Method: MethodCash})
	_, _ = fx.svc.RecordPayment(context.Background(), b.ID, &Payment{Amount: decimal.NewFromInt(390), Method: MethodUPI})

	stats, err := fx.svc.Revenue(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Revenue() error: %v", err)
	}
	if !stats.Total.Equal(decimal.NewFromInt(590)) {
		t.Errorf("expected total 590, got %s", stats.Total)
	}
	if len(stats.ByMethod) != 2 {
		t.Errorf("expected 2 methods, got %d", len(stats.ByMethod))
	}
}

func TestPackageLifecycle(t *testing.T) {
	fx := newFixture(t)

	tp := &TreatmentPackage{Name: "Physio 3", SessionCount: 3, Price: decimal.NewFromInt(1200)}
	if err := fx.svc.CreatePackage(context.Background(), tp); err != nil {
		t.Fatalf("CreatePackage() error: %v", err)
	}
	if tp.ValidityDays != defaultValidityDays {
		t.Errorf("expected default validity %d, got %d", defaultValidityDays, tp.ValidityDays)
	}

	pp, bill, err := fx.svc.PurchasePackage(context.Background(), fx.patient.ID, tp.ID)
	if err != nil {
		t.Fatalf("PurchasePackage() error: %v", err)
	}
	if pp.SessionsRemaining != 3 {
		t.Errorf("expected 3 sessions, got %d", pp.SessionsRemaining)
	}
	if !bill.Subtotal.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("expected package billed at 1200, got %s", bill.Subtotal)
	}

	for i := 0; i < 3; i++ {
		if _, err := fx.svc.UseSession(context.Background(), pp.ID); err != nil {
			t.Fatalf("UseSession() #%d error: %v", i+1, err)
		}
	}

	// Balance exhausted: deactivated, further use rejected.
	got, _ := fx.repo.GetPatientPackage(context.Background(), pp.ID)
	if got.Active || got.SessionsRemaining != 0 {
		t.Errorf("expected exhausted inactive package, got active=%v remaining=%d", got.Active, got.SessionsRemaining)
	}
	if _, err := fx.svc.UseSession(context.Background(), pp.ID); err == nil {
		t.Error("expected error using an exhausted package")
	}
}

func TestUseSession_Expired(t *testing.T) {
	fx := newFixture(t)

	pp := &PatientPackage{
		PatientID:         fx.patient.ID,
		PackageID:         uuid.New(),
		SessionsRemaining: 2,
		PurchasedAt:       time.Now().AddDate(0, 0, -100),
		ExpiresAt:         time.Now().AddDate(0, 0, -10),
		Active:            true,
	}
	_ = fx.repo.CreatePatientPackage(context.Background(), pp)

	if _, err := fx.svc.UseSession(context.Background(), pp.ID); err == nil {
		t.Fatal("expected error for expired package")
	}
	got, _ := fx.repo.GetPatientPackage(context.Background(), pp.ID)
	if got.Active {
		t.Error("expected expired package deactivated")
	}
}

func TestSendPaymentReminders(t *testing.T) {
	fx := newFixture(t)
	b, _ := fx.svc.IssueBill(context.Background(), consultation(fx))
	fx.notifier.sent = nil

	// Fresh bill: no reminder yet.
	sent, err := fx.svc.SendPaymentReminders(context.Background())
	if err != nil {
		t.Fatalf("SendPaymentReminders() error: %v", err)
	}
	if sent != 0 {
		t.Errorf("expected no reminders for fresh bills, got %d", sent)
	}

	// Age the bill past the reminder threshold.
	fx.repo.bills[b.ID].CreatedAt = time.Now().Add(-8 * 24 * time.Hour)
	sent, err = fx.svc.SendPaymentReminders(context.Background())
	if err != nil {
		t.Fatalf("SendPaymentReminders() error: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 reminder, got %d", sent)
	}
	if fx.notifier.sent[0] != "payment-reminder" {
		t.Errorf("expected payment reminder template, got %v", fx.notifier.sent)
	}
}

func TestSendExpiryReminders(t *testing.T) {
	fx := newFixture(t)

	tp := &TreatmentPackage{Name: "Physio 5", SessionCount: 5, Price: decimal.NewFromInt(2000)}
	_ = fx.svc.CreatePackage(context.Background(), tp)

	pp := &PatientPackage{
		PatientID:         fx.patient.ID,
		PackageID:         tp.ID,
		SessionsRemaining: 2,
		PurchasedAt:       time.Now().AddDate(0, 0, -85),
		ExpiresAt:         time.Now().AddDate(0, 0, 5),
		Active:            true,
	}
	_ = fx.repo.CreatePatientPackage(context.Background(), pp)
	fx.notifier.sent = nil

	sent, err := fx.svc.SendExpiryReminders(context.Background())
	if err != nil {
		t.Fatalf("SendExpiryReminders() error: %v", err)
	}
	if sent != 1 || fx.notifier.sent[0] != "package-expiry" {
		t.Errorf("expected 1 package-expiry reminder, got %d %v", sent, fx.notifier.sent)
	}
}
