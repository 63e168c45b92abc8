package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicrm/clinicrm/internal/platform/db"
	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// Lookup errors.
var (
	ErrBillNotFound    = errors.New("bill not found")
	ErrPackageNotFound = errors.New("package not found")
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a PostgreSQL-backed billing repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const billCols = `id, bill_number, visit_id, patient_id, subtotal, tax_rate,
	tax_amount, discount, total, status, notes, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(
		&b.ID, &b.BillNumber, &b.VisitID, &b.PatientID, &b.Subtotal, &b.TaxRate,
		&b.TaxAmount, &b.Discount, &b.Total, &b.Status, &b.Notes,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillNotFound
		}
		return nil, fmt.Errorf("scan bill: %w", err)
	}
	return &b, nil
}

// nextBillNumber allocates the next bill number for the day, e.g.
// BILL202608270003. The counters table serializes concurrent issues.
func (r *repoPG) nextBillNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO counters (scope, value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = counters.value + 1
		RETURNING value`, "bill:"+day).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next bill number: %w", err)
	}
	return fmt.Sprintf("BILL%s%04d", day, seq), nil
}

func (r *repoPG) CreateBill(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	if b.BillNumber == "" {
		number, err := r.nextBillNumber(ctx, now)
		if err != nil {
			return err
		}
		b.BillNumber = number
	}

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bills (id, bill_number, visit_id, patient_id, subtotal, tax_rate,
			tax_amount, discount, total, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.BillNumber, b.VisitID, b.PatientID, b.Subtotal, b.TaxRate,
		b.TaxAmount, b.Discount, b.Total, b.Status, b.Notes, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}

	for i := range b.Items {
		item := &b.Items[i]
		item.ID = uuid.New()
		item.BillID = b.ID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO bill_items (id, bill_id, description, quantity, unit_price, amount)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.BillID, item.Description, item.Quantity, item.UnitPrice, item.Amount,
		)
		if err != nil {
			return fmt.Errorf("insert bill item: %w", err)
		}
	}
	return nil
}

func (r *repoPG) loadBill(ctx context.Context, b *Bill) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, description, quantity, unit_price, amount
		FROM bill_items WHERE bill_id = $1 ORDER BY description`, b.ID)
	if err != nil {
		return fmt.Errorf("list bill items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item BillItem
		if err := rows.Scan(&item.ID, &item.BillID, &item.Description,
			&item.Quantity, &item.UnitPrice, &item.Amount); err != nil {
			return fmt.Errorf("scan bill item: %w", err)
		}
		b.Items = append(b.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	paid, err := r.SumPayments(ctx, b.ID)
	if err != nil {
		return err
	}
	b.Paid = paid
	return nil
}

func (r *repoPG) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx,
		`SELECT `+billCols+` FROM bills WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadBill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *repoPG) GetBillByVisit(ctx context.Context, visitID uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx,
		`SELECT `+billCols+` FROM bills WHERE visit_id = $1`, visitID))
	if err != nil {
		return nil, err
	}
	if err := r.loadBill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// LockBill takes a row lock so concurrent payments against the same bill
// serialize. Must run inside a transaction.
func (r *repoPG) LockBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx,
		`SELECT `+billCols+` FROM bills WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadBill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *repoPG) UpdateBillStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE bills SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update bill status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (r *repoPG) ListBills(ctx context.Context, f Filter, page pagination.Params) ([]*Bill, int, error) {
	where := []string{"TRUE"}
	args := []any{}

	if f.PatientID != uuid.Nil {
		args = append(args, f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM bills WHERE `+clause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+billCols+` FROM bills WHERE `+clause+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var bills []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, b := range bills {
		paid, err := r.SumPayments(ctx, b.ID)
		if err != nil {
			return nil, 0, err
		}
		b.Paid = paid
	}
	return bills, total, nil
}

func (r *repoPG) ListUnpaidOlderThan(ctx context.Context, cutoff time.Time) ([]*Bill, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+billCols+` FROM bills
		WHERE status IN ('pending', 'partial') AND created_at < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list unpaid bills: %w", err)
	}
	defer rows.Close()

	var bills []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (r *repoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	if p.PaidAt.IsZero() {
		p.PaidAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, bill_id, amount, method, reference, received_by, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.BillID, p.Amount, p.Method, p.Reference, p.ReceivedBy, p.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *repoPG) SumPayments(ctx context.Context, billID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE bill_id = $1`, billID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return sum, nil
}

func (r *repoPG) ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, amount, method, reference, received_by, paid_at
		FROM payments WHERE bill_id = $1 ORDER BY paid_at`, billID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.Method,
			&p.Reference, &p.ReceivedBy, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *repoPG) RevenueByMethod(ctx context.Context, from, to time.Time) ([]MethodTotal, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT method, COALESCE(SUM(amount), 0)
		FROM payments
		WHERE paid_at >= $1 AND paid_at < $2
		GROUP BY method
		ORDER BY method`, from, to)
	if err != nil {
		return nil, fmt.Errorf("revenue by method: %w", err)
	}
	defer rows.Close()

	var out []MethodTotal
	for rows.Next() {
		var mt MethodTotal
		if err := rows.Scan(&mt.Method, &mt.Total); err != nil {
			return nil, fmt.Errorf("scan revenue row: %w", err)
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

func (r *repoPG) OutstandingForPatient(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	var outstanding decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(b.total - COALESCE(p.paid, 0)), 0)
		FROM bills b
		LEFT JOIN (
			SELECT bill_id, SUM(amount) AS paid FROM payments GROUP BY bill_id
		) p ON p.bill_id = b.id
		WHERE b.patient_id = $1 AND b.status IN ('pending', 'partial')`,
		patientID).Scan(&outstanding)
	if err != nil {
		return decimal.Zero, fmt.Errorf("outstanding balance: %w", err)
	}
	return outstanding, nil
}

const packageCols = `id, name, description, session_count, price, validity_days,
	active, created_at, updated_at`

func scanPackage(row pgx.Row) (*TreatmentPackage, error) {
	var tp TreatmentPackage
	err := row.Scan(&tp.ID, &tp.Name, &tp.Description, &tp.SessionCount,
		&tp.Price, &tp.ValidityDays, &tp.Active, &tp.CreatedAt, &tp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("scan package: %w", err)
	}
	return &tp, nil
}

func (r *repoPG) CreatePackage(ctx context.Context, tp *TreatmentPackage) error {
	tp.ID = uuid.New()
	now := time.Now().UTC()
	tp.CreatedAt = now
	tp.UpdatedAt = now
	tp.Active = true

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO treatment_packages (id, name, description, session_count, price,
			validity_days, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tp.ID, tp.Name, tp.Description, tp.SessionCount, tp.Price,
		tp.ValidityDays, tp.Active, tp.CreatedAt, tp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert package: %w", err)
	}
	return nil
}

func (r *repoPG) GetPackage(ctx context.Context, id uuid.UUID) (*TreatmentPackage, error) {
	return scanPackage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+packageCols+` FROM treatment_packages WHERE id = $1`, id))
}

func (r *repoPG) UpdatePackage(ctx context.Context, tp *TreatmentPackage) error {
	tp.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE treatment_packages SET name = $2, description = $3, session_count = $4,
			price = $5, validity_days = $6, active = $7, updated_at = $8
		WHERE id = $1`,
		tp.ID, tp.Name, tp.Description, tp.SessionCount,
		tp.Price, tp.ValidityDays, tp.Active, tp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPackageNotFound
	}
	return nil
}

func (r *repoPG) ListPackages(ctx context.Context, includeInactive bool) ([]*TreatmentPackage, error) {
	query := `SELECT ` + packageCols + ` FROM treatment_packages`
	if !includeInactive {
		query += ` WHERE active`
	}
	query += ` ORDER BY name`

	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []*TreatmentPackage
	for rows.Next() {
		tp, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

const patientPackageCols = `id, patient_id, package_id, sessions_remaining,
	purchased_at, expires_at, active`

func scanPatientPackage(row pgx.Row) (*PatientPackage, error) {
	var pp PatientPackage
	err := row.Scan(&pp.ID, &pp.PatientID, &pp.PackageID, &pp.SessionsRemaining,
		&pp.PurchasedAt, &pp.ExpiresAt, &pp.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("scan patient package: %w", err)
	}
	return &pp, nil
}

func (r *repoPG) CreatePatientPackage(ctx context.Context, pp *PatientPackage) error {
	pp.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_packages (id, patient_id, package_id, sessions_remaining,
			purchased_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pp.ID, pp.PatientID, pp.PackageID, pp.SessionsRemaining,
		pp.PurchasedAt, pp.ExpiresAt, pp.Active,
	)
	if err != nil {
		return fmt.Errorf("insert patient package: %w", err)
	}
	return nil
}

func (r *repoPG) GetPatientPackage(ctx context.Context, id uuid.UUID) (*PatientPackage, error) {
	return scanPatientPackage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientPackageCols+` FROM patient_packages WHERE id = $1`, id))
}

func (r *repoPG) LockPatientPackage(ctx context.Context, id uuid.UUID) (*PatientPackage, error) {
	return scanPatientPackage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientPackageCols+` FROM patient_packages WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) UpdatePatientPackage(ctx context.Context, pp *PatientPackage) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_packages SET sessions_remaining = $2, active = $3 WHERE id = $1`,
		pp.ID, pp.SessionsRemaining, pp.Active,
	)
	if err != nil {
		return fmt.Errorf("update patient package: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPackageNotFound
	}
	return nil
}

func (r *repoPG) ListPatientPackages(ctx context.Context, patientID uuid.UUID) ([]*PatientPackage, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientPackageCols+` FROM patient_packages WHERE patient_id = $1 ORDER BY purchased_at DESC`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient packages: %w", err)
	}
	defer rows.Close()

	var out []*PatientPackage
	for rows.Next() {
		pp, err := scanPatientPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}

func (r *repoPG) ListPackagesExpiringBy(ctx context.Context, cutoff time.Time) ([]*PatientPackage, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientPackageCols+` FROM patient_packages
		WHERE active AND sessions_remaining > 0
		  AND expires_at > now() AND expires_at <= $1
		ORDER BY expires_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring packages: %w", err)
	}
	defer rows.Close()

	var out []*PatientPackage
	for rows.Next() {
		pp, err := scanPatientPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}
