package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicrm/clinicrm/internal/platform/db"
	"github.com/clinicrm/clinicrm/pkg/pagination"
)

// ErrNotFound is returned when no patient matches the lookup.
var ErrNotFound = errors.New("patient not found")

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a PostgreSQL-backed patient repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// conn returns the transaction bound to ctx when present, else the pool.
func (r *repoPG) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const patientCols = `id, patient_number, first_name, last_name, phone, email,
	date_of_birth, gender, blood_group, address, emergency_contact, emergency_phone,
	medical_history, allergies, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.PatientNumber, &p.FirstName, &p.LastName, &p.Phone, &p.Email,
		&p.DateOfBirth, &p.Gender, &p.BloodGroup, &p.Address, &p.EmergencyContact,
		&p.EmergencyPhone, &p.MedicalHistory, &p.Allergies, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// nextNumber allocates the next patient number for the year, e.g. P20260042.
// The counters table serializes concurrent registrations.
func (r *repoPG) nextNumber(ctx context.Context, now time.Time) (string, error) {
	scope := fmt.Sprintf("patient:%d", now.Year())
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO counters (scope, value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = counters.value + 1
		RETURNING value`, scope).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next patient number: %w", err)
	}
	return fmt.Sprintf("P%d%04d", now.Year(), seq), nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Active = true

	if p.PatientNumber == "" {
		number, err := r.nextNumber(ctx, now)
		if err != nil {
			return err
		}
		p.PatientNumber = number
	}

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, patient_number, first_name, last_name, phone, email,
			date_of_birth, gender, blood_group, address, emergency_contact, emergency_phone,
			medical_history, allergies, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.PatientNumber, p.FirstName, p.LastName, p.Phone, p.Email,
		p.DateOfBirth, p.Gender, p.BloodGroup, p.Address, p.EmergencyContact, p.EmergencyPhone,
		p.MedicalHistory, p.Allergies, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE patient_number = $1`, number)
	return scanPatient(row)
}

func (r *repoPG) GetByPhone(ctx context.Context, phone string) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE phone = $1 AND active ORDER BY created_at DESC LIMIT 1`, phone)
	return scanPatient(row)
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name = $2, last_name = $3, phone = $4, email = $5,
			date_of_birth = $6, gender = $7, blood_group = $8, address = $9,
			emergency_contact = $10, emergency_phone = $11, medical_history = $12,
			allergies = $13, updated_at = $14
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.Phone, p.Email,
		p.DateOfBirth, p.Gender, p.BloodGroup, p.Address,
		p.EmergencyContact, p.EmergencyPhone, p.MedicalHistory,
		p.Allergies, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) setActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set patient active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.setActive(ctx, id, false)
}

func (r *repoPG) Reactivate(ctx context.Context, id uuid.UUID) error {
	return r.setActive(ctx, id, true)
}

func (r *repoPG) List(ctx context.Context, f Filter, page pagination.Params) ([]*Patient, int, error) {
	where := []string{"TRUE"}
	args := []any{}

	if !f.IncludeInactive {
		where = append(where, "active")
	}
	if f.Gender != "" {
		args = append(args, f.Gender)
		where = append(where, fmt.Sprintf("gender = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(first_name ILIKE $%d OR last_name ILIKE $%d OR phone ILIKE $%d OR patient_number ILIKE $%d)",
			n, n, n, n))
	}
	clause := strings.Join(where, " AND ")

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE `+clause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients WHERE `+clause+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	patients, err := collectPatients(rows)
	if err != nil {
		return nil, 0, err
	}
	return patients, total, nil
}
