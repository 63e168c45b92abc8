package encounter

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

// ErrNotFound is returned when no visit matches the lookup.
var ErrNotFound = errors.New("visit not found")

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a PostgreSQL-backed visit repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const visitCols = `id, appointment_id, patient_id, doctor_id, visit_date, visit_type,
	chief_complaint, diagnosis, treatment_plan, notes, follow_up_date, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(
		&v.ID, &v.AppointmentID, &v.PatientID, &v.DoctorID, &v.VisitDate, &v.VisitType,
		&v.ChiefComplaint, &v.Diagnosis, &v.TreatmentPlan, &v.Notes, &v.FollowUpDate,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan visit: %w", err)
	}
	return &v, nil
}

func collectVisits(rows pgx.Rows) ([]*Visit, error) {
	defer rows.Close()
	var out []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	if v.VisitDate.IsZero() {
		v.VisitDate = now
	}

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visits (id, appointment_id, patient_id, doctor_id, visit_date, visit_type,
			chief_complaint, diagnosis, treatment_plan, notes, follow_up_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		v.ID, v.AppointmentID, v.PatientID, v.DoctorID, v.VisitDate, v.VisitType,
		v.ChiefComplaint, v.Diagnosis, v.TreatmentPlan, v.Notes, v.FollowUpDate,
		v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE id = $1`, id)
	return scanVisit(row)
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Visit, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE appointment_id = $1`, appointmentID)
	return scanVisit(row)
}

func (r *repoPG) Update(ctx context.Context, v *Visit) error {
	v.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visits SET chief_complaint = $2, diagnosis = $3, treatment_plan = $4,
			notes = $5, follow_up_date = $6, updated_at = $7
		WHERE id = $1`,
		v.ID, v.ChiefComplaint, v.Diagnosis, v.TreatmentPlan,
		v.Notes, v.FollowUpDate, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, page pagination.Params) ([]*Visit, int, error) {
	where := []string{"TRUE"}
	args := []any{}

	if f.PatientID != uuid.Nil {
		args = append(args, f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.DoctorID != uuid.Nil {
		args = append(args, f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("visit_date >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("visit_date < $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM visits WHERE `+clause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visits WHERE `+clause+
			fmt.Sprintf(` ORDER BY visit_date DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits: %w", err)
	}
	visits, err := collectVisits(rows)
	if err != nil {
		return nil, 0, err
	}
	return visits, total, nil
}
