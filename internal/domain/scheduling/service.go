package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicrm/clinicrm/internal/domain/identity"
	"github.com/clinicrm/clinicrm/internal/domain/patient"
	"github.com/clinicrm/clinicrm/internal/platform/cache"
	"github.com/clinicrm/clinicrm/internal/platform/db"
	"github.com/clinicrm/clinicrm/internal/platform/events"
	"github.com/clinicrm/clinicrm/internal/platform/notification"
	"github.com/clinicrm/clinicrm/pkg/pagination"
)

var validVisitTypes = map[string]bool{
	VisitClinic:    true,
	VisitHome:      true,
	VisitOnline:    true,
	VisitEmergency: true,
}

// Allowed status transitions. Terminal states have no exits.
var transitions = map[string]map[string]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true, StatusNoShow: true},
	StatusConfirmed: {StatusCompleted: true, StatusCancelled: true, StatusNoShow: true},
}

// PatientDirectory resolves patient records for validation and messaging.
type PatientDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// DoctorDirectory resolves doctor accounts.
type DoctorDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// Notifier sends templated patient messages.
type Notifier interface {
	SendTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Message, error)
}

// Config carries the clinic's booking rules.
type Config struct {
	WorkDayStartHour int // inclusive, local clinic time
	WorkDayEndHour   int // exclusive
	SlotMinutes      int
	Prices           map[string]decimal.Decimal // by visit type
}

// Dependencies wires the service into the rest of the system. Pool enables
// transactional booking; Notifier, Events and SlotCache are optional.
type Dependencies struct {
	Pool      *pgxpool.Pool
	Patients  PatientDirectory
	Doctors   DoctorDirectory
	Notifier  Notifier
	Events    events.Publisher
	SlotCache cache.Store
	Logger    zerolog.Logger
}

// Service implements appointment booking and lifecycle management.
type Service struct {
	repo Repository
	deps Dependencies
	cfg  Config
}

func NewService(repo Repository, deps Dependencies, cfg Config) *Service {
	if deps.Events == nil {
		deps.Events = events.NewNoop()
	}
	if cfg.SlotMinutes <= 0 {
		cfg.SlotMinutes = 30
	}
	return &Service{repo: repo, deps: deps, cfg: cfg}
}

// inTx runs fn transactionally when a pool is configured, directly
// otherwise. Mock-backed tests run without a pool.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.deps.Pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.deps.Pool, fn)
}

func (s *Service) priceFor(visitType string) decimal.Decimal {
	if p, ok := s.cfg.Prices[visitType]; ok {
		return p
	}
	// Emergency visits bill at the clinic rate unless priced explicitly.
	return s.cfg.Prices[VisitClinic]
}

// withinWorkingHours checks the clinic calendar: closed Sundays, open
// WorkDayStartHour to WorkDayEndHour otherwise. Emergency visits bypass it.
func (s *Service) withinWorkingHours(start, end time.Time) error {
	if start.Weekday() == time.Sunday {
		return fmt.Errorf("the clinic is closed on Sundays")
	}
	if start.Hour() < s.cfg.WorkDayStartHour {
		return fmt.Errorf("appointments start at %02d:00", s.cfg.WorkDayStartHour)
	}
	dayEnd := time.Date(start.Year(), start.Month(), start.Day(),
		s.cfg.WorkDayEndHour, 0, 0, 0, start.Location())
	if end.After(dayEnd) {
		return fmt.Errorf("appointments must end by %02d:00", s.cfg.WorkDayEndHour)
	}
	return nil
}

func (s *Service) validateBooking(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if a.StartTime.IsZero() {
		return fmt.Errorf("start_time is required")
	}
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = s.cfg.SlotMinutes
	}
	if a.VisitType == "" {
		a.VisitType = VisitClinic
	}
	if !validVisitTypes[a.VisitType] {
		return fmt.Errorf("invalid visit_type: %s", a.VisitType)
	}
	if a.StartTime.Before(time.Now()) {
		return fmt.Errorf("start_time must be in the future")
	}
	if a.VisitType != VisitEmergency {
		if err := s.withinWorkingHours(a.StartTime, a.EndTime()); err != nil {
			return err
		}
	}

	if s.deps.Patients != nil {
		p, err := s.deps.Patients.Get(ctx, a.PatientID)
		if err != nil {
			return fmt.Errorf("patient not found")
		}
		if !p.Active {
			return fmt.Errorf("patient record is deactivated")
		}
	}
	if s.deps.Doctors != nil {
		d, err := s.deps.Doctors.Get(ctx, a.DoctorID)
		if err != nil || !d.IsDoctor() || !d.Active {
			return fmt.Errorf("doctor not found")
		}
	}
	return nil
}

// Book reserves the slot. The conflict check and the insert run in one
// transaction under a per-doctor-day advisory lock, so two concurrent
// bookings for the same slot cannot both succeed. On collision the error is
// a *ConflictError naming the appointment that holds the slot.
func (s *Service) Book(ctx context.Context, a *Appointment) error {
	if err := s.validateBooking(ctx, a); err != nil {
		return err
	}

	a.Status = StatusPending
	a.Fee = s.priceFor(a.VisitType)
	if a.VisitType == VisitOnline {
		s.issueMeeting(a)
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockDoctorDay(ctx, a.DoctorID, a.StartTime); err != nil {
			return err
		}
		existing, err := s.repo.FindOverlapping(ctx, a.DoctorID, a.StartTime, a.EndTime(), uuid.Nil)
		if err == nil {
			return &ConflictError{ConflictingID: existing.ID}
		}
		if err != ErrNotFound {
			return err
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return err
	}

	s.invalidateSlots(ctx, a.DoctorID, a.StartTime)
	s.publish(ctx, events.TypeAppointmentBooked, a)
	s.notifyBooking(ctx, a)
	return nil
}

// issueMeeting attaches video consultation credentials.
func (s *Service) issueMeeting(a *Appointment) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	a.MeetingID = id[:12]
	a.MeetingURL = "https://meet.clinic.example/" + a.MeetingID
	a.MeetingPassword = id[12:20]
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, page pagination.Params) ([]*Appointment, int, error) {
	return s.repo.List(ctx, f, page)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitions[a.Status][to] {
		return nil, fmt.Errorf("cannot move appointment from %s to %s", a.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, to); err != nil {
		return nil, err
	}
	a.Status = to
	s.invalidateSlots(ctx, a.DoctorID, a.StartTime)
	return a, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.transition(ctx, id, StatusConfirmed)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeAppointmentConfirmed, a)
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.transition(ctx, id, StatusCancelled)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeAppointmentCancelled, a)
	return a, nil
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow)
}

// Reschedule moves a blocking appointment to a new slot with the same
// conflict protection as Book. The reminder flag resets so the patient is
// reminded about the new time.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDuration int) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Blocks() {
		return nil, fmt.Errorf("cannot reschedule a %s appointment", a.Status)
	}
	if newDuration <= 0 {
		newDuration = a.DurationMinutes
	}

	oldStart := a.StartTime
	a.StartTime = newStart
	a.DurationMinutes = newDuration
	if a.StartTime.Before(time.Now()) {
		return nil, fmt.Errorf("start_time must be in the future")
	}
	if a.VisitType != VisitEmergency {
		if err := s.withinWorkingHours(a.StartTime, a.EndTime()); err != nil {
			return nil, err
		}
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockDoctorDay(ctx, a.DoctorID, a.StartTime); err != nil {
			return err
		}
		existing, err := s.repo.FindOverlapping(ctx, a.DoctorID, a.StartTime, a.EndTime(), a.ID)
		if err == nil {
			return &ConflictError{ConflictingID: existing.ID}
		}
		if err != ErrNotFound {
			return err
		}
		a.ReminderSent = false
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSlots(ctx, a.DoctorID, oldStart)
	s.invalidateSlots(ctx, a.DoctorID, a.StartTime)
	return a, nil
}

func slotCacheKey(doctorID uuid.UUID, day time.Time) string {
	return "slots:" + doctorID.String() + ":" + day.Format("2006-01-02")
}

func (s *Service) invalidateSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) {
	if s.deps.SlotCache == nil {
		return
	}
	if err := s.deps.SlotCache.Delete(ctx, slotCacheKey(doctorID, day)); err != nil {
		s.deps.Logger.Warn().Err(err).Msg("failed to invalidate slot cache")
	}
}

// AvailableSlots returns the doctor's bookable intervals for the day.
// Results are cached briefly; booking activity invalidates the entry.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	if day.Weekday() == time.Sunday {
		return []Slot{}, nil
	}

	key := slotCacheKey(doctorID, day)
	if s.deps.SlotCache != nil {
		var cached []Slot
		if err := cache.GetJSON(ctx, s.deps.SlotCache, key, &cached); err == nil {
			return cached, nil
		}
	}

	booked, err := s.repo.ListByDoctorDay(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	step := time.Duration(s.cfg.SlotMinutes) * time.Minute
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), s.cfg.WorkDayStartHour, 0, 0, 0, day.Location())
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), s.cfg.WorkDayEndHour, 0, 0, 0, day.Location())

	var slots []Slot
	for start := dayStart; start.Add(step).Before(dayEnd) || start.Add(step).Equal(dayEnd); start = start.Add(step) {
		end := start.Add(step)
		available := start.After(now)
		for _, b := range booked {
			if b.StartTime.Before(end) && b.EndTime().After(start) {
				available = false
				break
			}
		}
		slots = append(slots, Slot{Start: start, End: end, Available: available})
	}

	if s.deps.SlotCache != nil {
		if err := cache.SetJSON(ctx, s.deps.SlotCache, key, slots, time.Minute); err != nil {
			s.deps.Logger.Warn().Err(err).Msg("failed to cache slots")
		}
	}
	return slots, nil
}

// DoctorSchedule lists the doctor's blocking appointments for the day.
func (s *Service) DoctorSchedule(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]*Appointment, error) {
	return s.repo.ListByDoctorDay(ctx, doctorID, day)
}

// SendReminders messages patients with appointments in the next 24 hours
// that have not been reminded yet. Returns the number of reminders sent.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	due, err := s.repo.ListDueReminders(ctx, time.Now().Add(24*time.Hour))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, a := range due {
		if err := s.remind(ctx, a); err != nil {
			s.deps.Logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("reminder failed")
			continue
		}
		if err := s.repo.MarkReminderSent(ctx, a.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (s *Service) remind(ctx context.Context, a *Appointment) error {
	if s.deps.Notifier == nil || s.deps.Patients == nil {
		return fmt.Errorf("notifications are not configured")
	}
	p, err := s.deps.Patients.Get(ctx, a.PatientID)
	if err != nil {
		return err
	}
	data := map[string]string{
		"patient_name": p.FullName(),
		"doctor_name":  s.doctorName(ctx, a.DoctorID),
		"date":         a.StartTime.Format("January 2, 2006"),
		"time":         a.StartTime.Format("3:04 PM"),
		"visit_type":   a.VisitType,
	}
	_, err = s.deps.Notifier.SendTemplate(ctx, "appointment-reminder", data, p.Phone)
	return err
}

func (s *Service) doctorName(ctx context.Context, doctorID uuid.UUID) string {
	if s.deps.Doctors == nil {
		return "your doctor"
	}
	d, err := s.deps.Doctors.Get(ctx, doctorID)
	if err != nil {
		return "your doctor"
	}
	return d.FullName
}

// notifyBooking sends the confirmation message. Failures are logged, never
// returned: the booking already committed.
func (s *Service) notifyBooking(ctx context.Context, a *Appointment) {
	if s.deps.Notifier == nil || s.deps.Patients == nil {
		return
	}
	p, err := s.deps.Patients.Get(ctx, a.PatientID)
	if err != nil {
		return
	}
	data := map[string]string{
		"patient_name": p.FullName(),
		"doctor_name":  s.doctorName(ctx, a.DoctorID),
		"date":         a.StartTime.Format("January 2, 2006"),
		"time":         a.StartTime.Format("3:04 PM"),
		"visit_type":   a.VisitType,
	}
	templateID := "appointment-confirmation"
	if a.VisitType == VisitOnline {
		templateID = "online-consultation"
		data["meeting_url"] = a.MeetingURL
		data["meeting_password"] = a.MeetingPassword
	}
	if _, err := s.deps.Notifier.SendTemplate(ctx, templateID, data, p.Phone); err != nil {
		s.deps.Logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("booking notification failed")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	evt := events.New(eventType, a.ID, map[string]string{
		"patient_id": a.PatientID.String(),
		"doctor_id":  a.DoctorID.String(),
		"start_time": a.StartTime.UTC().Format(time.RFC3339),
		"visit_type": a.VisitType,
	})
	if err := s.deps.Events.Publish(ctx, evt); err != nil {
		s.deps.Logger.Warn().Err(err).Str("event_type", eventType).Msg("event publish failed")
	}
}

// Statistics summarizes appointment volume by status for the window.
type Statistics struct {
	From     time.Time     `json:"from"`
	To       time.Time     `json:"to"`
	Total    int           `json:"total"`
	ByStatus []StatusCount `json:"by_status"`
}

func (s *Service) Stats(ctx context.Context, from, to time.Time) (*Statistics, error) {
	counts, err := s.repo.CountByStatus(ctx, from, to)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{From: from, To: to, ByStatus: counts}
	for _, c := range counts {
		stats.Total += c.Count
	}
	return stats, nil
}
