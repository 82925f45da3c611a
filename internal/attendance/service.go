package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"presence/internal/calendar"
	"presence/internal/config"
	"presence/internal/model"
	"presence/internal/stats"
)

// Service validates writes and computes statistics over the repository.
type Service struct {
	repo     Repository
	defaults calendar.Window
	now      func() time.Time
}

// NewService creates a service backed by a repository. defaults is the
// formation window used when no remote setting overrides it.
func NewService(repo Repository, defaults calendar.Window) *Service {
	return &Service{repo: repo, defaults: defaults, now: time.Now}
}

// WithClock replaces the time source used for "today".
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() time.Time {
	return calendar.Day(s.now())
}

func (s *Service) ListStudents(ctx context.Context) ([]model.Student, error) {
	return s.repo.ListStudents(ctx)
}

func (s *Service) GetStudent(ctx context.Context, id string) (model.Student, error) {
	if strings.TrimSpace(id) == "" {
		return model.Student{}, NewValidationError(errors.New("student id required"), FieldError{Field: "id", Error: "id is a required field"})
	}
	return s.repo.GetStudent(ctx, id)
}

// CreateStudent trims and validates the names before inserting.
func (s *Service) CreateStudent(ctx context.Context, ns model.NewStudent) (model.Student, error) {
	ns.FirstName = strings.TrimSpace(ns.FirstName)
	ns.LastName = strings.TrimSpace(ns.LastName)
	if err := check(ns); err != nil {
		return model.Student{}, err
	}
	return s.repo.CreateStudent(ctx, ns)
}

// UpdateStudent applies a partial update.
func (s *Service) UpdateStudent(ctx context.Context, id string, upd model.StudentUpdate) (model.Student, error) {
	if strings.TrimSpace(id) == "" {
		return model.Student{}, NewValidationError(errors.New("student id required"), FieldError{Field: "id", Error: "id is a required field"})
	}
	if upd.FirstName != nil {
		v := strings.TrimSpace(*upd.FirstName)
		upd.FirstName = &v
	}
	if upd.LastName != nil {
		v := strings.TrimSpace(*upd.LastName)
		upd.LastName = &v
	}
	if err := check(upd); err != nil {
		return model.Student{}, err
	}
	return s.repo.UpdateStudent(ctx, id, upd)
}

// DeleteStudent removes the student together with their attendance records.
func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewValidationError(errors.New("student id required"), FieldError{Field: "id", Error: "id is a required field"})
	}
	return s.repo.DeleteStudent(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context) ([]model.AttendanceRecord, error) {
	return s.repo.ListRecords(ctx)
}

// SaveAttendance replaces the sheet of (date, class). Students of the class
// missing from the present list are written as absent.
func (s *Service) SaveAttendance(ctx context.Context, day model.DaySave) ([]model.AttendanceRecord, error) {
	day.Date = strings.TrimSpace(day.Date)
	if err := check(day); err != nil {
		return nil, err
	}
	present := make([]model.PresentStudent, 0, len(day.Present))
	for _, p := range day.Present {
		if p.ArrivalTime != "" {
			t, err := calendar.ParseArrivalTime(p.ArrivalTime)
			if err != nil {
				return nil, err
			}
			p.ArrivalTime = t
		}
		present = append(present, p)
	}
	return s.repo.ReplaceAttendanceForDay(ctx, day.Date, day.ClassID, present)
}

// Settings returns the stored settings as a key/value map.
func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	list, err := s.repo.Settings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, st := range list {
		out[st.Key] = st.Value
	}
	return out, nil
}

// SaveSetting upserts a setting and reports whether it was created.
func (s *Service) SaveSetting(ctx context.Context, st model.Setting) (bool, error) {
	st.Key = strings.TrimSpace(st.Key)
	st.Value = strings.TrimSpace(st.Value)
	if err := check(st); err != nil {
		return false, err
	}
	return s.repo.UpsertSetting(ctx, st)
}

// FormationWindow resolves the formation bounds from the remote settings,
// falling back to the configured defaults.
func (s *Service) FormationWindow(ctx context.Context) (calendar.Window, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return calendar.Window{}, err
	}
	return config.ResolveFormationWindow(settings, s.defaults)
}

type snapshot struct {
	students []model.Student
	records  []model.AttendanceRecord
	window   calendar.Window
}

func (s *Service) load(ctx context.Context) (snapshot, error) {
	w, err := s.FormationWindow(ctx)
	if err != nil {
		return snapshot{}, fmt.Errorf("formation window: %w", err)
	}
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return snapshot{}, err
	}
	records, err := s.repo.ListRecords(ctx)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{students: students, records: records, window: w}, nil
}

// Global computes the figures of both sessions.
func (s *Service) Global(ctx context.Context) (stats.GlobalStats, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return stats.GlobalStats{}, err
	}
	return stats.Global(snap.students, snap.records, snap.window, s.today()), nil
}

// Class computes the figures of one session.
func (s *Service) Class(ctx context.Context, classID model.ClassID) (stats.ClassStats, error) {
	if !classID.Valid() {
		return stats.ClassStats{}, classError(classID)
	}
	snap, err := s.load(ctx)
	if err != nil {
		return stats.ClassStats{}, err
	}
	return stats.ForClass(snap.students, snap.records, classID, snap.window, s.today()), nil
}

// Student computes one student's figures.
func (s *Service) Student(ctx context.Context, id string) (stats.StudentStats, error) {
	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return stats.StudentStats{}, err
	}
	snap, err := s.load(ctx)
	if err != nil {
		return stats.StudentStats{}, err
	}
	return stats.ForStudent(st, snap.records, snap.window, s.today()), nil
}

// Today summarises today's sheet of a session.
func (s *Service) Today(ctx context.Context, classID model.ClassID) (stats.TodaySummary, error) {
	if !classID.Valid() {
		return stats.TodaySummary{}, classError(classID)
	}
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return stats.TodaySummary{}, err
	}
	records, err := s.repo.ListRecords(ctx)
	if err != nil {
		return stats.TodaySummary{}, err
	}
	return stats.Today(students, records, classID, s.today()), nil
}

// AtRisk returns the n most absent students across both sessions.
func (s *Service) AtRisk(ctx context.Context, n int) ([]stats.StudentStats, error) {
	g, err := s.Global(ctx)
	if err != nil {
		return nil, err
	}
	return stats.AtRisk(g.All(), n), nil
}

func classError(classID model.ClassID) error {
	return NewValidationError(fmt.Errorf("unknown class %q", classID),
		FieldError{Field: "classId", Error: "classId must be morning or afternoon"})
}
