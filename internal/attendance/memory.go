package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"presence/internal/calendar"
	"presence/internal/model"
)

// MemoryRepository is an in-process Repository for dev and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	now      func() time.Time
	students map[string]model.Student
	records  []model.AttendanceRecord
	settings map[string]model.Setting
}

// NewMemoryRepository creates an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:      time.Now,
		students: make(map[string]model.Student),
		settings: make(map[string]model.Setting),
	}
}

func (r *MemoryRepository) ListStudents(_ context.Context) ([]model.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedStudents(), nil
}

func (r *MemoryRepository) sortedStudents() []model.Student {
	out := make([]model.Student, 0, len(r.students))
	for _, s := range r.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRepository) GetStudent(_ context.Context, id string) (model.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepository) CreateStudent(_ context.Context, ns model.NewStudent) (model.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := model.Student{
		ID:        uuid.NewString(),
		FirstName: ns.FirstName,
		LastName:  ns.LastName,
		ClassID:   ns.ClassID,
		CreatedAt: r.now().UTC(),
	}
	r.students[s.ID] = s
	return s, nil
}

func (r *MemoryRepository) UpdateStudent(_ context.Context, id string, upd model.StudentUpdate) (model.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	if upd.FirstName != nil {
		s.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		s.LastName = *upd.LastName
	}
	if upd.ClassID != nil {
		s.ClassID = *upd.ClassID
	}
	r.students[id] = s
	return s, nil
}

func (r *MemoryRepository) DeleteStudent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.students[id]; !ok {
		return ErrNotFound
	}
	delete(r.students, id)
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.StudentID != id {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	return nil
}

func (r *MemoryRepository) ListRecords(_ context.Context) ([]model.AttendanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AttendanceRecord, len(r.records))
	copy(out, r.records)
	return out, nil
}

func (r *MemoryRepository) ReplaceAttendanceForDay(_ context.Context, date string, classID model.ClassID, present []model.PresentStudent) ([]model.AttendanceRecord, error) {
	if _, err := calendar.ParseDate(date); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var enrolled []string
	for _, s := range r.sortedStudents() {
		if s.ClassID == classID {
			enrolled = append(enrolled, s.ID)
		}
	}
	kept := make([]model.AttendanceRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Date == date && rec.ClassID == classID {
			continue
		}
		kept = append(kept, rec)
	}
	day := buildDay(enrolled, date, classID, present)
	r.records = append(kept, day...)
	return day, nil
}

func (r *MemoryRepository) Settings(_ context.Context) ([]model.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Setting, 0, len(r.settings))
	for _, s := range r.settings {
		if s.Key != "" && s.Value != "" {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *MemoryRepository) UpsertSetting(_ context.Context, s model.Setting) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.settings[s.Key]
	r.settings[s.Key] = s
	return !exists, nil
}
