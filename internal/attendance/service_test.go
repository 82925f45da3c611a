package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/calendar"
	"presence/internal/model"
)

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	w, err := calendar.ParseWindow("2026-02-16", "2026-02-27")
	require.NoError(t, err)
	repo := NewMemoryRepository()
	svc := NewService(repo, w).WithClock(func() time.Time {
		return time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC)
	})
	return svc, repo
}

func mustCreate(t *testing.T, svc *Service, first, last string, class model.ClassID) model.Student {
	t.Helper()
	s, err := svc.CreateStudent(context.Background(), model.NewStudent{FirstName: first, LastName: last, ClassID: class})
	require.NoError(t, err)
	return s
}

func TestCreateStudentValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		in     model.NewStudent
		fields []string
	}{
		{name: "blank names", in: model.NewStudent{FirstName: "  ", LastName: "", ClassID: model.Morning}, fields: []string{"firstName", "lastName"}},
		{name: "bad class", in: model.NewStudent{FirstName: "Ada", LastName: "Lovelace", ClassID: "evening"}, fields: []string{"classId"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateStudent(ctx, tt.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			var got []string
			for _, f := range verr.Fields {
				got = append(got, f.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}

	s := mustCreate(t, svc, "  Ada ", " Lovelace", model.Morning)
	assert.Equal(t, "Ada", s.FirstName)
	assert.Equal(t, "Lovelace", s.LastName)
	assert.NotEmpty(t, s.ID)
}

func TestUpdateStudent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	s := mustCreate(t, svc, "Ada", "Lovelace", model.Morning)

	class := model.Afternoon
	got, err := svc.UpdateStudent(ctx, s.ID, model.StudentUpdate{ClassID: &class})
	require.NoError(t, err)
	assert.Equal(t, model.Afternoon, got.ClassID)
	assert.Equal(t, "Ada", got.FirstName)

	blank := " "
	_, err = svc.UpdateStudent(ctx, s.ID, model.StudentUpdate{LastName: &blank})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lastName", verr.Fields[0].Field)

	_, err = svc.UpdateStudent(ctx, "missing", model.StudentUpdate{ClassID: &class})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAttendanceOverwritesDay(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "Ada", "Lovelace", model.Morning)
	b := mustCreate(t, svc, "Alan", "Turing", model.Morning)
	c := mustCreate(t, svc, "Grace", "Hopper", model.Afternoon)

	_, err := svc.SaveAttendance(ctx, model.DaySave{
		Date:    "2026-02-16",
		ClassID: model.Morning,
		Present: []model.PresentStudent{{StudentID: a.ID, ArrivalTime: "8:35"}, {StudentID: b.ID}},
	})
	require.NoError(t, err)
	_, err = svc.SaveAttendance(ctx, model.DaySave{Date: "2026-02-16", ClassID: model.Afternoon, Present: []model.PresentStudent{{StudentID: c.ID}}})
	require.NoError(t, err)

	// Resave the morning with only b present.
	day, err := svc.SaveAttendance(ctx, model.DaySave{
		Date:    "2026-02-16",
		ClassID: model.Morning,
		Present: []model.PresentStudent{{StudentID: b.ID, ArrivalTime: "09:10"}},
	})
	require.NoError(t, err)
	require.Len(t, day, 2)

	records, err := svc.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	byStudent := map[string]model.AttendanceRecord{}
	for _, r := range records {
		_, dup := byStudent[r.StudentID]
		assert.False(t, dup, "one record per student per day")
		byStudent[r.StudentID] = r
	}
	assert.False(t, byStudent[a.ID].Present)
	assert.Empty(t, byStudent[a.ID].ArrivalTime)
	assert.True(t, byStudent[b.ID].Present)
	assert.Equal(t, "09:10", byStudent[b.ID].ArrivalTime)
	assert.True(t, byStudent[c.ID].Present, "other session untouched")
}

func TestSaveAttendanceRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		day   model.DaySave
		field string
	}{
		{name: "bad date", day: model.DaySave{Date: "16/02/2026", ClassID: model.Morning}, field: "date"},
		{name: "bad class", day: model.DaySave{Date: "2026-02-16", ClassID: "night"}, field: "classId"},
		{
			name:  "bad arrival",
			day:   model.DaySave{Date: "2026-02-16", ClassID: model.Morning, Present: []model.PresentStudent{{StudentID: "x", ArrivalTime: "25:99"}}},
			field: "presentStudentsData[0].arrivalTime",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SaveAttendance(ctx, tt.day)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Fields)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestDeleteStudentCascades(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "Ada", "Lovelace", model.Morning)
	b := mustCreate(t, svc, "Alan", "Turing", model.Morning)
	_, err := svc.SaveAttendance(ctx, model.DaySave{Date: "2026-02-16", ClassID: model.Morning, Present: []model.PresentStudent{{StudentID: a.ID}}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteStudent(ctx, a.ID))

	records, err := svc.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, b.ID, records[0].StudentID)

	assert.ErrorIs(t, svc.DeleteStudent(ctx, a.ID), ErrNotFound)
}

func TestFormationWindowUsesSettings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.FormationWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-27", calendar.FormatDate(w.End))

	created, err := svc.SaveSetting(ctx, model.Setting{Key: model.SettingFormationEnd, Value: "2026-02-18"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = svc.SaveSetting(ctx, model.Setting{Key: model.SettingFormationEnd, Value: "2026-02-17"})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = svc.SaveSetting(ctx, model.Setting{Key: model.SettingFormationStart, Value: "soon"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	g, err := svc.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, g.ElapsedDays)
	assert.Equal(t, 2, g.TotalDays)
}

func TestStatsThroughService(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "Ada", "Lovelace", model.Morning)
	b := mustCreate(t, svc, "Alan", "Turing", model.Morning)
	for _, date := range []string{"2026-02-16", "2026-02-17", "2026-02-18", "2026-02-19", "2026-02-20"} {
		_, err := svc.SaveAttendance(ctx, model.DaySave{Date: date, ClassID: model.Morning, Present: []model.PresentStudent{{StudentID: a.ID}}})
		require.NoError(t, err)
	}

	st, err := svc.Student(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, st.TotalDays)
	assert.Equal(t, 100.0, st.PresenceRate)

	class, err := svc.Class(ctx, model.Morning)
	require.NoError(t, err)
	assert.Equal(t, 50.0, class.AveragePresenceRate)
	require.Len(t, class.DailyStats, 5)

	today, err := svc.Today(ctx, model.Morning)
	require.NoError(t, err)
	assert.Equal(t, 1, today.Present)
	assert.Equal(t, 2, today.Total)

	risk, err := svc.AtRisk(ctx, 1)
	require.NoError(t, err)
	require.Len(t, risk, 1)
	assert.Equal(t, b.ID, risk[0].Student.ID)

	_, err = svc.Class(ctx, "night")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
