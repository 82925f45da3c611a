package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/calendar"
	"presence/internal/model"
)

// twoWeeks covers 10 business days, Mon 2026-02-16 to Fri 2026-02-27.
func twoWeeks(t *testing.T) calendar.Window {
	t.Helper()
	w, err := calendar.ParseWindow("2026-02-16", "2026-02-27")
	require.NoError(t, err)
	return w
}

var afterFormation = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func student(id string, class model.ClassID) model.Student {
	return model.Student{ID: id, FirstName: "F" + id, LastName: "L" + id, ClassID: class}
}

func record(studentID, date string, class model.ClassID, present bool) model.AttendanceRecord {
	return model.AttendanceRecord{
		ID:        fmt.Sprintf("%s-%s-%s", studentID, date, class),
		StudentID: studentID,
		Date:      date,
		ClassID:   class,
		Present:   present,
	}
}

func TestForStudentCountsUnrecordedDaysAsAbsences(t *testing.T) {
	s := student("a", model.Morning)
	records := []model.AttendanceRecord{
		record("a", "2026-02-16", model.Morning, true),
		record("a", "2026-02-17", model.Morning, true),
		record("a", "2026-02-18", model.Morning, true),
		record("a", "2026-02-19", model.Morning, true),
		record("a", "2026-02-20", model.Morning, false),
		record("a", "2026-02-23", model.Morning, false),
		record("other", "2026-02-23", model.Morning, true),
	}

	got := ForStudent(s, records, twoWeeks(t), afterFormation)

	assert.Equal(t, 10, got.TotalDays)
	assert.Equal(t, 4, got.DaysPresent)
	assert.Equal(t, 2, got.RecordedAbsences)
	assert.Equal(t, 4, got.UnrecordedDays)
	assert.Equal(t, 6, got.DaysAbsent)
	assert.Equal(t, 40.0, got.PresenceRate)
	assert.Equal(t, 60.0, got.AbsenteeismRate)
}

func TestForStudentIsDeterministic(t *testing.T) {
	s := student("a", model.Morning)
	records := []model.AttendanceRecord{record("a", "2026-02-16", model.Morning, true)}
	w := twoWeeks(t)

	assert.Equal(t, ForStudent(s, records, w, afterFormation), ForStudent(s, records, w, afterFormation))
}

func TestForStudentRounding(t *testing.T) {
	w, err := calendar.ParseWindow("2026-02-16", "2026-02-18")
	require.NoError(t, err)
	s := student("a", model.Morning)

	got := ForStudent(s, []model.AttendanceRecord{record("a", "2026-02-16", model.Morning, true)}, w, afterFormation)

	assert.Equal(t, 3, got.TotalDays)
	assert.Equal(t, 33.3, got.PresenceRate)
	assert.Equal(t, 66.7, got.AbsenteeismRate)
}

func TestForStudentNoElapsedDays(t *testing.T) {
	s := student("a", model.Morning)
	before := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	got := ForStudent(s, nil, twoWeeks(t), before)

	assert.Zero(t, got.TotalDays)
	assert.Zero(t, got.PresenceRate)
	assert.Zero(t, got.AbsenteeismRate)
}

func TestForStudentMoreRecordsThanDays(t *testing.T) {
	w, err := calendar.ParseWindow("2026-02-16", "2026-02-16")
	require.NoError(t, err)
	s := student("a", model.Morning)
	records := []model.AttendanceRecord{
		record("a", "2026-02-16", model.Morning, true),
		record("a", "2026-02-17", model.Morning, false),
	}

	got := ForStudent(s, records, w, afterFormation)

	assert.Zero(t, got.UnrecordedDays)
	assert.Equal(t, 1, got.DaysAbsent)
}

func classFixture() ([]model.Student, []model.AttendanceRecord) {
	students := []model.Student{
		student("a", model.Morning),
		student("b", model.Morning),
		student("c", model.Afternoon),
	}
	var records []model.AttendanceRecord
	for _, d := range []string{"2026-02-16", "2026-02-17", "2026-02-18", "2026-02-19"} {
		records = append(records, record("a", d, model.Morning, true))
	}
	records = append(records,
		record("a", "2026-02-20", model.Morning, false),
		record("a", "2026-02-23", model.Morning, false),
	)
	for _, d := range []string{
		"2026-02-16", "2026-02-17", "2026-02-18", "2026-02-19", "2026-02-20",
		"2026-02-23", "2026-02-24", "2026-02-25", "2026-02-26", "2026-02-27",
	} {
		records = append(records, record("b", d, model.Morning, true))
	}
	return students, records
}

func TestForClass(t *testing.T) {
	students, records := classFixture()

	got := ForClass(students, records, model.Morning, twoWeeks(t), afterFormation)

	require.Len(t, got.StudentStats, 2)
	assert.Equal(t, 70.0, got.AveragePresenceRate)
	assert.Equal(t, 30.0, got.AverageAbsenteeismRate)

	require.Len(t, got.DailyStats, 10)
	byDate := map[string]DailyStats{}
	for _, d := range got.DailyStats {
		assert.Equal(t, 2, d.TotalCount)
		byDate[d.Date] = d
	}
	assert.Equal(t, 100.0, byDate["2026-02-16"].Rate)
	assert.Equal(t, 1, byDate["2026-02-20"].PresentCount)
	assert.Equal(t, 50.0, byDate["2026-02-20"].Rate)
	assert.Equal(t, 50.0, byDate["2026-02-27"].Rate)
}

func TestForClassIgnoresOtherClassRecords(t *testing.T) {
	students := []model.Student{student("a", model.Afternoon)}
	records := []model.AttendanceRecord{
		record("a", "2026-02-16", model.Morning, true),
		record("a", "2026-02-16", model.Afternoon, true),
	}

	got := ForClass(students, records, model.Afternoon, twoWeeks(t), afterFormation)

	require.Len(t, got.StudentStats, 1)
	assert.Equal(t, 1, got.StudentStats[0].DaysPresent)
	assert.Equal(t, 1, got.DailyStats[0].PresentCount)
}

func TestForClassEmpty(t *testing.T) {
	got := ForClass(nil, nil, model.Morning, twoWeeks(t), afterFormation)

	assert.Empty(t, got.StudentStats)
	assert.Zero(t, got.AveragePresenceRate)
	for _, d := range got.DailyStats {
		assert.Zero(t, d.Rate)
	}
}

func TestGlobal(t *testing.T) {
	students, records := classFixture()

	got := Global(students, records, twoWeeks(t), afterFormation)

	assert.Equal(t, 3, got.TotalStudents)
	assert.Equal(t, 2, got.MorningStudents)
	assert.Equal(t, 1, got.AfternoonStudents)
	assert.Equal(t, 0.0, got.Afternoon.AveragePresenceRate)
	assert.Equal(t, 100.0, got.Afternoon.AverageAbsenteeismRate)
	assert.Equal(t, 46.7, got.GlobalPresenceRate)
	assert.Equal(t, 53.3, got.GlobalAbsenteeismRate)
	assert.Equal(t, 10, got.ElapsedDays)
	assert.Equal(t, 10, got.TotalDays)
	assert.Len(t, got.All(), 3)

	sum := got.Summary()
	assert.Equal(t, 70.0, sum.MorningPresenceRate)
	assert.Equal(t, got.GlobalAbsenteeismRate, sum.GlobalAbsenteeismRate)
}

func TestGlobalWithoutStudents(t *testing.T) {
	got := Global(nil, nil, twoWeeks(t), afterFormation)

	assert.Zero(t, got.TotalStudents)
	assert.Zero(t, got.GlobalPresenceRate)
	assert.Zero(t, got.GlobalAbsenteeismRate)
}

func TestToday(t *testing.T) {
	students, _ := classFixture()
	now := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	records := []model.AttendanceRecord{
		record("a", "2026-02-18", model.Morning, true),
		record("b", "2026-02-18", model.Morning, false),
		record("b", "2026-02-17", model.Morning, true),
		record("c", "2026-02-18", model.Afternoon, true),
	}

	assert.Equal(t, TodaySummary{Present: 1, Total: 2, Rate: 50}, Today(students, records, model.Morning, now))
	assert.Equal(t, TodaySummary{Present: 1, Total: 1, Rate: 100}, Today(students, records, model.Afternoon, now))
	assert.Equal(t, TodaySummary{}, Today(nil, records, model.Morning, now))
}

func TestTodayIgnoresStudentsNoLongerEnrolled(t *testing.T) {
	students, _ := classFixture()
	now := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	records := []model.AttendanceRecord{
		record("a", "2026-02-18", model.Morning, true),
		record("b", "2026-02-18", model.Morning, true),
		record("gone", "2026-02-18", model.Morning, true),
		record("c", "2026-02-18", model.Morning, true),
	}

	got := Today(students, records, model.Morning, now)

	assert.Equal(t, TodaySummary{Present: 2, Total: 2, Rate: 100}, got)
}

func TestAtRisk(t *testing.T) {
	all := []StudentStats{
		{Student: model.Student{ID: "1", LastName: "Martin"}, AbsenteeismRate: 10},
		{Student: model.Student{ID: "2", LastName: "Durand"}, AbsenteeismRate: 50},
		{Student: model.Student{ID: "3", LastName: "Bernard"}, AbsenteeismRate: 50},
		{Student: model.Student{ID: "4", LastName: "Petit"}, AbsenteeismRate: 0},
	}

	got := AtRisk(all, 3)

	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Student.ID)
	assert.Equal(t, "2", got[1].Student.ID)
	assert.Equal(t, "1", got[2].Student.ID)
	assert.Equal(t, "1", all[0].Student.ID, "input must not be reordered")
	assert.Len(t, AtRisk(all, 10), 4)
}

func TestRound1(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{100.0 / 3, 33.3},
		{200.0 / 3, 66.7},
		{12.5, 12.5},
		{0.25, 0.3},
		{12.25, 12.3},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round1(tt.in), "Round1(%v)", tt.in)
	}
}
