// Package stats aggregates attendance records into presence and
// absenteeism figures.
//
// Every elapsed business day counts against a student unless a present
// record exists for it: days that were never recorded are absences. Class
// averages are the mean of the already rounded per-student rates, and the
// global rate weights the two class averages by enrollment. Functions are
// pure; today is passed in so results are reproducible.
package stats

import (
	"math"
	"sort"
	"strings"
	"time"

	"presence/internal/calendar"
	"presence/internal/model"
)

// StudentStats are one student's figures over the elapsed formation days.
type StudentStats struct {
	Student          model.Student `json:"student"`
	DaysPresent      int           `json:"daysPresent"`
	RecordedAbsences int           `json:"recordedAbsences"`
	UnrecordedDays   int           `json:"unrecordedDays"`
	DaysAbsent       int           `json:"daysAbsent"`
	TotalDays        int           `json:"totalDays"`
	PresenceRate     float64       `json:"presenceRate"`
	AbsenteeismRate  float64       `json:"absenteeismRate"`
}

// DailyStats is a class's turnout for one business day.
type DailyStats struct {
	Date         string  `json:"date"`
	PresentCount int     `json:"presentCount"`
	TotalCount   int     `json:"totalCount"`
	Rate         float64 `json:"rate"`
}

// ClassStats aggregates one session.
type ClassStats struct {
	ClassID                model.ClassID  `json:"classId"`
	AveragePresenceRate    float64        `json:"averagePresenceRate"`
	AverageAbsenteeismRate float64        `json:"averageAbsenteeismRate"`
	StudentStats           []StudentStats `json:"studentStats"`
	DailyStats             []DailyStats   `json:"dailyStats"`
}

// GlobalStats aggregates both sessions.
type GlobalStats struct {
	TotalStudents         int        `json:"totalStudents"`
	MorningStudents       int        `json:"morningStudents"`
	AfternoonStudents     int        `json:"afternoonStudents"`
	Morning               ClassStats `json:"morningStats"`
	Afternoon             ClassStats `json:"afternoonStats"`
	GlobalPresenceRate    float64    `json:"globalPresenceRate"`
	GlobalAbsenteeismRate float64    `json:"globalAbsenteeismRate"`
	ElapsedDays           int        `json:"elapsedDays"`
	TotalDays             int        `json:"totalDays"`
}

// TodaySummary is the same-day snapshot of a session.
type TodaySummary struct {
	Present int     `json:"present"`
	Total   int     `json:"total"`
	Rate    float64 `json:"rate"`
}

// Round1 rounds to one decimal place, halves away from zero.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return Round1(100 * float64(n) / float64(d))
}

// ForStudent computes a student's figures from the records that belong to
// them. Records of other students are ignored.
func ForStudent(student model.Student, records []model.AttendanceRecord, w calendar.Window, today time.Time) StudentStats {
	elapsed := len(w.Elapsed(today))

	var present, absent, recorded int
	for _, r := range records {
		if r.StudentID != student.ID {
			continue
		}
		recorded++
		if r.Present {
			present++
		} else {
			absent++
		}
	}
	unrecorded := elapsed - recorded
	if unrecorded < 0 {
		unrecorded = 0
	}
	totalAbsent := absent + unrecorded

	return StudentStats{
		Student:          student,
		DaysPresent:      present,
		RecordedAbsences: absent,
		UnrecordedDays:   unrecorded,
		DaysAbsent:       totalAbsent,
		TotalDays:        elapsed,
		PresenceRate:     percent(present, elapsed),
		AbsenteeismRate:  percent(totalAbsent, elapsed),
	}
}

// ForClass computes the figures of one session using only that session's
// students and records.
func ForClass(students []model.Student, records []model.AttendanceRecord, classID model.ClassID, w calendar.Window, today time.Time) ClassStats {
	classStudents := inClass(students, classID)
	enrolled := make(map[string]bool, len(classStudents))
	for _, s := range classStudents {
		enrolled[s.ID] = true
	}
	var classRecords []model.AttendanceRecord
	for _, r := range records {
		if r.ClassID == classID {
			classRecords = append(classRecords, r)
		}
	}

	out := ClassStats{
		ClassID:      classID,
		StudentStats: make([]StudentStats, 0, len(classStudents)),
	}
	var presenceSum, absenteeismSum float64
	for _, s := range classStudents {
		st := ForStudent(s, classRecords, w, today)
		presenceSum += st.PresenceRate
		absenteeismSum += st.AbsenteeismRate
		out.StudentStats = append(out.StudentStats, st)
	}
	if n := len(classStudents); n > 0 {
		out.AveragePresenceRate = Round1(presenceSum / float64(n))
		out.AverageAbsenteeismRate = Round1(absenteeismSum / float64(n))
	}

	presentByDate := make(map[string]int)
	for _, r := range classRecords {
		if r.Present && enrolled[r.StudentID] {
			presentByDate[r.Date]++
		}
	}
	days := w.Elapsed(today)
	out.DailyStats = make([]DailyStats, 0, len(days))
	for _, d := range days {
		date := calendar.FormatDate(d)
		n := presentByDate[date]
		out.DailyStats = append(out.DailyStats, DailyStats{
			Date:         date,
			PresentCount: n,
			TotalCount:   len(classStudents),
			Rate:         percent(n, len(classStudents)),
		})
	}
	return out
}

// Global computes both sessions and the enrollment-weighted global rates.
func Global(students []model.Student, records []model.AttendanceRecord, w calendar.Window, today time.Time) GlobalStats {
	morning := ForClass(students, records, model.Morning, w, today)
	afternoon := ForClass(students, records, model.Afternoon, w, today)

	g := GlobalStats{
		TotalStudents:     len(students),
		MorningStudents:   len(morning.StudentStats),
		AfternoonStudents: len(afternoon.StudentStats),
		Morning:           morning,
		Afternoon:         afternoon,
		ElapsedDays:       len(w.Elapsed(today)),
		TotalDays:         w.Total(),
	}
	if g.TotalStudents > 0 {
		total := float64(g.TotalStudents)
		g.GlobalPresenceRate = Round1((morning.AveragePresenceRate*float64(g.MorningStudents) +
			afternoon.AveragePresenceRate*float64(g.AfternoonStudents)) / total)
		g.GlobalAbsenteeismRate = Round1((morning.AverageAbsenteeismRate*float64(g.MorningStudents) +
			afternoon.AverageAbsenteeismRate*float64(g.AfternoonStudents)) / total)
	}
	return g
}

// Today summarises today's records of a session against its enrollment.
// Only records of students currently enrolled in the session count.
func Today(students []model.Student, records []model.AttendanceRecord, classID model.ClassID, today time.Time) TodaySummary {
	classStudents := inClass(students, classID)
	enrolled := make(map[string]bool, len(classStudents))
	for _, s := range classStudents {
		enrolled[s.ID] = true
	}
	date := calendar.FormatDate(calendar.Day(today))
	var present int
	for _, r := range records {
		if r.Date == date && r.ClassID == classID && r.Present && enrolled[r.StudentID] {
			present++
		}
	}
	return TodaySummary{Present: present, Total: len(classStudents), Rate: percent(present, len(classStudents))}
}

// AtRisk returns up to n students with the highest absenteeism rate.
func AtRisk(all []StudentStats, n int) []StudentStats {
	sorted := make([]StudentStats, len(all))
	copy(sorted, all)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AbsenteeismRate != b.AbsenteeismRate {
			return a.AbsenteeismRate > b.AbsenteeismRate
		}
		if c := strings.Compare(strings.ToLower(a.Student.LastName), strings.ToLower(b.Student.LastName)); c != 0 {
			return c < 0
		}
		return strings.ToLower(a.Student.FirstName) < strings.ToLower(b.Student.FirstName)
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// All returns the per-student figures of both sessions, morning first.
func (g GlobalStats) All() []StudentStats {
	out := make([]StudentStats, 0, len(g.Morning.StudentStats)+len(g.Afternoon.StudentStats))
	out = append(out, g.Morning.StudentStats...)
	return append(out, g.Afternoon.StudentStats...)
}

// Summary flattens the headline figures for the summary export.
type Summary struct {
	MorningPresenceRate      float64 `json:"morningPresenceRate"`
	MorningAbsenteeismRate   float64 `json:"morningAbsenteeismRate"`
	AfternoonPresenceRate    float64 `json:"afternoonPresenceRate"`
	AfternoonAbsenteeismRate float64 `json:"afternoonAbsenteeismRate"`
	GlobalPresenceRate       float64 `json:"globalPresenceRate"`
	GlobalAbsenteeismRate    float64 `json:"globalAbsenteeismRate"`
	MorningStudents          int     `json:"morningStudents"`
	AfternoonStudents        int     `json:"afternoonStudents"`
	TotalStudents            int     `json:"totalStudents"`
	ElapsedDays              int     `json:"elapsedDays"`
	TotalDays                int     `json:"totalDays"`
}

func (g GlobalStats) Summary() Summary {
	return Summary{
		MorningPresenceRate:      g.Morning.AveragePresenceRate,
		MorningAbsenteeismRate:   g.Morning.AverageAbsenteeismRate,
		AfternoonPresenceRate:    g.Afternoon.AveragePresenceRate,
		AfternoonAbsenteeismRate: g.Afternoon.AverageAbsenteeismRate,
		GlobalPresenceRate:       g.GlobalPresenceRate,
		GlobalAbsenteeismRate:    g.GlobalAbsenteeismRate,
		MorningStudents:          g.MorningStudents,
		AfternoonStudents:        g.AfternoonStudents,
		TotalStudents:            g.TotalStudents,
		ElapsedDays:              g.ElapsedDays,
		TotalDays:                g.TotalDays,
	}
}

func inClass(students []model.Student, classID model.ClassID) []model.Student {
	var out []model.Student
	for _, s := range students {
		if s.ClassID == classID {
			out = append(out, s)
		}
	}
	return out
}
