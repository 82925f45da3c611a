package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/calendar"
	"presence/internal/client"
	"presence/internal/model"
	"presence/internal/outbox"
	"presence/internal/sheet"
)

// today is a Friday in the first formation week.
var today = time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*httptest.Server, *client.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w, err := calendar.ParseWindow("2026-02-16", "2026-08-28")
	require.NoError(t, err)
	svc := attendance.NewService(attendance.NewMemoryRepository(), w).WithClock(func() time.Time { return today })
	h := New(svc, auth.NewIssuer("open sesame", "presence", "secret", time.Hour),
		HealthCheck{Name: "db", Check: func(context.Context) bool { return true }})
	h.now = func() time.Time { return today }

	r := gin.New()
	h.Routes(r, nil)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := client.New(srv.URL, "")
	_, err = c.Login(context.Background(), "open sesame")
	require.NoError(t, err)
	return srv, c
}

func TestRequiresSession(t *testing.T) {
	srv, _ := newServer(t)
	anon := client.New(srv.URL, "")

	require.NoError(t, anon.Health(context.Background()))

	_, err := anon.ListStudents(context.Background())
	assert.Equal(t, http.StatusUnauthorized, client.StatusCode(err))

	_, err = anon.Login(context.Background(), "nope")
	assert.Equal(t, http.StatusUnauthorized, client.StatusCode(err))
}

func TestStudentLifecycle(t *testing.T) {
	_, c := newServer(t)
	ctx := context.Background()

	students, err := c.ListStudents(ctx)
	require.NoError(t, err)
	assert.Empty(t, students)

	_, err = c.CreateStudent(ctx, model.NewStudent{FirstName: "Ada", ClassID: model.Morning})
	var re *client.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Contains(t, re.Message, "lastName")

	ada, err := c.CreateStudent(ctx, model.NewStudent{FirstName: "Ada", LastName: "Lovelace", ClassID: model.Morning})
	require.NoError(t, err)

	class := model.Afternoon
	ada, err = c.UpdateStudent(ctx, ada.ID, model.StudentUpdate{ClassID: &class})
	require.NoError(t, err)
	assert.Equal(t, model.Afternoon, ada.ClassID)

	require.NoError(t, c.DeleteStudent(ctx, ada.ID))
	assert.Equal(t, http.StatusNotFound, client.StatusCode(c.DeleteStudent(ctx, ada.ID)))
}

func TestAttendanceAndStats(t *testing.T) {
	_, c := newServer(t)
	ctx := context.Background()

	ada, err := c.CreateStudent(ctx, model.NewStudent{FirstName: "Ada", LastName: "Lovelace", ClassID: model.Morning})
	require.NoError(t, err)
	alan, err := c.CreateStudent(ctx, model.NewStudent{FirstName: "Alan", LastName: "Turing", ClassID: model.Morning})
	require.NoError(t, err)

	for _, date := range []string{"2026-02-16", "2026-02-17", "2026-02-18", "2026-02-19", "2026-02-20"} {
		records, err := c.SaveAttendance(ctx, model.DaySave{
			Date:    date,
			ClassID: model.Morning,
			Present: []model.PresentStudent{{StudentID: ada.ID, ArrivalTime: "08:40"}},
		})
		require.NoError(t, err)
		require.Len(t, records, 2)
	}

	_, err = c.SaveAttendance(ctx, model.DaySave{Date: "20/02/2026", ClassID: model.Morning})
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))

	g, err := c.GlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, g.ElapsedDays)
	assert.Equal(t, 2, g.MorningStudents)
	assert.Equal(t, 50.0, g.GlobalPresenceRate)

	cs, err := c.ClassStats(ctx, model.Morning)
	require.NoError(t, err)
	require.Len(t, cs.DailyStats, 5)
	assert.Equal(t, 50.0, cs.DailyStats[0].Rate)

	td, err := c.TodayStats(ctx, model.Morning)
	require.NoError(t, err)
	assert.Equal(t, 1, td.Present)

	st, err := c.StudentStats(ctx, alan.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.AbsenteeismRate)

	risk, err := c.AtRisk(ctx, 1)
	require.NoError(t, err)
	require.Len(t, risk, 1)
	assert.Equal(t, alan.ID, risk[0].Student.ID)

	_, err = c.ClassStats(ctx, "night")
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))
	_, err = c.StudentStats(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, client.StatusCode(err))
}

func TestSettingsMoveTheWindow(t *testing.T) {
	_, c := newServer(t)
	ctx := context.Background()

	created, err := c.UpsertSetting(ctx, model.Setting{Key: model.SettingFormationEnd, Value: "2026-02-17"})
	require.NoError(t, err)
	assert.True(t, created)

	settings, err := c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-17", settings[model.SettingFormationEnd])

	g, err := c.GlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, g.TotalDays)

	_, err = c.UpsertSetting(ctx, model.Setting{Key: model.SettingFormationStart, Value: "someday"})
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))
}

func TestImportAndExport(t *testing.T) {
	_, c := newServer(t)
	ctx := context.Background()

	f := excelize.NewFile()
	rows := [][]any{{"Nom", "Prénom", "Classe"}, {"Lovelace", "Ada", "Matin"}, {"Hopper", "Grace", "Après-midi"}, {"", "Nobody"}}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow(f.GetSheetName(0), cell, &row))
	}
	var upload bytes.Buffer
	_, err := f.WriteTo(&upload)
	require.NoError(t, err)
	f.Close()

	sum, err := c.ImportStudents(ctx, "eleves.xlsx", &upload)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Added)
	assert.Equal(t, 1, sum.Skipped)

	var out bytes.Buffer
	require.NoError(t, c.Export(ctx, &out, "students", model.Afternoon))
	book, err := excelize.OpenReader(&out)
	require.NoError(t, err)
	got, err := book.GetRows(sheet.StatsSheet)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Hopper", got[1][0])
	book.Close()

	out.Reset()
	require.NoError(t, c.Export(ctx, &out, "summary", ""))
	book, err = excelize.OpenReader(&out)
	require.NoError(t, err)
	assert.Equal(t, sheet.SummarySheet, book.GetSheetName(0))
	book.Close()
}

func TestOutboxReplaysThroughAPI(t *testing.T) {
	_, c := newServer(t)
	ctx := context.Background()

	mon := outbox.NewStaticMonitor(false)
	q, err := outbox.New(ctx, outbox.Config{
		Store:    outbox.NewMemoryStore(),
		Replayer: client.Replayer{Client: c},
		Monitor:  mon,
	})
	require.NoError(t, err)

	local := outbox.NewLocalID()
	_, err = q.Enqueue(ctx, outbox.AddStudent, outbox.AddStudentPayload{
		LocalID:    local,
		NewStudent: model.NewStudent{FirstName: "Ada", LastName: "Lovelace", ClassID: model.Morning},
	})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, outbox.Attendance, outbox.AttendancePayload{
		Date:    "2026-02-16",
		ClassID: model.Morning,
		Present: []model.PresentStudent{{StudentID: local, ArrivalTime: "08:31"}},
	})
	require.NoError(t, err)

	mon.Set(true)
	res, err := q.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Replayed)
	assert.Zero(t, res.Remaining)

	records, err := c.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Present)
	assert.Equal(t, "08:31", records[0].ArrivalTime)
	assert.False(t, outbox.IsLocalID(records[0].StudentID))
}

func TestOutboxPicksUpLoginAfterStart(t *testing.T) {
	srv, c := newServer(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "token")
	worker := client.New(srv.URL, "")
	worker.TokenSource = client.SessionToken("", path)
	q, err := outbox.New(ctx, outbox.Config{
		Store:       outbox.NewMemoryStore(),
		Replayer:    client.Replayer{Client: worker},
		Monitor:     outbox.NewStaticMonitor(true),
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, outbox.AddStudent, outbox.AddStudentPayload{
		LocalID:    outbox.NewLocalID(),
		NewStudent: model.NewStudent{FirstName: "Ada", LastName: "Lovelace", ClassID: model.Morning},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := q.Flush(ctx)
		require.NoError(t, err)
		assert.True(t, res.Held)
	}
	assert.Equal(t, 1, q.Len())
	assert.Empty(t, q.DeadLetters(ctx))

	s, err := c.Login(ctx, "open sesame")
	require.NoError(t, err)
	require.NoError(t, client.SaveSession(path, s))

	res, err := q.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)
	assert.Zero(t, q.Len())

	students, err := c.ListStudents(ctx)
	require.NoError(t, err)
	assert.Len(t, students, 1)
}
