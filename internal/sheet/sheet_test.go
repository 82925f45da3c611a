package sheet

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"presence/internal/model"
	"presence/internal/stats"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return &buf
}

func TestParseStudents(t *testing.T) {
	buf := workbook(t, [][]any{
		{"PRÉNOM", "Nom de famille", "Classe"},
		{"Ada", "Lovelace", "Matin"},
		{" Grace ", "Hopper", "Après-midi"},
		{"Alan", "Turing", "afternoon"},
		{"Solo", "", "Matin"},
		{"Edsger", "Dijkstra"},
	})

	res, err := ParseStudents(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []model.NewStudent{
		{FirstName: "Ada", LastName: "Lovelace", ClassID: model.Morning},
		{FirstName: "Grace", LastName: "Hopper", ClassID: model.Afternoon},
		{FirstName: "Alan", LastName: "Turing", ClassID: model.Afternoon},
		{FirstName: "Edsger", LastName: "Dijkstra", ClassID: model.Morning},
	}, res.Students)
}

func TestParseRowsHeaders(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]string
		wantErr error
		first   string
	}{
		{name: "empty", rows: nil, wantErr: ErrEmpty},
		{name: "no first name", rows: [][]string{{"Nom", "Classe"}}, wantErr: ErrMissingColumns},
		{name: "nom before prenom", rows: [][]string{{"Nom", "Prenom"}, {"Hopper", "Grace"}}, first: "Grace"},
		{name: "accented prenom first", rows: [][]string{{"Prénom", "NOM"}, {"Grace", "Hopper"}}, first: "Grace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseRows(tt.rows)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			require.Len(t, res.Students, 1)
			assert.Equal(t, tt.first, res.Students[0].FirstName)
			assert.Equal(t, "Hopper", res.Students[0].LastName)
		})
	}
}

type creator struct {
	fail map[string]bool
	made []model.NewStudent
}

func (c *creator) CreateStudent(_ context.Context, ns model.NewStudent) (model.Student, error) {
	if c.fail[ns.LastName] {
		return model.Student{}, errors.New("rejected")
	}
	c.made = append(c.made, ns)
	return model.Student{ID: ns.LastName}, nil
}

func TestImportCountsFailures(t *testing.T) {
	c := &creator{fail: map[string]bool{"Turing": true}}
	res := ImportResult{
		Students: []model.NewStudent{
			{FirstName: "Ada", LastName: "Lovelace", ClassID: model.Morning},
			{FirstName: "Alan", LastName: "Turing", ClassID: model.Morning},
			{FirstName: "Grace", LastName: "Hopper", ClassID: model.Afternoon},
		},
		Skipped: 2,
	}

	sum := Import(context.Background(), c, res)
	assert.Equal(t, model.ImportSummary{Added: 2, Skipped: 2, Failed: 1}, sum)
	assert.Len(t, c.made, 2)
}

func TestWriteStudentStats(t *testing.T) {
	var buf bytes.Buffer
	err := WriteStudentStats(&buf, []stats.StudentStats{{
		Student:         model.Student{ID: "a", FirstName: "Grace", LastName: "Hopper", ClassID: model.Afternoon},
		DaysPresent:     4,
		DaysAbsent:      6,
		TotalDays:       10,
		PresenceRate:    40,
		AbsenteeismRate: 60,
	}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, StatsSheet, f.GetSheetName(0))
	rows, err := f.GetRows(StatsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Taux absentéisme (%)", rows[0][7])
	assert.Equal(t, []string{"Hopper", "Grace", "Après-midi", "4", "6", "10", "40", "60"}, rows[1])
}

func TestWriteGlobalSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGlobalSummary(&buf, stats.Summary{
		MorningPresenceRate:    50,
		MorningAbsenteeismRate: 50,
		GlobalPresenceRate:     46.7,
		GlobalAbsenteeismRate:  53.3,
		MorningStudents:        2,
		AfternoonStudents:      1,
		TotalStudents:          3,
		ElapsedDays:            10,
		TotalDays:              140,
	}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, "Résumé Global - Suivi de Présence", rows[0][0])
	assert.Equal(t, []string{"Jours écoulés", "10"}, rows[2])
	assert.Equal(t, []string{"Global", "3", "46.7", "53.3"}, rows[9])
}
