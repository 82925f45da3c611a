package sheet

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"presence/internal/model"
	"presence/internal/stats"
)

const (
	StatsSheet   = "Statistiques"
	SummarySheet = "Résumé"
)

var statsHeaders = []any{
	"Nom", "Prénom", "Classe", "Jours présents", "Jours absents",
	"Jours total", "Taux présence (%)", "Taux absentéisme (%)",
}

// WriteStudentStats writes one row per student to a single-sheet workbook.
func WriteStudentStats(w io.Writer, all []stats.StudentStats) error {
	rows := make([][]any, 0, len(all)+1)
	rows = append(rows, statsHeaders)
	for _, s := range all {
		rows = append(rows, []any{
			s.Student.LastName,
			s.Student.FirstName,
			s.Student.ClassID.Label(),
			s.DaysPresent,
			s.DaysAbsent,
			s.TotalDays,
			s.PresenceRate,
			s.AbsenteeismRate,
		})
	}
	return writeSheet(w, StatsSheet, rows)
}

// WriteGlobalSummary writes the headline figures of both sessions.
func WriteGlobalSummary(w io.Writer, s stats.Summary) error {
	rows := [][]any{
		{"Résumé Global - Suivi de Présence"},
		{},
		{"Jours écoulés", s.ElapsedDays},
		{"Jours total formation", s.TotalDays},
		{"Total apprenants", s.TotalStudents},
		{},
		{"Classe", "Effectif", "Taux présence (%)", "Taux absentéisme (%)"},
		{model.Morning.Label(), s.MorningStudents, s.MorningPresenceRate, s.MorningAbsenteeismRate},
		{model.Afternoon.Label(), s.AfternoonStudents, s.AfternoonPresenceRate, s.AfternoonAbsenteeismRate},
		{"Global", s.TotalStudents, s.GlobalPresenceRate, s.GlobalAbsenteeismRate},
	}
	return writeSheet(w, SummarySheet, rows)
}

func writeSheet(w io.Writer, name string, rows [][]any) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
