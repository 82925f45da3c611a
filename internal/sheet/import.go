// Package sheet reads student lists from spreadsheets and writes the
// statistics exports.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	"presence/internal/model"
)

var (
	ErrEmpty          = errors.New("sheet: file is empty")
	ErrMissingColumns = errors.New("sheet: columns Nom and Prénom not found")
)

// ImportResult holds the students read from a file.
type ImportResult struct {
	Students []model.NewStudent
	// Skipped counts data rows without both names.
	Skipped int
}

// ParseStudents reads the first worksheet. The first row holds the
// headers, matched ignoring case and accents: a "prénom" column gives the
// first name, another "nom" column the last name and an optional "classe"
// column the session.
func ParseStudents(r io.Reader) (ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	name := f.GetSheetName(0)
	if name == "" {
		return ImportResult{}, ErrEmpty
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read %s: %w", name, err)
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) (ImportResult, error) {
	if len(rows) == 0 {
		return ImportResult{}, ErrEmpty
	}
	first, last, class := -1, -1, -1
	for i, h := range rows[0] {
		key := fold(h)
		switch {
		case strings.Contains(key, "prenom"):
			if first < 0 {
				first = i
			}
		case strings.Contains(key, "nom"):
			if last < 0 {
				last = i
			}
		}
		if class < 0 && strings.Contains(key, "classe") {
			class = i
		}
	}
	if first < 0 || last < 0 {
		return ImportResult{}, ErrMissingColumns
	}

	var res ImportResult
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		ns := model.NewStudent{
			FirstName: cellValue(row, first),
			LastName:  cellValue(row, last),
			ClassID:   parseClass(cellValue(row, class)),
		}
		if ns.FirstName == "" || ns.LastName == "" {
			res.Skipped++
			continue
		}
		res.Students = append(res.Students, ns)
	}
	return res, nil
}

func parseClass(v string) model.ClassID {
	v = fold(v)
	if strings.Contains(v, "apres") || strings.Contains(v, "afternoon") {
		return model.Afternoon
	}
	return model.Morning
}

// fold lowercases s and strips diacritics (é -> e).
func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// StudentCreator creates one student.
type StudentCreator interface {
	CreateStudent(ctx context.Context, ns model.NewStudent) (model.Student, error)
}

// Import creates the students one by one. A failed row is logged and
// counted; the others still go through.
func Import(ctx context.Context, creator StudentCreator, res ImportResult) model.ImportSummary {
	sum := model.ImportSummary{Skipped: res.Skipped}
	for _, ns := range res.Students {
		if ctx.Err() != nil {
			sum.Failed += len(res.Students) - sum.Added - sum.Failed
			break
		}
		if _, err := creator.CreateStudent(ctx, ns); err != nil {
			log.Printf("import: %s %s: %v", ns.FirstName, ns.LastName, err)
			sum.Failed++
			continue
		}
		sum.Added++
	}
	return sum
}
