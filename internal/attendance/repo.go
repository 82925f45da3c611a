package attendance

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"presence/internal/calendar"
	"presence/internal/model"
)

// Repository is the CRUD surface of the backing store.
type Repository interface {
	ListStudents(ctx context.Context) ([]model.Student, error)
	GetStudent(ctx context.Context, id string) (model.Student, error)
	CreateStudent(ctx context.Context, ns model.NewStudent) (model.Student, error)
	UpdateStudent(ctx context.Context, id string, upd model.StudentUpdate) (model.Student, error)
	// DeleteStudent removes the student and every attendance record they own.
	DeleteStudent(ctx context.Context, id string) error
	ListRecords(ctx context.Context) ([]model.AttendanceRecord, error)
	// ReplaceAttendanceForDay deletes every record of (date, class) then writes
	// one record per student enrolled in the class, present or absent.
	ReplaceAttendanceForDay(ctx context.Context, date string, classID model.ClassID, present []model.PresentStudent) ([]model.AttendanceRecord, error)
	Settings(ctx context.Context) ([]model.Setting, error)
	// UpsertSetting reports whether the key was newly created.
	UpsertSetting(ctx context.Context, s model.Setting) (bool, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id          TEXT PRIMARY KEY,
	first_name  TEXT NOT NULL,
	last_name   TEXT NOT NULL,
	class_id    TEXT NOT NULL CHECK (class_id IN ('morning', 'afternoon')),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance (
	id            TEXT PRIMARY KEY,
	student_id    TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	date          DATE NOT NULL,
	class_id      TEXT NOT NULL,
	present       BOOLEAN NOT NULL,
	arrival_time  TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_day ON attendance(student_id, date, class_id);
CREATE INDEX IF NOT EXISTS idx_attendance_class_date ON attendance(class_id, date);

CREATE TABLE IF NOT EXISTS settings (
	key          TEXT PRIMARY KEY,
	value        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresRepository persists students, attendance and settings in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the tables when missing.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "migrate")
}

const studentColumns = `id, first_name, last_name, class_id, created_at`

func scanStudent(row interface{ Scan(...any) error }) (model.Student, error) {
	var s model.Student
	err := row.Scan(&s.ID, &s.FirstName, &s.LastName, &s.ClassID, &s.CreatedAt)
	return s, err
}

// ListStudents returns all students ordered by name.
func (r *PostgresRepository) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY last_name, first_name`)
	if err != nil {
		return nil, errors.Wrap(err, "list students")
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan student")
		}
		students = append(students, s)
	}
	return students, errors.Wrap(rows.Err(), "list students")
}

// GetStudent returns a single student by id.
func (r *PostgresRepository) GetStudent(ctx context.Context, id string) (model.Student, error) {
	s, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, ErrNotFound
	}
	return s, errors.Wrap(err, "get student")
}

// CreateStudent inserts a student with a fresh id.
func (r *PostgresRepository) CreateStudent(ctx context.Context, ns model.NewStudent) (model.Student, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, first_name, last_name, class_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+studentColumns,
		uuid.NewString(), ns.FirstName, ns.LastName, ns.ClassID, time.Now().UTC())
	s, err := scanStudent(row)
	return s, errors.Wrap(err, "create student")
}

// UpdateStudent applies the non-nil fields of upd.
func (r *PostgresRepository) UpdateStudent(ctx context.Context, id string, upd model.StudentUpdate) (model.Student, error) {
	if upd.Empty() {
		return r.GetStudent(ctx, id)
	}
	args := []any{}
	clauses := []string{}
	if upd.FirstName != nil {
		args = append(args, *upd.FirstName)
		clauses = append(clauses, "first_name = $"+strconv.Itoa(len(args)))
	}
	if upd.LastName != nil {
		args = append(args, *upd.LastName)
		clauses = append(clauses, "last_name = $"+strconv.Itoa(len(args)))
	}
	if upd.ClassID != nil {
		args = append(args, *upd.ClassID)
		clauses = append(clauses, "class_id = $"+strconv.Itoa(len(args)))
	}
	args = append(args, id)
	query := `UPDATE students SET ` + strings.Join(clauses, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + studentColumns

	s, err := scanStudent(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, ErrNotFound
	}
	return s, errors.Wrap(err, "update student")
}

// DeleteStudent removes a student; attendance rows go with it via ON DELETE CASCADE.
func (r *PostgresRepository) DeleteStudent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete student")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecords returns every attendance record.
func (r *PostgresRepository) ListRecords(ctx context.Context) ([]model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, to_char(date, 'YYYY-MM-DD'), class_id, present, COALESCE(arrival_time, '')
		FROM attendance
		ORDER BY date, class_id, student_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		var rec model.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.Date, &rec.ClassID, &rec.Present, &rec.ArrivalTime); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "list records")
}

// ReplaceAttendanceForDay runs the delete-then-recreate save in one transaction.
func (r *PostgresRepository) ReplaceAttendanceForDay(ctx context.Context, date string, classID model.ClassID, present []model.PresentStudent) ([]model.AttendanceRecord, error) {
	day, err := calendar.ParseDate(date)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin save")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM students WHERE class_id = $1 ORDER BY last_name, first_name`, classID)
	if err != nil {
		return nil, errors.Wrap(err, "load class")
	}
	var enrolled []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan class")
		}
		enrolled = append(enrolled, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "load class")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE date = $1 AND class_id = $2`, day, classID); err != nil {
		return nil, errors.Wrap(err, "clear day")
	}

	records := buildDay(enrolled, date, classID, present)
	for _, rec := range records {
		var arrival any
		if rec.ArrivalTime != "" {
			arrival = rec.ArrivalTime
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance (id, student_id, date, class_id, present, arrival_time)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rec.ID, rec.StudentID, day, rec.ClassID, rec.Present, arrival); err != nil {
			return nil, errors.Wrapf(err, "insert record for %s", rec.StudentID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit save")
	}
	return records, nil
}

// Settings returns every setting with a key and a value.
func (r *PostgresRepository) Settings(ctx context.Context) ([]model.Setting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, value, description FROM settings
		WHERE key <> '' AND value <> ''
		ORDER BY key
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list settings")
	}
	defer rows.Close()

	var out []model.Setting
	for rows.Next() {
		var s model.Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.Description); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "list settings")
}

// UpsertSetting updates the key when it exists, else inserts it.
func (r *PostgresRepository) UpsertSetting(ctx context.Context, s model.Setting) (bool, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO settings (key, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			description = EXCLUDED.description,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, s.Key, s.Value, s.Description).Scan(&inserted)
	return inserted, errors.Wrap(err, "upsert setting")
}

// buildDay creates the records of a day save: every enrolled student gets
// one, and only present students carry an arrival time.
func buildDay(enrolled []string, date string, classID model.ClassID, present []model.PresentStudent) []model.AttendanceRecord {
	arrivals := make(map[string]string, len(present))
	for _, p := range present {
		arrivals[p.StudentID] = p.ArrivalTime
	}
	records := make([]model.AttendanceRecord, 0, len(enrolled))
	for _, id := range enrolled {
		arrival, ok := arrivals[id]
		records = append(records, model.AttendanceRecord{
			ID:          uuid.NewString(),
			StudentID:   id,
			Date:        date,
			ClassID:     classID,
			Present:     ok,
			ArrivalTime: arrival,
		})
	}
	return records
}
