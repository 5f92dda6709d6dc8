package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/enroll"
	"github.com/your-org/rollcall/internal/models"
)

// PostgresStore backs the student directory, enrollment descriptors (pgvector)
// and the attendance ledger. It satisfies enroll.Store, roster.Directory and
// roster.AttendanceLedger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Students ---

func (s *PostgresStore) CreateStudent(ctx context.Context, name, rollNumber string, departmentID, sectionID uuid.UUID) (*models.RosterStudent, error) {
	st := &models.RosterStudent{
		StudentID:    uuid.New(),
		Name:         name,
		RollNumber:   rollNumber,
		DepartmentID: departmentID,
		SectionID:    sectionID,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO students (id, name, roll_number, department_id, section_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		st.StudentID, st.Name, st.RollNumber, st.DepartmentID, st.SectionID, st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create student: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) GetStudent(ctx context.Context, id uuid.UUID) (*models.RosterStudent, error) {
	st := &models.RosterStudent{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, roll_number, department_id, section_id, created_at FROM students WHERE id = $1`, id,
	).Scan(&st.StudentID, &st.Name, &st.RollNumber, &st.DepartmentID, &st.SectionID, &st.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStudents(ctx context.Context) ([]models.RosterStudent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, roll_number, department_id, section_id, created_at FROM students ORDER BY roll_number`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []models.RosterStudent
	for rows.Next() {
		var st models.RosterStudent
		if err := rows.Scan(&st.StudentID, &st.Name, &st.RollNumber, &st.DepartmentID, &st.SectionID, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, st)
	}
	return students, nil
}

// --- Rosters ---

func (s *PostgresStore) AddRosterMembers(ctx context.Context, scheduleID uuid.UUID, studentIDs []uuid.UUID) error {
	batch := &pgx.Batch{}
	for _, id := range studentIDs {
		batch.Queue(
			`INSERT INTO schedule_rosters (schedule_id, student_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			scheduleID, id)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("add roster members: %w", err)
	}
	return nil
}

// EligibleStudents returns the roster for a schedule slot. The date parameter
// exists for directories that version rosters by term; this one keeps a single
// current roster per schedule.
func (s *PostgresStore) EligibleStudents(ctx context.Context, scheduleID uuid.UUID, _ time.Time) ([]models.RosterStudent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT st.id, st.name, st.roll_number, st.department_id, st.section_id, st.created_at
		 FROM schedule_rosters r
		 JOIN students st ON st.id = r.student_id
		 WHERE r.schedule_id = $1
		 ORDER BY st.roll_number`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("roster for schedule: %w", err)
	}
	defer rows.Close()

	var students []models.RosterStudent
	for rows.Next() {
		var st models.RosterStudent
		if err := rows.Scan(&st.StudentID, &st.Name, &st.RollNumber, &st.DepartmentID, &st.SectionID, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan roster student: %w", err)
		}
		students = append(students, st)
	}
	return students, nil
}

// --- Face descriptors ---

func (s *PostgresStore) AppendDescriptor(ctx context.Context, studentID uuid.UUID, d models.EnrolledDescriptor) (int, error) {
	vec := pgvector.NewVector(d.Vector)
	capturedAt := d.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO face_descriptors (id, student_id, embedding, source_key, captured_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), studentID, vec, d.SourceKey, capturedAt)
	if err != nil {
		return 0, fmt.Errorf("append descriptor: %w", err)
	}

	var count int
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM face_descriptors WHERE student_id = $1`, studentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count descriptors: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Enrollment(ctx context.Context, studentID uuid.UUID) (models.EnrollmentRecord, error) {
	rec := models.EnrollmentRecord{StudentID: studentID}

	rows, err := s.pool.Query(ctx,
		`SELECT embedding, captured_at, source_key FROM face_descriptors WHERE student_id = $1 ORDER BY captured_at`,
		studentID)
	if err != nil {
		return rec, fmt.Errorf("load enrollment: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vec pgvector.Vector
		var d models.EnrolledDescriptor
		if err := rows.Scan(&vec, &d.CapturedAt, &d.SourceKey); err != nil {
			return rec, fmt.Errorf("scan descriptor: %w", err)
		}
		d.Vector = models.FaceDescriptor(vec.Slice())
		rec.Descriptors = append(rec.Descriptors, d)
	}
	return rec, nil
}

// DescriptorLog lists a student's captures without the vectors, for the
// onboarding progress view.
func (s *PostgresStore) DescriptorLog(ctx context.Context, studentID uuid.UUID) ([]models.EnrolledDescriptor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT captured_at, source_key FROM face_descriptors WHERE student_id = $1 ORDER BY captured_at`,
		studentID)
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	defer rows.Close()

	var log []models.EnrolledDescriptor
	for rows.Next() {
		var d models.EnrolledDescriptor
		if err := rows.Scan(&d.CapturedAt, &d.SourceKey); err != nil {
			return nil, fmt.Errorf("scan descriptor log: %w", err)
		}
		log = append(log, d)
	}
	return log, nil
}

// Nearest finds the single closest enrolled descriptor to the probe by L2
// distance, using the pgvector index.
func (s *PostgresStore) Nearest(ctx context.Context, probe models.FaceDescriptor) (enroll.Match, bool, error) {
	vec := pgvector.NewVector(probe)

	var m enroll.Match
	err := s.pool.QueryRow(ctx,
		`SELECT student_id, embedding <-> $1 AS distance
		 FROM face_descriptors
		 ORDER BY embedding <-> $1
		 LIMIT 1`, vec,
	).Scan(&m.StudentID, &m.Distance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return enroll.Match{}, false, nil
		}
		return enroll.Match{}, false, fmt.Errorf("nearest descriptor: %w", err)
	}
	return m, true, nil
}

// --- Attendance ledger ---

// RecordAttendance writes one finalized session. The batch row's primary key
// makes the write idempotent: a session that was already recorded keeps its
// first record and the call reports success.
func (s *PostgresStore) RecordAttendance(ctx context.Context, sessionID, scheduleID uuid.UUID, date time.Time, entries []models.AttendanceEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin attendance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO attendance_batches (session_id, schedule_id, class_date) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, scheduleID, date)
	if err != nil {
		return fmt.Errorf("insert attendance batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO attendance_entries (session_id, student_id, status, scan_distance, photo_distance)
			 VALUES ($1, $2, $3, $4, $5)`,
			sessionID, e.StudentID, e.Status, e.ScanDistance, e.PhotoDistance)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert attendance entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attendance: %w", err)
	}
	return nil
}

// SessionAttendance reads a finalized session's record back from the ledger.
func (s *PostgresStore) SessionAttendance(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceEntry, bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM attendance_batches WHERE session_id = $1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return nil, false, fmt.Errorf("check attendance batch: %w", err)
	}
	if !exists {
		return nil, false, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT student_id, status, scan_distance, photo_distance
		 FROM attendance_entries WHERE session_id = $1 ORDER BY student_id`, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("load attendance entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AttendanceEntry
	for rows.Next() {
		var e models.AttendanceEntry
		if err := rows.Scan(&e.StudentID, &e.Status, &e.ScanDistance, &e.PhotoDistance); err != nil {
			return nil, false, fmt.Errorf("scan attendance entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, true, nil
}
