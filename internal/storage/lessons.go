// Package storage keeps the lesson enrollment records consulted when a
// student asks to enter a teacher's conference room.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Lesson mirrors the records the tutoring site keeps in lessons.json.
type Lesson struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Teacher     string   `json:"teacher"`
	Schedule    string   `json:"schedule"`
	Duration    int      `json:"duration"`
	ProgramType string   `json:"program_type"`
	Students    []string `json:"students"`
}

// LessonStore wraps a SQLite database of lessons and enrolled students.
type LessonStore struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*LessonStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS lessons (
			id           INTEGER PRIMARY KEY,
			title        TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			teacher      TEXT NOT NULL,
			schedule     TEXT NOT NULL DEFAULT '',
			duration     INTEGER NOT NULL DEFAULT 60,
			program_type TEXT NOT NULL DEFAULT '',
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS lessons_teacher ON lessons(teacher);
		CREATE TABLE IF NOT EXISTS lesson_students (
			lesson_id INTEGER NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
			student   TEXT NOT NULL,
			PRIMARY KEY (lesson_id, student)
		);
		CREATE INDEX IF NOT EXISTS lesson_students_student ON lesson_students(student);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &LessonStore{db: db, path: path}, nil
}

func (s *LessonStore) Close() error {
	return s.db.Close()
}

// SaveLesson inserts or replaces a lesson together with its student list.
// A zero ID lets SQLite assign one.
func (s *LessonStore) SaveLesson(ctx context.Context, l Lesson) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id any
	if l.ID != 0 {
		id = l.ID
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO lessons (id, title, description, teacher, schedule, duration, program_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			teacher = excluded.teacher,
			schedule = excluded.schedule,
			duration = excluded.duration,
			program_type = excluded.program_type,
			updated_at = excluded.updated_at`,
		id, l.Title, l.Description, l.Teacher, l.Schedule, l.Duration, l.ProgramType, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("save lesson: %w", err)
	}
	lessonID := l.ID
	if lessonID == 0 {
		if lessonID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("lesson id: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lesson_students WHERE lesson_id = ?`, lessonID); err != nil {
		return 0, fmt.Errorf("clear students: %w", err)
	}
	for _, st := range l.Students {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO lesson_students (lesson_id, student) VALUES (?, ?)`, lessonID, st); err != nil {
			return 0, fmt.Errorf("enroll %s: %w", st, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return lessonID, nil
}

// IsEnrolled reports whether student attends at least one of teacher's
// lessons.
func (s *LessonStore) IsEnrolled(ctx context.Context, teacher, student string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM lessons l
		JOIN lesson_students ls ON ls.lesson_id = l.id
		WHERE l.teacher = ? AND ls.student = ?
		LIMIT 1`, teacher, student).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query enrollment: %w", err)
	}
	return true, nil
}

// LessonsByTeacher lists a teacher's lessons ordered by schedule.
func (s *LessonStore) LessonsByTeacher(ctx context.Context, teacher string) ([]Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, teacher, schedule, duration, program_type
		FROM lessons WHERE teacher = ? ORDER BY schedule, id`, teacher)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	var out []Lesson
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.ID, &l.Title, &l.Description, &l.Teacher, &l.Schedule, &l.Duration, &l.ProgramType); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		st, err := s.students(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Students = st
	}
	return out, nil
}

func (s *LessonStore) students(ctx context.Context, lessonID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student FROM lesson_students WHERE lesson_id = ? ORDER BY student`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ImportJSON loads a lessons.json file written by the tutoring site. A
// missing file imports nothing.
func (s *LessonStore) ImportJSON(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	var lessons []Lesson
	if err := json.Unmarshal(data, &lessons); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	n := 0
	for _, l := range lessons {
		if l.Teacher == "" {
			continue
		}
		if _, err := s.SaveLesson(ctx, l); err != nil {
			return n, err
		}
		n++
	}
	log.Info().Str("module", "storage").Str("file", path).Int("lessons", n).Msg("imported lessons")
	return n, nil
}
