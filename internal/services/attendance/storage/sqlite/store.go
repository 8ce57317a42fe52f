// Package sqlite provides a SQLite-backed attendance store.
//
// Subscriptions poll the database on an interval and deliver a full snapshot
// whenever the result changes. Writes made through the same Store wake every
// poller immediately.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	sqlitemigrate "github.com/louisbranch/rollcall/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// DefaultPollInterval is used when Open receives no interval.
const DefaultPollInterval = time.Second

// ErrClosed is reported to subscriptions opened after Close.
var ErrClosed = errors.New("attendance store is closed")

// Option customizes a Store.
type Option func(*Store)

// WithPollInterval sets how often subscriptions re-read the database.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// Store persists the roster and daily records in SQLite.
type Store struct {
	sqlDB        *sql.DB
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	changed chan struct{}
	closed  bool
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite attendance store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	applied, err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, "")
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if applied > 0 {
		log.Printf("attendance store: applied %d migration(s) to %s", applied, cleanPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := &Store{
		sqlDB:        sqlDB,
		pollInterval: DefaultPollInterval,
		ctx:          ctx,
		cancel:       cancel,
		changed:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Close stops every subscription and closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.sqlDB.Close()
}

// SubscribeRoster polls the students table.
func (s *Store) SubscribeRoster(onSnapshot func([]domain.Student), onError func(error)) storage.CancelFunc {
	var last []domain.Student
	delivered := false
	return s.poll("roster", func(ctx context.Context) error {
		students, err := s.ListStudents(ctx)
		if err != nil {
			return err
		}
		if delivered && slices.Equal(students, last) {
			return nil
		}
		last, delivered = students, true
		onSnapshot(domain.CloneStudents(students))
		return nil
	}, onError)
}

// SubscribeRecord polls one (studentID, date) record.
func (s *Store) SubscribeRecord(studentID string, date domain.Date, onSnapshot func(domain.RecordSnapshot), onError func(error)) storage.CancelFunc {
	var last domain.RecordSnapshot
	delivered := false
	return s.poll("record "+studentID+"/"+date.String(), func(ctx context.Context) error {
		snapshot, err := s.GetRecord(ctx, studentID, date)
		if err != nil {
			return err
		}
		if delivered && sameSnapshot(snapshot, last) {
			return nil
		}
		last, delivered = snapshot, true
		onSnapshot(snapshot)
		return nil
	}, onError)
}

// poll runs read on a goroutine until the returned cancel is called. A read
// error other than a busy database ends the subscription through onError.
// Cancel waits for the goroutine, so no callback runs after it returns.
func (s *Store) poll(name string, read func(context.Context) error, onError func(error)) storage.CancelFunc {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		onError(ErrClosed)
		return func() {}
	}
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(done)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			wake := s.changes()
			if err := read(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if !isBusy(err) {
					log.Printf("attendance store: %s subscription failed: %v", name, err)
					onError(err)
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-wake:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// changes returns a channel closed by the next write.
func (s *Store) changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.changed)
	s.changed = make(chan struct{})
}

// ListStudents returns the roster in insertion order.
func (s *Store) ListStudents(ctx context.Context) ([]domain.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, name, section FROM students ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	students := []domain.Student{}
	for rows.Next() {
		var student domain.Student
		if err := rows.Scan(&student.ID, &student.Name, &student.Section); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, student)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// GetRecord reads the record for (studentID, date).
func (s *Store) GetRecord(ctx context.Context, studentID string, date domain.Date) (domain.RecordSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.RecordSnapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.RecordSnapshot{}, fmt.Errorf("storage is not configured")
	}

	var (
		status  string
		timeIn  sql.NullInt64
		timeOut sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT status, time_in, time_out FROM attendance_records WHERE student_id = ? AND date = ?`,
		studentID, date.String(),
	).Scan(&status, &timeIn, &timeOut)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecordSnapshot{}, nil
	}
	if err != nil {
		return domain.RecordSnapshot{}, fmt.Errorf("get record: %w", err)
	}

	record := domain.DailyRecord{Status: domain.Status(status)}
	if timeIn.Valid {
		value := fromMillis(timeIn.Int64)
		record.TimeIn = &value
	}
	if timeOut.Valid {
		value := fromMillis(timeOut.Int64)
		record.TimeOut = &value
	}
	return domain.RecordSnapshot{Exists: true, Record: record}, nil
}

// PutStudent inserts or replaces a student, keeping first-insert order.
func (s *Store) PutStudent(ctx context.Context, student domain.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	student.ID = strings.TrimSpace(student.ID)
	if student.ID == "" {
		return fmt.Errorf("student id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO students (id, name, section, position)
		 VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM students))
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   section = excluded.section`,
		student.ID, student.Name, student.Section,
	)
	if err != nil {
		return fmt.Errorf("put student: %w", err)
	}
	s.notify()
	return nil
}

// DeleteStudent removes a student from the roster. Records are kept.
func (s *Store) DeleteStudent(ctx context.Context, studentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM students WHERE id = ?`, studentID); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	s.notify()
	return nil
}

// PutRecord writes the record for (studentID, date).
func (s *Store) PutRecord(ctx context.Context, studentID string, date domain.Date, record domain.DailyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return fmt.Errorf("student id is required")
	}
	if date.IsZero() {
		return fmt.Errorf("date is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO attendance_records (student_id, date, status, time_in, time_out, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, date) DO UPDATE SET
		   status = excluded.status,
		   time_in = excluded.time_in,
		   time_out = excluded.time_out,
		   updated_at = excluded.updated_at`,
		studentID,
		date.String(),
		string(record.Status),
		nullMillis(record.TimeIn),
		nullMillis(record.TimeOut),
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	s.notify()
	return nil
}

// DeleteRecord removes the record for (studentID, date).
func (s *Store) DeleteRecord(ctx context.Context, studentID string, date domain.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM attendance_records WHERE student_id = ? AND date = ?`,
		studentID, date.String(),
	); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	s.notify()
	return nil
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func sameSnapshot(a, b domain.RecordSnapshot) bool {
	if a.Exists != b.Exists || a.Record.Status != b.Record.Status {
		return false
	}
	return sameTime(a.Record.TimeIn, b.Record.TimeIn) && sameTime(a.Record.TimeOut, b.Record.TimeOut)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// isBusy reports whether err is a lock contention error worth retrying on the
// next tick.
func isBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

var (
	_ storage.Store        = (*Store)(nil)
	_ storage.RosterWriter = (*Store)(nil)
	_ storage.RecordWriter = (*Store)(nil)
)
