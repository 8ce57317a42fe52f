// Package seed writes demo attendance data into the SQLite store.
package seed

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	entrypoint "github.com/louisbranch/rollcall/internal/platform/cmd"
	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/platform/timeouts"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage"
	attendancesqlite "github.com/louisbranch/rollcall/internal/services/attendance/storage/sqlite"
)

// Arrival and departure clock times used for generated records.
const (
	onTimeArrival = 7*time.Hour + 40*time.Minute
	lateArrival   = 8*time.Hour + 25*time.Minute
	departure     = 16*time.Hour + 30*time.Minute
)

// rosterNamespace scopes demo student ids so reseeding updates in place.
var rosterNamespace = uuid.MustParse("6f1c1d2e-3b7a-4f0e-9a55-2c8d7e4b1a90")

var demoNames = []string{
	"Andres Bautista",
	"Bea Castillo",
	"Carlo Dizon",
	"Dana Esguerra",
	"Elias Flores",
	"Fatima Garcia",
	"Gabriel Hernandez",
	"Hannah Ignacio",
}

// rosterStore is what seeding a roster needs.
type rosterStore interface {
	storage.RosterWriter
	storage.RecordWriter
}

// recordStore is what a single check-in or check-out needs.
type recordStore interface {
	storage.RecordWriter
	GetRecord(ctx context.Context, studentID string, date domain.Date) (domain.RecordSnapshot, error)
}

// Config holds seed command configuration.
type Config struct {
	DBPath   string `env:"ROLLCALL_SEED_DB_PATH" envDefault:"data/attendance.db"`
	Date     string `env:"ROLLCALL_SEED_DATE"`
	Section  string `env:"ROLLCALL_SEED_SECTION" envDefault:"Gregorio Y. Zara"`
	CheckIn  string
	Status   string
	CheckOut string
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.Date, "date", cfg.Date, "attendance date as YYYY-MM-DD (default: today in UTC)")
	fs.StringVar(&cfg.Section, "section", cfg.Section, "section for the demo roster")
	fs.StringVar(&cfg.CheckIn, "checkin", "", "record a check-in for this student id instead of seeding")
	fs.StringVar(&cfg.Status, "status", "on_time", "check-in status (on_time, late, absent)")
	fs.StringVar(&cfg.CheckOut, "checkout", "", "record a check-out for this student id instead of seeding")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.CheckIn != "" && cfg.CheckOut != "" {
		return Config{}, errors.New("-checkin and -checkout are mutually exclusive")
	}
	return cfg, nil
}

// Run executes the seed command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	date, err := resolveDate(cfg.Date, time.Now())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := attendancesqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, timeouts.Seed)
	defer cancel()

	switch {
	case strings.TrimSpace(cfg.CheckIn) != "":
		return checkIn(ctx, store, strings.TrimSpace(cfg.CheckIn), date, cfg.Status, out)
	case strings.TrimSpace(cfg.CheckOut) != "":
		return checkOut(ctx, store, strings.TrimSpace(cfg.CheckOut), date, out)
	default:
		return seedRoster(ctx, store, cfg.Section, date, out)
	}
}

func resolveDate(raw string, now time.Time) (domain.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.Today(now, time.UTC), nil
	}
	return domain.ParseDate(raw)
}

// DemoStudentID returns the stable id of a demo student.
func DemoStudentID(section, name string) string {
	return uuid.NewSHA1(rosterNamespace, []byte(section+"/"+name)).String()
}

// seedRoster writes the demo roster and a mix of records for date. Every
// fourth student has no record so the absent bucket is populated.
func seedRoster(ctx context.Context, store rosterStore, section string, date domain.Date, out io.Writer) error {
	section = strings.TrimSpace(section)
	if section == "" {
		return apperrors.New(apperrors.CodeConfigurationEmptySection, "section is required")
	}
	records := 0
	for i, name := range demoNames {
		student := domain.Student{ID: DemoStudentID(section, name), Name: name, Section: section}
		if err := store.PutStudent(ctx, student); err != nil {
			return fmt.Errorf("seed student %s: %w", name, err)
		}
		record, ok := demoRecord(i, date)
		if !ok {
			continue
		}
		if err := store.PutRecord(ctx, student.ID, date, record); err != nil {
			return fmt.Errorf("seed record for %s: %w", name, err)
		}
		records++
	}
	fmt.Fprintf(out, "Seeded %d students and %d records for %s on %s\n", len(demoNames), records, section, date)
	return nil
}

func demoRecord(index int, date domain.Date) (domain.DailyRecord, bool) {
	arrive := func(offset time.Duration) *time.Time {
		t := date.Time().Add(offset)
		return &t
	}
	switch index % 4 {
	case 0:
		return domain.DailyRecord{Status: domain.StatusOnTime, TimeIn: arrive(onTimeArrival)}, true
	case 1:
		return domain.DailyRecord{Status: domain.StatusLate, TimeIn: arrive(lateArrival)}, true
	case 2:
		return domain.DailyRecord{Status: domain.StatusOnTime, TimeIn: arrive(onTimeArrival), TimeOut: arrive(departure)}, true
	default:
		return domain.DailyRecord{}, false
	}
}

func checkIn(ctx context.Context, store recordStore, studentID string, date domain.Date, rawStatus string, out io.Writer) error {
	status, err := domain.ParseStatus(rawStatus)
	if err != nil {
		return err
	}
	snapshot, err := store.GetRecord(ctx, studentID, date)
	if err != nil {
		return err
	}
	record := snapshot.Record
	record.Status = status
	switch status {
	case domain.StatusOnTime:
		t := date.Time().Add(onTimeArrival)
		record.TimeIn = &t
	case domain.StatusLate:
		t := date.Time().Add(lateArrival)
		record.TimeIn = &t
	default:
		record.TimeIn = nil
	}
	if err := store.PutRecord(ctx, studentID, date, record); err != nil {
		return err
	}
	fmt.Fprintf(out, "Checked in %s on %s as %s\n", studentID, date, status)
	return nil
}

func checkOut(ctx context.Context, store recordStore, studentID string, date domain.Date, out io.Writer) error {
	snapshot, err := store.GetRecord(ctx, studentID, date)
	if err != nil {
		return err
	}
	if !snapshot.Exists {
		return apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("no record for %s on %s", studentID, date),
			map[string]string{"StudentID": studentID, "Date": date.String()},
		)
	}
	record := snapshot.Record
	t := date.Time().Add(departure)
	record.TimeOut = &t
	if err := store.PutRecord(ctx, studentID, date, record); err != nil {
		return err
	}
	fmt.Fprintf(out, "Checked out %s on %s\n", studentID, date)
	return nil
}
