package calibration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"levelsense/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps every captured baseline; Load returns the newest one.
type SQLiteStore struct {
	db *sql.DB
}

// Record is one stored baseline.
type Record struct {
	ID        string
	Baseline  Baseline
	CreatedAt time.Time
}

// OpenSQLite opens (or creates) the database at path and migrates it to the
// latest schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single connection shared by the migrator and the store.
	db.SetMaxOpenConns(1)
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("calibration: migrations source: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("calibration: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("calibration: migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m.Close would close db as well, so it is left to the GC.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("calibration: migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("calibration: migrate: "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, b Baseline) error {
	_, err := s.Insert(ctx, b)
	return err
}

// Insert stores b under a fresh ID and returns the ID.
func (s *SQLiteStore) Insert(ctx context.Context, b Baseline) (string, error) {
	id := uuid.New().String()
	var capturedNs int64
	if !b.CapturedAt.IsZero() {
		capturedNs = b.CapturedAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calibration_baselines
			(id, pitch_in, roll_in, pitch_deg, roll_deg, captured_at_ns, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, b.Pitch, b.Roll, b.PitchDegree, b.RollDegree, capturedNs, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert calibration baseline: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Baseline, bool, error) {
	recs, err := s.History(ctx, 1)
	if err != nil {
		return Baseline{}, false, err
	}
	if len(recs) == 0 {
		return Baseline{}, false, nil
	}
	return recs[0].Baseline, true, nil
}

// History returns up to limit baselines, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pitch_in, roll_in, pitch_deg, roll_deg, captured_at_ns, created_at_ns
		FROM calibration_baselines
		ORDER BY created_at_ns DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration baselines: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var capturedNs, createdNs int64
		if err := rows.Scan(&r.ID, &r.Baseline.Pitch, &r.Baseline.Roll, &r.Baseline.PitchDegree, &r.Baseline.RollDegree, &capturedNs, &createdNs); err != nil {
			return nil, err
		}
		if capturedNs != 0 {
			r.Baseline.CapturedAt = time.Unix(0, capturedNs).UTC()
		}
		r.CreatedAt = time.Unix(0, createdNs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
