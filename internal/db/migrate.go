package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migrationFile is a migration found in the source filesystem.
type migrationFile struct {
	version     int
	description string
	up          string
	down        string
}

// Migrator handles database schema migrations. Migration files are named
// V<version>__<description>.up.sql with an optional matching .down.sql.
type Migrator struct {
	db  *sql.DB
	src fs.FS
}

// NewMigrator creates a Migrator reading migrations from src.
func NewMigrator(db *sql.DB, src fs.FS) *Migrator {
	return &Migrator{db: db, src: src}
}

// NewEmbeddedMigrator creates a Migrator over the migrations compiled into
// the binary.
func NewEmbeddedMigrator(db *sql.DB) *Migrator {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return NewMigrator(db, sub)
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return classify("initialize schema_migrations", err)
	}
	return nil
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, classify("read schema version", err)
	}
	return version, nil
}

// Applied returns all applied migrations in version order.
func (m *Migrator) Applied(ctx context.Context) ([]Migration, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, classify("list migrations", err)
	}
	defer rows.Close()

	var migrations []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, classify("scan migration", err)
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		migrations = append(migrations, mig)
	}
	return migrations, rows.Err()
}

// Pending returns the versions not yet applied, in order.
func (m *Migrator) Pending(ctx context.Context) ([]int, error) {
	files, err := m.files()
	if err != nil {
		return nil, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(applied))
	for _, mig := range applied {
		done[mig.Version] = true
	}

	var pending []int
	for _, f := range files {
		if !done[f.version] {
			pending = append(pending, f.version)
		}
	}
	return pending, nil
}

// files lists the migrations in src sorted by version.
func (m *Migrator) files() ([]*migrationFile, error) {
	entries, err := fs.ReadDir(m.src, ".")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to read migrations", err)
	}

	byVersion := make(map[int]*migrationFile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var stem string
		var isUp bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			stem, isUp = strings.TrimSuffix(name, ".up.sql"), true
		case strings.HasSuffix(name, ".down.sql"):
			stem = strings.TrimSuffix(name, ".down.sql")
		default:
			continue
		}

		// V1__initial_schema
		parts := strings.SplitN(stem, "__", 2)
		if len(parts) < 2 || !strings.HasPrefix(parts[0], "V") {
			continue
		}
		version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "V"))
		if err != nil || version <= 0 {
			continue
		}

		f := byVersion[version]
		if f == nil {
			f = &migrationFile{version: version, description: parts[1]}
			byVersion[version] = f
		}
		if isUp {
			f.up = name
		} else {
			f.down = name
		}
	}

	files := make([]*migrationFile, 0, len(byVersion))
	for _, f := range byVersion {
		if f.up == "" {
			return nil, apperrors.Newf(apperrors.ErrMigration, "migration V%d has no up file", f.version)
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].version < files[j].version
	})
	return files, nil
}

// Up applies all pending migrations. An applied migration whose file changed
// since it ran is reported as an error rather than silently skipped.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	files, err := m.files()
	if err != nil {
		return err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to get applied migrations", err)
	}
	checksums := make(map[int]string, len(applied))
	for _, mig := range applied {
		checksums[mig.Version] = mig.Checksum
	}

	for _, f := range files {
		content, err := fs.ReadFile(m.src, f.up)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "failed to read migration file", err)
		}
		sum := checksum(content)

		if prev, ok := checksums[f.version]; ok {
			if prev != sum {
				return apperrors.Newf(apperrors.ErrMigration, "migration V%d was modified after it was applied", f.version)
			}
			continue
		}

		if err := m.apply(ctx, f, content, sum); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, fmt.Sprintf("failed to apply migration V%d", f.version), err)
		}
		logging.Info("migration applied", map[string]interface{}{
			"version":     f.version,
			"description": f.description,
		})
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, f *migrationFile, content []byte, sum string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, f.version, time.Now().Unix(), f.description, sum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return apperrors.New(apperrors.ErrMigration, "no migrations to rollback")
	}

	files, err := m.files()
	if err != nil {
		return err
	}
	var target *migrationFile
	for _, f := range files {
		if f.version == current {
			target = f
		}
	}
	if target == nil || target.down == "" {
		return apperrors.Newf(apperrors.ErrMigration, "no rollback migration found for version %d", current)
	}

	content, err := fs.ReadFile(m.src, target.down)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to read rollback migration", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin rollback", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to execute rollback SQL", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to remove migration record", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit rollback", err)
	}

	logging.Info("migration rolled back", map[string]interface{}{"version": current})
	return nil
}

func checksum(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
