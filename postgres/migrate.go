package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meikuraledutech/chatrelay"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoMigrations is returned by Rollback when nothing has been applied.
var ErrNoMigrations = errors.New("chatrelay: no applied migrations")

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS chat_migrations (
	id         SERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	checksum   TEXT NOT NULL
);`

type migrationFile struct {
	Name     string
	Up       string
	Down     string
	Checksum string
}

type migrationRecord struct {
	ID        int
	Name      string
	AppliedAt time.Time
	Checksum  string
}

// loadMigrations reads the embedded migration files, pairs up/down scripts and sorts by name.
func loadMigrations() ([]migrationFile, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	upFiles := make(map[string]string)
	downFiles := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		switch {
		case strings.HasSuffix(name, ".up.sql"):
			upFiles[strings.TrimSuffix(name, ".up.sql")] = string(data)
		case strings.HasSuffix(name, ".down.sql"):
			downFiles[strings.TrimSuffix(name, ".down.sql")] = string(data)
		}
	}

	var migrations []migrationFile
	for key, up := range upFiles {
		migrations = append(migrations, migrationFile{
			Name:     key,
			Up:       up,
			Down:     downFiles[key],
			Checksum: fmt.Sprintf("%x", sha256.Sum256([]byte(up))),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})

	return migrations, nil
}

func (s *PGStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, createMigrationsTableSQL)
	return err
}

func (s *PGStore) appliedMigrations(ctx context.Context) (map[string]migrationRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, applied_at, checksum FROM chat_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]migrationRecord)
	for rows.Next() {
		var rec migrationRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.AppliedAt, &rec.Checksum); err != nil {
			return nil, err
		}
		applied[rec.Name] = rec
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations in order, each in its own transaction.
// It returns the names of the migrations it applied.
func (s *PGStore) Migrate(ctx context.Context) ([]string, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("chatrelay: ensure migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("chatrelay: load migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: get applied migrations: %w", err)
	}

	var done []string
	for _, m := range migrations {
		if rec, ok := applied[m.Name]; ok {
			if rec.Checksum != m.Checksum {
				return done, fmt.Errorf("chatrelay: migration %s checksum mismatch (expected %s, got %s)", m.Name, rec.Checksum, m.Checksum)
			}
			continue
		}

		err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO chat_migrations (name, checksum) VALUES ($1, $2)`, m.Name, m.Checksum); err != nil {
				return fmt.Errorf("record: %w", err)
			}
			return nil
		})
		if err != nil {
			return done, fmt.Errorf("chatrelay: migration %s: %w", m.Name, err)
		}
		done = append(done, m.Name)
	}

	return done, nil
}

// Rollback reverts the last applied migration and returns its name.
func (s *PGStore) Rollback(ctx context.Context) (string, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return "", fmt.Errorf("chatrelay: ensure migrations table: %w", err)
	}

	var last migrationRecord
	err := s.db.QueryRow(ctx, `SELECT id, name FROM chat_migrations ORDER BY id DESC LIMIT 1`).
		Scan(&last.ID, &last.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoMigrations
	}
	if err != nil {
		return "", fmt.Errorf("chatrelay: get last migration: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return "", fmt.Errorf("chatrelay: load migrations: %w", err)
	}

	var downSQL string
	for _, m := range migrations {
		if m.Name == last.Name {
			downSQL = m.Down
			break
		}
	}
	if downSQL == "" {
		return "", fmt.Errorf("chatrelay: no down migration for %s", last.Name)
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, downSQL); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chat_migrations WHERE id = $1`, last.ID); err != nil {
			return fmt.Errorf("remove record: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chatrelay: rollback %s: %w", last.Name, err)
	}

	return last.Name, nil
}

// MigrationStatus returns all known migrations with their applied status.
func (s *PGStore) MigrationStatus(ctx context.Context) ([]chatrelay.MigrationRecord, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("chatrelay: ensure migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("chatrelay: load migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: get applied migrations: %w", err)
	}

	var records []chatrelay.MigrationRecord
	for _, m := range migrations {
		rec := chatrelay.MigrationRecord{Name: m.Name}
		if appliedRec, ok := applied[m.Name]; ok {
			rec.Applied = true
			t := appliedRec.AppliedAt
			rec.AppliedAt = &t
			rec.Checksum = appliedRec.Checksum
		}
		records = append(records, rec)
	}

	return records, nil
}
