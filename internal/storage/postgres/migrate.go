package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS relay_migrations (
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

// loadMigrations reads the embedded *.up.sql / *.down.sql pairs sorted by name.
func loadMigrations() ([]migrationFile, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	up := make(map[string]string)
	down := make(map[string]string)
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
			up[strings.TrimSuffix(name, ".up.sql")] = string(data)
		case strings.HasSuffix(name, ".down.sql"):
			down[strings.TrimSuffix(name, ".down.sql")] = string(data)
		}
	}

	migrations := make([]migrationFile, 0, len(up))
	for key, sql := range up {
		migrations = append(migrations, migrationFile{
			Name:     key,
			Up:       sql,
			Down:     down[key],
			Checksum: fmt.Sprintf("%x", sha256.Sum256([]byte(sql))),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name < migrations[j].Name })
	return migrations, nil
}

func (s *PGStore) appliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name, checksum FROM relay_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var name, checksum string
		if err := rows.Scan(&name, &checksum); err != nil {
			return nil, err
		}
		applied[name] = checksum
	}
	return applied, rows.Err()
}

// Migrate applies pending migrations in order, one transaction each, and
// returns the names it applied. Already-applied files must keep their checksum.
func (s *PGStore) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.db.Exec(ctx, createMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("postgres: ensure migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("postgres: load migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: applied migrations: %w", err)
	}

	var ran []string
	for _, m := range migrations {
		if checksum, ok := applied[m.Name]; ok {
			if checksum != m.Checksum {
				return ran, fmt.Errorf("postgres: migration %s checksum mismatch (expected %s, got %s)", m.Name, checksum, m.Checksum)
			}
			continue
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return ran, fmt.Errorf("postgres: begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			tx.Rollback(ctx)
			return ran, fmt.Errorf("postgres: run migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO relay_migrations (name, checksum) VALUES ($1, $2)`, m.Name, m.Checksum); err != nil {
			tx.Rollback(ctx)
			return ran, fmt.Errorf("postgres: record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return ran, fmt.Errorf("postgres: commit migration %s: %w", m.Name, err)
		}
		ran = append(ran, m.Name)
	}
	return ran, nil
}

// Rollback reverts the most recently applied migration.
func (s *PGStore) Rollback(ctx context.Context) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT name FROM relay_migrations ORDER BY id DESC LIMIT 1`).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("postgres: last migration: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return "", fmt.Errorf("postgres: load migrations: %w", err)
	}
	var downSQL string
	for _, m := range migrations {
		if m.Name == name {
			downSQL = m.Down
			break
		}
	}
	if downSQL == "" {
		return "", fmt.Errorf("postgres: no down migration for %s", name)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: begin rollback %s: %w", name, err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, downSQL); err != nil {
		return "", fmt.Errorf("postgres: rollback %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM relay_migrations WHERE name = $1`, name); err != nil {
		return "", fmt.Errorf("postgres: unrecord migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("postgres: commit rollback %s: %w", name, err)
	}
	return name, nil
}
