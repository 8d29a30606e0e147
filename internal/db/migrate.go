package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations
var migrationFS embed.FS

// Migrate applies the embedded schema files for the dialect that have not
// been recorded in schema_migrations yet, then the additive column patches.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	if err := ensureMigrationsTable(ctx, db, d); err != nil {
		return err
	}
	dir := path.Join("migrations", string(d))
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var exists int
		err := db.QueryRowContext(ctx, d.Rebind(`SELECT COUNT(1) FROM schema_migrations WHERE version=?`), name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if exists > 0 {
			continue
		}
		b, err := migrationFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := applyFile(ctx, db, d, name, string(b)); err != nil {
			return err
		}
	}

	// Backward-compatible patching for databases created by earlier releases.
	for _, stmt := range compatPatches(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil && !isDuplicateColumnErr(err) {
			return fmt.Errorf("apply compatibility migration %q: %w", stmt, err)
		}
	}
	for _, stmt := range lateIndexes(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %q: %w", stmt, err)
		}
	}
	return nil
}

func applyFile(ctx context.Context, db *sql.DB, d Dialect, name, contents string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}
	for _, stmt := range splitStatements(contents) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, d.Rebind(`INSERT INTO schema_migrations(version) VALUES(?)`), name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB, d Dialect) error {
	stmt := `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)`
	if d == MySQL {
		stmt = `CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(255) PRIMARY KEY, applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)`
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func splitStatements(contents string) []string {
	var out []string
	for _, part := range strings.Split(contents, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func compatPatches(d Dialect) []string {
	switch d {
	case MySQL:
		return []string{
			`ALTER TABLE accounts ADD COLUMN handle VARCHAR(64) NOT NULL DEFAULT ''`,
			`ALTER TABLE accounts ADD COLUMN display_name VARCHAR(255) NOT NULL DEFAULT ''`,
			`ALTER TABLE content_nodes ADD COLUMN position INT NOT NULL DEFAULT 0`,
		}
	case Postgres:
		return []string{
			`ALTER TABLE accounts ADD COLUMN handle TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE accounts ADD COLUMN display_name TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE content_nodes ADD COLUMN position INTEGER NOT NULL DEFAULT 0`,
		}
	default:
		return []string{
			`ALTER TABLE accounts ADD COLUMN handle TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE accounts ADD COLUMN display_name TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE content_nodes ADD COLUMN position INTEGER NOT NULL DEFAULT 0`,
		}
	}
}

// lateIndexes cover columns that older databases only gain through
// compatPatches. MySQL declares them inline.
func lateIndexes(d Dialect) []string {
	if d == MySQL {
		return nil
	}
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_accounts_handle ON accounts(handle)`,
		`CREATE INDEX IF NOT EXISTS idx_content_nodes_parent ON content_nodes(parent_id, position)`,
	}
}

func isDuplicateColumnErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
