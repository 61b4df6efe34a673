// Package migrate applies the SQL schema at startup.
package migrate

import (
	"context"
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var embedded embed.FS

// File is a single migration. Files are applied in name order.
type File struct {
	Name string
	Data []byte
}

// Run applies every migration not yet recorded in schema_migrations. Each file runs in its own transaction.
// Files are read from dir when it exists, from the embedded set otherwise.
func Run(ctx context.Context, db *pgxpool.Pool, dir string) error {
	files, err := Load(dir)
	if err != nil {
		return err
	}

	const createStmt = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		apply_time TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

	if _, err := db.Exec(ctx, createStmt); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	for _, f := range files {
		applied, err := apply(ctx, db, f)
		if err != nil {
			return fmt.Errorf("migrate: %s: %w", f.Name, err)
		}

		if applied {
			slog.InfoContext(ctx, "migrate: applied", "version", f.Name)
		}
	}

	return nil
}

func apply(ctx context.Context, db *pgxpool.Pool, f File) (applied bool, err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insStmt = `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING;`

	tag, err := tx.Exec(ctx, insStmt, f.Name)
	if err != nil {
		return false, fmt.Errorf("record version: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return false, tx.Rollback(ctx)
	}

	// Without arguments pgx sends the file over the simple protocol, which accepts multiple statements.
	if _, err = tx.Exec(ctx, string(f.Data)); err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}

	return true, tx.Commit(ctx)
}

// Load returns the migrations sorted by name.
func Load(dir string) ([]File, error) {
	if dir != "" {
		files, err := read(os.DirFS(dir), ".")
		if err == nil {
			return files, nil
		}
		if !stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("migrate: read %s: %w", dir, err)
		}
	}

	files, err := read(embedded, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: read embedded: %w", err)
	}

	return files, nil
}

func read(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		files = append(files, File{Name: e.Name(), Data: data})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
