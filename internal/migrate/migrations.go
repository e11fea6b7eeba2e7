package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type step struct {
	version int
	name    string
	stmts   string
}

func steps() ([]step, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	out := make([]step, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(e.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("migration %s: cannot parse version: %w", e.Name(), err)
		}
		data, err := schemaFS.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, step{version: v, name: e.Name(), stmts: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Migrate brings the database schema up to the latest embedded version.
// All pending steps run inside one transaction.
func Migrate(db *sql.DB) error {
	pending, err := steps()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	current := 0
	switch err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current); err {
	case nil:
	case sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	default:
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, s := range pending {
		if s.version <= current {
			continue
		}
		if _, err := tx.Exec(s.stmts); err != nil {
			return fmt.Errorf("apply %s: %w", s.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, s.version); err != nil {
			return fmt.Errorf("record %s: %w", s.name, err)
		}
		current = s.version
	}
	return tx.Commit()
}
