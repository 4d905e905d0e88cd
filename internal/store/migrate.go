package store

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tgvault/tgvault/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate runs all pending versioned migrations, then applies additive
// column migrations for columns introduced after an installation was
// created. The column pass is checked per-column against the live schema,
// so forward upgrades never fail on existing databases.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if err == migrate.ErrNoChange {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	if err := db.ensureColumns(); err != nil {
		return nil, fmt.Errorf("additive migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}

// addedColumns lists columns added after 0001_init shipped. Databases
// created from the current init migration already have them; databases
// created by older builds get them here.
var addedColumns = []struct {
	table string
	col   string
	ddl   string
}{
	{"channels", "is_forum", "ALTER TABLE channels ADD COLUMN is_forum INTEGER NOT NULL DEFAULT 0"},
	{"channels", "access_hash", "ALTER TABLE channels ADD COLUMN access_hash INTEGER NOT NULL DEFAULT 0"},
	{"jobs", "min_date", "ALTER TABLE jobs ADD COLUMN min_date INTEGER NOT NULL DEFAULT 0"},
	{"messages", "topic_text", "ALTER TABLE messages ADD COLUMN topic_text TEXT NOT NULL DEFAULT ''"},
	{"contacts", "tags", "ALTER TABLE contacts ADD COLUMN tags TEXT NOT NULL DEFAULT '[]'"},
}

func (db *DB) ensureColumns() error {
	for _, c := range addedColumns {
		has, err := db.hasColumn(c.table, c.col)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := db.Exec(c.ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.col, err)
		}
	}
	return nil
}

func (db *DB) hasColumn(table, col string) (bool, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}
