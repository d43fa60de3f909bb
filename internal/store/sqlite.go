package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	*sqlStore
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{
		sqlStore: &sqlStore{
			name:   "sqlite",
			flavor: sqlbuilder.SQLite,
			conn:   sqlExecer{db},
			inTx:   sqlTx(db),
			now:    func() time.Time { return time.Now().UTC() },
		},
		db: db,
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS contacts (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	data            TEXT NOT NULL,
	company_id      TEXT NOT NULL DEFAULT '',
	publication_ids TEXT NOT NULL DEFAULT '[]',
	email_domains   TEXT NOT NULL DEFAULT '',
	deleted_at      DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_contacts_org ON contacts(organization_id, id);

CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	website         TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL,
	is_reference    BOOLEAN NOT NULL DEFAULT 0,
	source          TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL DEFAULT '',
	deleted_at      DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_companies_org ON companies(organization_id);

CREATE TABLE IF NOT EXISTS publications (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	company_id      TEXT,
	publisher_name  TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL,
	is_reference    BOOLEAN NOT NULL DEFAULT 0,
	is_global       BOOLEAN NOT NULL DEFAULT 0,
	type            TEXT NOT NULL DEFAULT '',
	country         TEXT NOT NULL DEFAULT '',
	languages       TEXT NOT NULL DEFAULT '[]',
	monitoring      TEXT NOT NULL DEFAULT '{}',
	metrics         TEXT NOT NULL DEFAULT '{}',
	source          TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL DEFAULT '',
	deleted_at      DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_publications_org ON publications(organization_id);
CREATE INDEX IF NOT EXISTS idx_publications_company ON publications(company_id);

CREATE TABLE IF NOT EXISTS matching_candidates (
	id               TEXT PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	match_key        TEXT NOT NULL,
	display_name     TEXT NOT NULL DEFAULT '',
	variants         TEXT NOT NULL DEFAULT '[]',
	organization_ids TEXT NOT NULL DEFAULT '',
	score            INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'open',
	company_id       TEXT NOT NULL DEFAULT '',
	publication_ids  TEXT NOT NULL DEFAULT '[]',
	scan_job_id      TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_candidates_key ON matching_candidates(entity_type, match_key);
CREATE INDEX IF NOT EXISTS idx_candidates_status ON matching_candidates(status);

CREATE TABLE IF NOT EXISTS conflict_reviews (
	id              TEXT PRIMARY KEY,
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	entity_name     TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	field           TEXT NOT NULL,
	current_value   TEXT NOT NULL DEFAULT '',
	suggested_value TEXT NOT NULL DEFAULT '',
	confidence      REAL NOT NULL DEFAULT 0,
	priority        TEXT NOT NULL DEFAULT 'low',
	evidence        TEXT NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL DEFAULT 'open',
	candidate_id    TEXT NOT NULL DEFAULT '',
	reviewed_by     TEXT NOT NULL DEFAULT '',
	review_notes    TEXT NOT NULL DEFAULT '',
	reviewed_at     DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reviews_open ON conflict_reviews(entity_type, entity_id, field) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_reviews_status ON conflict_reviews(status);

CREATE TABLE IF NOT EXISTS scan_jobs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	stats            TEXT NOT NULL DEFAULT '{}',
	development_mode BOOLEAN NOT NULL DEFAULT 0,
	cancel_requested BOOLEAN NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	started_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_scan_jobs_started ON scan_jobs(started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
