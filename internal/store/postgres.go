package store

import (
	"context"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-match/internal/db"
	"github.com/sells-group/contact-match/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	*sqlStore
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgresStore(pool)
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{
		sqlStore: &sqlStore{
			name:   "postgres",
			flavor: sqlbuilder.PostgreSQL,
			conn:   pgxExecer{pool},
			inTx:   pgxTx(pool),
			now:    func() time.Time { return time.Now().UTC() },
		},
		pool: pool,
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	data            JSONB NOT NULL,
	company_id      TEXT NOT NULL DEFAULT '',
	publication_ids JSONB NOT NULL DEFAULT '[]',
	email_domains   TEXT NOT NULL DEFAULT '',
	deleted_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contacts_org ON contacts(organization_id, id);

CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	website         TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL,
	is_reference    BOOLEAN NOT NULL DEFAULT false,
	source          TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL DEFAULT '',
	deleted_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_org ON companies(organization_id);

CREATE TABLE IF NOT EXISTS publications (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	company_id      TEXT,
	publisher_name  TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL,
	is_reference    BOOLEAN NOT NULL DEFAULT false,
	is_global       BOOLEAN NOT NULL DEFAULT false,
	type            TEXT NOT NULL DEFAULT '',
	country         TEXT NOT NULL DEFAULT '',
	languages       JSONB NOT NULL DEFAULT '[]',
	monitoring      JSONB NOT NULL DEFAULT '{}',
	metrics         JSONB NOT NULL DEFAULT '{}',
	source          TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL DEFAULT '',
	deleted_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_publications_org ON publications(organization_id);
CREATE INDEX IF NOT EXISTS idx_publications_company ON publications(company_id);

CREATE TABLE IF NOT EXISTS matching_candidates (
	id               TEXT PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	match_key        TEXT NOT NULL,
	display_name     TEXT NOT NULL DEFAULT '',
	variants         JSONB NOT NULL DEFAULT '[]',
	organization_ids TEXT NOT NULL DEFAULT '',
	score            INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'open',
	company_id       TEXT NOT NULL DEFAULT '',
	publication_ids  JSONB NOT NULL DEFAULT '[]',
	scan_job_id      TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
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
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	priority        TEXT NOT NULL DEFAULT 'low',
	evidence        JSONB NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL DEFAULT 'open',
	candidate_id    TEXT NOT NULL DEFAULT '',
	reviewed_by     TEXT NOT NULL DEFAULT '',
	review_notes    TEXT NOT NULL DEFAULT '',
	reviewed_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reviews_open ON conflict_reviews(entity_type, entity_id, field) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_reviews_status ON conflict_reviews(status);

CREATE TABLE IF NOT EXISTS scan_jobs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	stats            JSONB NOT NULL DEFAULT '{}',
	development_mode BOOLEAN NOT NULL DEFAULT false,
	cancel_requested BOOLEAN NOT NULL DEFAULT false,
	error            TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scan_jobs_started ON scan_jobs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var contactUpsertColumns = []string{
	"id", "organization_id", "data", "company_id", "publication_ids",
	"email_domains", "deleted_at", "created_at", "updated_at",
}

// CreateContacts bulk-loads contacts through COPY and a temp-table merge.
func (s *PostgresStore) CreateContacts(ctx context.Context, contacts []model.Contact) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	now := s.now()
	rows := make([][]any, 0, len(contacts))
	for i := range contacts {
		row, err := s.contactRow(&contacts[i], now)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "contacts",
		Columns:      contactUpsertColumns,
		ConflictKeys: []string{"id"},
		UpdateCols: []string{
			"organization_id", "data", "company_id", "publication_ids",
			"email_domains", "deleted_at", "updated_at",
		},
	}, rows)
	return n, eris.Wrap(err, "postgres: create contacts")
}
