package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// pgPool is the subset of pgxpool.Pool used by PostgresStore. pgxmock's
// PgxPoolIface satisfies it for tests.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    pgPool
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

	maxConns := int32(4)
	minConns := int32(1)
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT,
	clinic_name     TEXT NOT NULL DEFAULT '',
	website         TEXT UNIQUE,
	email           TEXT,
	phone           TEXT,
	description     TEXT,
	status          TEXT NOT NULL DEFAULT 'Found',
	last_contacted  TIMESTAMPTZ,
	follow_up_count INTEGER NOT NULL DEFAULT 0 CHECK (follow_up_count >= 0),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lead_events (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id     TEXT NOT NULL REFERENCES leads(id),
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL,
	detail      TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_lead_events_lead_id ON lead_events(lead_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
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

func (s *PostgresStore) InsertLead(ctx context.Context, lead *model.Lead) (bool, error) {
	now := time.Now().UTC()
	id := uuid.New().String()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, name, clinic_name, website, email, phone, status, follow_up_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		 ON CONFLICT (website) DO NOTHING`,
		id, nullable(lead.Name), lead.ClinicName, nullable(lead.Website), nullable(lead.Email),
		nullable(lead.Phone), string(model.LeadStatusFound), now, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert lead")
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	lead.ID = id
	lead.Status = model.LeadStatusFound
	lead.FollowUpCount = 0
	lead.LastContacted = nil
	lead.CreatedAt = now
	lead.UpdatedAt = now
	return true, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanPgLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += ` AND status = ANY(` + postgresPlaceholder(len(args)) + `)`
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		query += ` AND id = ANY(` + postgresPlaceholder(len(args)) + `)`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT ` + postgresPlaceholder(len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += ` OFFSET ` + postgresPlaceholder(len(args))
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) WebsiteExists(ctx context.Context, website string) (bool, error) {
	if website == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM leads WHERE website = $1)`, website).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: website exists")
	}
	return exists, nil
}

// UpdateLead applies upd and its audit event in one transaction.
func (s *PostgresStore) UpdateLead(ctx context.Context, upd model.LeadUpdate) error {
	if err := upd.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	query, args := buildLeadUpdate(upd, now, postgresPlaceholder)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", upd.ID)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM leads WHERE id = $1`, upd.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: update lead %s", upd.ID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: check lead %s", upd.ID)
		}
		return eris.Wrapf(ErrStaleStatus, "postgres: lead %s is %s, expected %s", upd.ID, current, upd.From)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lead_events (id, lead_id, from_status, to_status, reason, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), upd.ID, string(upd.From), string(upd.To), string(upd.Reason), nullable(eventDetail(upd.Detail)), now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert event for lead %s", upd.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit lead update")
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(1) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.LeadStatus(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

func (s *PostgresStore) ListEvents(ctx context.Context, leadID string) ([]model.LeadEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, from_status, to_status, reason, detail, created_at
		 FROM lead_events WHERE lead_id = $1 ORDER BY created_at ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.LeadEvent
	for rows.Next() {
		var e model.LeadEvent
		var from, to, reason string
		var detail *string
		if err := rows.Scan(&e.ID, &e.LeadID, &from, &to, &reason, &detail, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		e.FromStatus = model.LeadStatus(from)
		e.ToStatus = model.LeadStatus(to)
		e.Reason = model.EventReason(reason)
		if detail != nil {
			e.Detail = *detail
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var name, website, email, phone, description *string
	var status string
	var followUps int32
	err := row.Scan(&l.ID, &name, &l.ClinicName, &website, &email, &phone, &description,
		&status, &l.LastContacted, &followUps, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Name = deref(name)
	l.Website = deref(website)
	l.Email = deref(email)
	l.Phone = deref(phone)
	l.Description = deref(description)
	l.Status = model.LeadStatus(status)
	l.FollowUpCount = int(followUps)
	if l.LastContacted != nil {
		t := l.LastContacted.UTC()
		l.LastContacted = &t
	}
	return &l, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
