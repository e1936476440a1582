package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer connection keeps per-lead transactions serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY,
	name            TEXT,
	clinic_name     TEXT NOT NULL DEFAULT '',
	website         TEXT UNIQUE,
	email           TEXT,
	phone           TEXT,
	description     TEXT,
	status          TEXT NOT NULL DEFAULT 'Found',
	last_contacted  DATETIME,
	follow_up_count INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS lead_events (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL REFERENCES leads(id),
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL,
	detail      TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_lead_events_lead_id ON lead_events(lead_id);
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

// InsertLead stores a new lead in Found status. It returns false without
// error when another lead already owns the website.
func (s *SQLiteStore) InsertLead(ctx context.Context, lead *model.Lead) (bool, error) {
	now := time.Now().UTC()
	id := uuid.New().String()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, name, clinic_name, website, email, phone, status, follow_up_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(website) DO NOTHING`,
		id, nullable(lead.Name), lead.ClinicName, nullable(lead.Website), nullable(lead.Email),
		nullable(lead.Phone), string(model.LeadStatusFound), now, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert lead")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
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

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(filter.Statuses)), ",") + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.IDs) > 0 {
		query += ` AND id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(filter.IDs)), ",") + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) WebsiteExists(ctx context.Context, website string) (bool, error) {
	if website == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM leads WHERE website = ?`, website).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: website exists")
	}
	return n > 0, nil
}

// UpdateLead applies upd and its audit event in one transaction.
func (s *SQLiteStore) UpdateLead(ctx context.Context, upd model.LeadUpdate) error {
	if err := upd.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	query, args := buildLeadUpdate(upd, now, sqlitePlaceholder)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", upd.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM leads WHERE id = ?`, upd.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "sqlite: update lead %s", upd.ID)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: check lead %s", upd.ID)
		}
		return eris.Wrapf(ErrStaleStatus, "sqlite: lead %s is %s, expected %s", upd.ID, current, upd.From)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO lead_events (id, lead_id, from_status, to_status, reason, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), upd.ID, string(upd.From), string(upd.To), string(upd.Reason), nullable(eventDetail(upd.Detail)), now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert event for lead %s", upd.ID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit lead update")
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.LeadStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, leadID string) ([]model.LeadEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, from_status, to_status, reason, detail, created_at
		 FROM lead_events WHERE lead_id = ? ORDER BY created_at ASC, rowid ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.LeadEvent
	for rows.Next() {
		var e model.LeadEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.LeadID, &e.FromStatus, &e.ToStatus, &e.Reason, &detail, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

// helpers

const leadColumns = `id, name, clinic_name, website, email, phone, description, status, last_contacted, follow_up_count, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var name, website, email, phone, description sql.NullString
	var lastContacted sql.NullTime
	err := row.Scan(&l.ID, &name, &l.ClinicName, &website, &email, &phone, &description,
		&l.Status, &lastContacted, &l.FollowUpCount, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Name = name.String
	l.Website = website.String
	l.Email = email.String
	l.Phone = phone.String
	l.Description = description.String
	if lastContacted.Valid {
		t := lastContacted.Time.UTC()
		l.LastContacted = &t
	}
	return &l, nil
}
