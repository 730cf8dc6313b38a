package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"chat-calls/pkg/utils"
)

// Schema creates the call_history table. Rows are owner-scoped so several
// local agents can share one database.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS call_history (
	owner_peer_id    TEXT        NOT NULL,
	id               TEXT        NOT NULL,
	caller_peer_id   TEXT        NOT NULL,
	callee_peer_id   TEXT        NOT NULL,
	call_kind        TEXT        NOT NULL,
	status           TEXT        NOT NULL,
	channel_name     TEXT        NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NULL,
	ended_at         TIMESTAMPTZ NULL,
	duration_seconds INTEGER     NULL CHECK (duration_seconds >= 0),
	created_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner_peer_id, id)
)`, `
CREATE INDEX IF NOT EXISTS call_history_owner_created_idx
	ON call_history (owner_peer_id, created_at DESC)`,
}

const uniqueViolation = "23505"

// PostgresRepo stores history through database/sql with the pgx driver.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO call_history (
	owner_peer_id, id, caller_peer_id, callee_peer_id, call_kind, status,
	channel_name, started_at, ended_at, duration_seconds, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := r.db.ExecContext(ctx, q,
		e.OwnerPeerID,
		e.ID,
		e.CallerPeerID,
		e.CalleePeerID,
		e.CallKind,
		string(e.Status),
		e.ChannelName,
		nullTime(e.StartedAt),
		nullTime(e.EndedAt),
		nullInt(e.DurationSeconds),
		e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, ownerPeerID, id string) (Entry, error) {
	const q = `
SELECT owner_peer_id, id, caller_peer_id, callee_peer_id, call_kind, status,
	channel_name, started_at, ended_at, duration_seconds, created_at
FROM call_history
WHERE owner_peer_id = $1 AND id = $2
`
	return scanEntry(r.db.QueryRowContext(ctx, q, ownerPeerID, id))
}

// Amend locks the row so a late duplicate amend cannot overwrite the first.
func (r *PostgresRepo) Amend(ctx context.Context, ownerPeerID, id string, p Patch) (Entry, error) {
	var out Entry
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `
SELECT owner_peer_id, id, caller_peer_id, callee_peer_id, call_kind, status,
	channel_name, started_at, ended_at, duration_seconds, created_at
FROM call_history
WHERE owner_peer_id = $1 AND id = $2
FOR UPDATE
`
		cur, err := scanEntry(tx.QueryRowContext(ctx, sel, ownerPeerID, id))
		if err != nil {
			return err
		}
		if cur.Status != StatusCompleted || cur.EndedAt != nil {
			return ErrImmutable
		}

		const upd = `
UPDATE call_history
SET ended_at = $3, duration_seconds = $4
WHERE owner_peer_id = $1 AND id = $2
`
		if _, err := tx.ExecContext(ctx, upd, ownerPeerID, id, nullTime(p.EndedAt), nullInt(p.DurationSeconds)); err != nil {
			return fmt.Errorf("history: amend: %w", err)
		}

		ended := p.EndedAt.UTC()
		cur.EndedAt = &ended
		cur.DurationSeconds = p.DurationSeconds
		out = cur
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

func (r *PostgresRepo) List(ctx context.Context, ownerPeerID string, q Query) ([]Entry, error) {
	var (
		b    strings.Builder
		args = []any{ownerPeerID}
	)
	b.WriteString(`
SELECT owner_peer_id, id, caller_peer_id, callee_peer_id, call_kind, status,
	channel_name, started_at, ended_at, duration_seconds, created_at
FROM call_history
WHERE owner_peer_id = $1`)
	if q.PeerID != "" {
		args = append(args, q.PeerID)
		fmt.Fprintf(&b, " AND (caller_peer_id = $%d OR callee_peer_id = $%d)", len(args), len(args))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		fmt.Fprintf(&b, " AND status = $%d", len(args))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		fmt.Fprintf(&b, " AND created_at >= $%d", len(args))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		fmt.Fprintf(&b, " AND created_at < $%d", len(args))
	}
	b.WriteString(" ORDER BY created_at DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e        Entry
		status   string
		started  sql.NullTime
		ended    sql.NullTime
		duration sql.NullInt64
	)
	if err := row.Scan(
		&e.OwnerPeerID,
		&e.ID,
		&e.CallerPeerID,
		&e.CalleePeerID,
		&e.CallKind,
		&status,
		&e.ChannelName,
		&started,
		&ended,
		&duration,
		&e.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.Status = Status(status)
	if started.Valid {
		t := started.Time.UTC()
		e.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time.UTC()
		e.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		e.DurationSeconds = &d
	}
	return e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
