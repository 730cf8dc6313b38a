package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var Schema = []string{`
CREATE TABLE IF NOT EXISTS group_members (
	group_id   TEXT        NOT NULL,
	peer_id    TEXT        NOT NULL,
	joined_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (group_id, peer_id)
)`, `
CREATE INDEX IF NOT EXISTS group_members_peer_idx ON group_members (peer_id)`,
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Add(ctx context.Context, groupID, peerID string) error {
	if !validMember(groupID, peerID) {
		return ErrInvalidMember
	}
	const q = `
INSERT INTO group_members (group_id, peer_id)
VALUES ($1, $2)
ON CONFLICT (group_id, peer_id) DO NOTHING`
	if _, err := p.db.ExecContext(ctx, q, groupID, peerID); err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (p *Postgres) GroupsOf(ctx context.Context, peerID string) ([]string, error) {
	const q = `SELECT group_id FROM group_members WHERE peer_id = $1 ORDER BY group_id`
	rows, err := p.db.QueryContext(ctx, q, peerID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) IsMember(ctx context.Context, groupID, peerID string) (bool, error) {
	const q = `SELECT 1 FROM group_members WHERE group_id = $1 AND peer_id = $2`
	var one int
	err := p.db.QueryRowContext(ctx, q, groupID, peerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}
