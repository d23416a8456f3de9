package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"agent-console/pkg/utils"
)

// PostgresRepo stores the journal in console_events. The table is INSERT-only;
// no code path updates or deletes rows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema creates the journal table and its lookup index when missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return errors.New("audit: postgres db not configured")
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const table = `
CREATE TABLE IF NOT EXISTS console_events (
	id               UUID PRIMARY KEY,
	agent_id         TEXT NOT NULL,
	type             TEXT NOT NULL,
	actor_role       TEXT NOT NULL DEFAULT '',
	ip_address       TEXT NOT NULL DEFAULT '',
	branch_id        TEXT NOT NULL DEFAULT '',
	call_id          TEXT NOT NULL DEFAULT '',
	outcome          TEXT NOT NULL DEFAULT '',
	duration_seconds INT  NOT NULL DEFAULT 0,
	message          TEXT NOT NULL DEFAULT '',
	metadata         TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
)
`
		if _, err := tx.ExecContext(ctx, table); err != nil {
			return err
		}
		const index = `
CREATE INDEX IF NOT EXISTS console_events_agent_created_idx
ON console_events (agent_id, created_at)
`
		_, err := tx.ExecContext(ctx, index)
		return err
	})
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: postgres db not configured")
	}
	const q = `
INSERT INTO console_events
	(id, agent_id, type, actor_role, ip_address, branch_id, call_id, outcome, duration_seconds, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.AgentID,
		string(e.Type),
		e.ActorRole,
		e.IPAddress,
		e.BranchID,
		e.CallID,
		e.Outcome,
		e.DurationSeconds,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, agentID string, from, to time.Time) ([]Event, error) {
	if r.db == nil {
		return nil, errors.New("audit: postgres db not configured")
	}
	const q = `
SELECT id, agent_id, type, actor_role, ip_address, branch_id, call_id, outcome, duration_seconds, message, metadata, created_at
FROM console_events
WHERE agent_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, agentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.AgentID,
			&e.Type,
			&e.ActorRole,
			&e.IPAddress,
			&e.BranchID,
			&e.CallID,
			&e.Outcome,
			&e.DurationSeconds,
			&e.Message,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
