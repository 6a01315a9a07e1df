package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl is the relational schema: one table per entity plus the append-only
// action log. Actions cascade with their session.
const ddl = `
CREATE TABLE IF NOT EXISTS characters (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    race          TEXT NOT NULL,
    class         TEXT NOT NULL,
    background    TEXT NOT NULL DEFAULT '',
    level         INT  NOT NULL,
    abilities     JSONB NOT NULL,
    hp_current    INT  NOT NULL,
    hp_max        INT  NOT NULL,
    armor_class   INT  NOT NULL,
    skills        JSONB NOT NULL DEFAULT '[]',
    equipment     JSONB NOT NULL DEFAULT '[]',
    spells        JSONB NOT NULL DEFAULT '[]',
    notes         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS campaigns (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    content       TEXT NOT NULL DEFAULT '',
    source_path   TEXT NOT NULL DEFAULT '',
    source_format TEXT NOT NULL DEFAULT '',
    metadata      JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT PRIMARY KEY,
    character_id TEXT NOT NULL REFERENCES characters(id),
    campaign_id  TEXT REFERENCES campaigns(id),
    status       TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    ended_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_character ON sessions (character_id, started_at DESC);

CREATE TABLE IF NOT EXISTS actions (
    session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq             INT  NOT NULL,
    player_action   TEXT NOT NULL,
    narrative       TEXT NOT NULL,
    timestamp       TIMESTAMPTZ NOT NULL,
    action_required BOOLEAN NOT NULL DEFAULT FALSE,
    dice_needed     JSONB NOT NULL DEFAULT '[]',
    degraded        BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (session_id, seq)
);
`

// Migrate applies the schema. It is idempotent and safe to run at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate schema: %w", err)
	}
	return nil
}
