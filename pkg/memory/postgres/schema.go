// Package postgres provides a PostgreSQL-backed implementation of the
// semantic memory index.
//
// Fragments live in a single table with a pgvector embedding column and a
// JSONB metadata column. The pgvector extension must be available in the
// target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	idx, err := postgres.NewIndex(ctx, dsn, embedder)
//	if err != nil { … }
//	defer idx.Close()
//
//	id, _ := idx.Add(ctx, memory.Fragment{
//	    Partition: memory.PartitionCampaign,
//	    Content:   "The village of Thornbury sits at the edge of the Mirkwood.",
//	})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlFragments returns the fragments DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlFragments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS fragments (
    id          TEXT         PRIMARY KEY,
    partition   TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    metadata    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fragments_partition
    ON fragments (partition);

CREATE INDEX IF NOT EXISTS idx_fragments_metadata
    ON fragments USING GIN (metadata);

CREATE INDEX IF NOT EXISTS idx_fragments_embedding
    ON fragments USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the fragments table and pgvector extension
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 768 for nomic-embed-text, 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlFragments(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
