package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/taleweaver/pkg/memory"
	"github.com/MrWong99/taleweaver/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ memory.SemanticIndex = (*Index)(nil)

// Index is the PostgreSQL-backed semantic memory index. It holds a single
// [pgxpool.Pool] and an embeddings provider that turns fragment and query
// text into vectors.
//
// All operations are safe for concurrent use.
type Index struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewIndex creates a new Index, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the fragments table exists.
//
// The embedding dimension is taken from embedder.Dimensions(); switching to a
// model with a different dimension after the first migration requires a
// manual schema change.
func NewIndex(ctx context.Context, dsn string, embedder embeddings.Provider) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres index: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres index: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres index: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres index: migrate: %w", err)
	}

	return &Index{pool: pool, embedder: embedder}, nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Index is no longer needed, typically via defer.
func (i *Index) Close() {
	i.pool.Close()
}
