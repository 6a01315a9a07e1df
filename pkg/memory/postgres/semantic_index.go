package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/taleweaver/pkg/memory"
)

// dbErr tags a database failure with [memory.ErrUnavailable] while keeping
// the driver error in the chain.
func dbErr(op string, err error) error {
	return fmt.Errorf("semantic index: %s: %w: %w", op, memory.ErrUnavailable, err)
}

// Add implements [memory.SemanticIndex]. It embeds the fragment content and
// upserts the row keyed by the deterministic fragment ID, so re-adding an
// identical fragment replaces rather than duplicates.
func (i *Index) Add(ctx context.Context, fragment memory.Fragment) (string, error) {
	if !fragment.Partition.Storable() {
		return "", fmt.Errorf("semantic index: add: partition %q is not storable", fragment.Partition)
	}

	id := fragment.ID
	if id == "" {
		id = memory.FragmentID(fragment.Content, fragment.Metadata)
	}

	vec, err := i.embedder.Embed(ctx, fragment.Content)
	if err != nil {
		return "", fmt.Errorf("semantic index: embed: %w", err)
	}

	createdAt := fragment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	metadata := fragment.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	const q = `
		INSERT INTO fragments
		    (id, partition, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    partition  = EXCLUDED.partition,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    metadata   = EXCLUDED.metadata`

	_, err = i.pool.Exec(ctx, q,
		id,
		string(fragment.Partition),
		fragment.Content,
		pgvector.NewVector(vec),
		metadata,
		createdAt,
	)
	if err != nil {
		return "", dbErr("add", err)
	}
	return id, nil
}

// Update implements [memory.SemanticIndex]: delete the old row, add the
// replacement. The replacement keeps the old partition unless it names one.
func (i *Index) Update(ctx context.Context, id string, fragment memory.Fragment) (string, error) {
	old, err := i.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := i.Delete(ctx, id); err != nil {
		return "", err
	}
	if fragment.Partition == "" {
		fragment.Partition = old.Partition
	}
	fragment.ID = ""
	return i.Add(ctx, fragment)
}

// Delete implements [memory.SemanticIndex]. Missing IDs are a no-op.
func (i *Index) Delete(ctx context.Context, id string) error {
	if _, err := i.pool.Exec(ctx, `DELETE FROM fragments WHERE id = $1`, id); err != nil {
		return dbErr("delete", err)
	}
	return nil
}

// Get implements [memory.SemanticIndex].
func (i *Index) Get(ctx context.Context, id string) (memory.Fragment, error) {
	const q = `
		SELECT id, partition, content, metadata, created_at
		FROM   fragments
		WHERE  id = $1`

	var f memory.Fragment
	err := i.pool.QueryRow(ctx, q, id).Scan(
		&f.ID,
		&f.Partition,
		&f.Content,
		&f.Metadata,
		&f.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.Fragment{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Fragment{}, dbErr("get", err)
	}
	return f, nil
}

// Query implements [memory.SemanticIndex]. It embeds the query text and finds
// the closest fragments by cosine distance. A [memory.PartitionAll] query
// simply drops the partition condition; the single ORDER BY distance already
// yields the globally merged ascending order.
func (i *Index) Query(ctx context.Context, text string, opts ...memory.QueryOpt) ([]memory.Result, error) {
	params := memory.ApplyQueryOpts(opts)
	if !params.Partition.IsValid() {
		return nil, fmt.Errorf("semantic index: query: unknown partition %q", params.Partition)
	}

	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("semantic index: embed query: %w", err)
	}

	args := []any{pgvector.NewVector(vec)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if params.Partition != memory.PartitionAll {
		conditions = append(conditions, "partition = "+next(string(params.Partition)))
	}
	if len(params.Metadata) > 0 {
		conditions = append(conditions, "metadata @> "+next(params.Metadata))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, params.Limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, partition, content, metadata, created_at,
		       embedding <=> $1 AS distance
		FROM   fragments
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := i.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, dbErr("query", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Result, error) {
		var r memory.Result
		if err := row.Scan(
			&r.Fragment.ID,
			&r.Fragment.Partition,
			&r.Fragment.Content,
			&r.Fragment.Metadata,
			&r.Fragment.CreatedAt,
			&r.Distance,
		); err != nil {
			return memory.Result{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, dbErr("scan rows", err)
	}
	if results == nil {
		results = []memory.Result{}
	}
	return results, nil
}

// PurgeOlderThan implements [memory.SemanticIndex]. Timestamps are parsed in
// Go rather than in SQL so that fragments carrying malformed timestamp
// metadata are skipped instead of failing the whole sweep.
func (i *Index) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	const q = `
		SELECT id, metadata->>'timestamp'
		FROM   fragments
		WHERE  partition = $1
		  AND  metadata ? 'timestamp'`

	rows, err := i.pool.Query(ctx, q, string(memory.PartitionMemory))
	if err != nil {
		return 0, dbErr("purge", err)
	}

	type row struct {
		id string
		ts string
	}
	candidates, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
		var c row
		err := r.Scan(&c.id, &c.ts)
		return c, err
	})
	if err != nil {
		return 0, dbErr("purge scan", err)
	}

	cutoff := time.Now().Add(-age)
	var expired []string
	for _, c := range candidates {
		ts, err := time.Parse(time.RFC3339, c.ts)
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			expired = append(expired, c.id)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	tag, err := i.pool.Exec(ctx, `DELETE FROM fragments WHERE id = ANY($1)`, expired)
	if err != nil {
		return 0, dbErr("purge delete", err)
	}
	return int(tag.RowsAffected()), nil
}
