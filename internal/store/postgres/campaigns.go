package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/taleweaver/internal/store"
)

// SaveCampaign implements [store.Store.SaveCampaign] as an upsert.
func (s *Store) SaveCampaign(ctx context.Context, c store.Campaign) (store.Campaign, error) {
	if c.ID == "" {
		id, err := newID()
		if err != nil {
			return store.Campaign{}, fmt.Errorf("store: generate campaign id: %w", err)
		}
		c.ID = id
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}

	const q = `
		INSERT INTO campaigns
		    (id, name, description, content, source_path, source_format, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name, description = EXCLUDED.description,
		    content = EXCLUDED.content, source_path = EXCLUDED.source_path,
		    source_format = EXCLUDED.source_format, metadata = EXCLUDED.metadata`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.Name, c.Description, c.Content,
		c.SourcePath, c.SourceFmt, c.Metadata, c.CreatedAt,
	)
	if err != nil {
		return store.Campaign{}, dbErr("save campaign", err)
	}
	return c, nil
}

// GetCampaign implements [store.Store.GetCampaign].
func (s *Store) GetCampaign(ctx context.Context, id string) (store.Campaign, error) {
	const q = campaignSelect + ` WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return store.Campaign{}, dbErr("get campaign", err)
	}
	c, err := pgx.CollectOneRow(rows, scanCampaign)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Campaign{}, store.ErrNotFound
	}
	if err != nil {
		return store.Campaign{}, dbErr("get campaign", err)
	}
	return c, nil
}

// ListCampaigns implements [store.Store.ListCampaigns].
func (s *Store) ListCampaigns(ctx context.Context) ([]store.Campaign, error) {
	rows, err := s.pool.Query(ctx, campaignSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, dbErr("list campaigns", err)
	}
	cs, err := pgx.CollectRows(rows, scanCampaign)
	if err != nil {
		return nil, dbErr("list campaigns", err)
	}
	if cs == nil {
		cs = []store.Campaign{}
	}
	return cs, nil
}

const campaignSelect = `
	SELECT id, name, description, content, source_path, source_format, metadata, created_at
	FROM   campaigns`

func scanCampaign(row pgx.CollectableRow) (store.Campaign, error) {
	var c store.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &c.Content,
		&c.SourcePath, &c.SourceFmt, &c.Metadata, &c.CreatedAt,
	)
	if err != nil {
		return store.Campaign{}, err
	}
	return c, nil
}
