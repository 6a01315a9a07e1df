package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/taleweaver/internal/store"
)

// SaveCharacter implements [store.Store.SaveCharacter] as an upsert.
func (s *Store) SaveCharacter(ctx context.Context, c store.Character) (store.Character, error) {
	if c.ID == "" {
		id, err := newID()
		if err != nil {
			return store.Character{}, fmt.Errorf("store: generate character id: %w", err)
		}
		c.ID = id
	}

	const q = `
		INSERT INTO characters
		    (id, name, race, class, background, level, abilities,
		     hp_current, hp_max, armor_class, skills, equipment, spells, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name, race = EXCLUDED.race, class = EXCLUDED.class,
		    background = EXCLUDED.background, level = EXCLUDED.level,
		    abilities = EXCLUDED.abilities, hp_current = EXCLUDED.hp_current,
		    hp_max = EXCLUDED.hp_max, armor_class = EXCLUDED.armor_class,
		    skills = EXCLUDED.skills, equipment = EXCLUDED.equipment,
		    spells = EXCLUDED.spells, notes = EXCLUDED.notes`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.Name, string(c.Race), string(c.Class), c.Background, c.Level,
		c.Abilities, c.HPCurrent, c.HPMax, c.ArmorClass,
		sliceOrEmpty(c.SkillProficiencies), sliceOrEmpty(c.Equipment),
		sliceOrEmpty(c.Spells), c.Notes,
	)
	if err != nil {
		return store.Character{}, dbErr("save character", err)
	}
	return c, nil
}

// GetCharacter implements [store.Store.GetCharacter].
func (s *Store) GetCharacter(ctx context.Context, id string) (store.Character, error) {
	const q = characterSelect + ` WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return store.Character{}, dbErr("get character", err)
	}
	c, err := pgx.CollectOneRow(rows, scanCharacter)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Character{}, store.ErrNotFound
	}
	if err != nil {
		return store.Character{}, dbErr("get character", err)
	}
	return c, nil
}

// ListCharacters implements [store.Store.ListCharacters].
func (s *Store) ListCharacters(ctx context.Context) ([]store.Character, error) {
	rows, err := s.pool.Query(ctx, characterSelect+` ORDER BY name`)
	if err != nil {
		return nil, dbErr("list characters", err)
	}
	cs, err := pgx.CollectRows(rows, scanCharacter)
	if err != nil {
		return nil, dbErr("list characters", err)
	}
	if cs == nil {
		cs = []store.Character{}
	}
	return cs, nil
}

// DeleteCharacter implements [store.Store.DeleteCharacter].
func (s *Store) DeleteCharacter(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM characters WHERE id = $1`, id)
	if err != nil {
		return dbErr("delete character", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const characterSelect = `
	SELECT id, name, race, class, background, level, abilities,
	       hp_current, hp_max, armor_class, skills, equipment, spells, notes
	FROM   characters`

// scanCharacter scans one character row. JSONB columns unmarshal directly
// into the Go field types.
func scanCharacter(row pgx.CollectableRow) (store.Character, error) {
	var (
		c     store.Character
		race  string
		class string
	)
	err := row.Scan(
		&c.ID, &c.Name, &race, &class, &c.Background, &c.Level, &c.Abilities,
		&c.HPCurrent, &c.HPMax, &c.ArmorClass,
		&c.SkillProficiencies, &c.Equipment, &c.Spells, &c.Notes,
	)
	if err != nil {
		return store.Character{}, err
	}
	c.Race = store.Race(race)
	c.Class = store.Class(class)
	return c, nil
}

// sliceOrEmpty keeps JSONB columns as [] instead of null for nil slices.
func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
