package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/taleweaver/internal/store"
)

// CreateSession implements [store.Store.CreateSession]. The referenced
// character (and campaign, when set) must already exist.
func (s *Store) CreateSession(ctx context.Context, sess store.Session) (store.Session, error) {
	if sess.ID == "" {
		id, err := newID()
		if err != nil {
			return store.Session{}, fmt.Errorf("store: generate session id: %w", err)
		}
		sess.ID = id
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	sess.Status = store.SessionActive
	sess.EndedAt = nil

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM characters WHERE id = $1)`, sess.CharacterID,
	).Scan(&exists); err != nil {
		return store.Session{}, dbErr("create session", err)
	}
	if !exists {
		return store.Session{}, fmt.Errorf("store: create session: character %q: %w", sess.CharacterID, store.ErrNotFound)
	}

	var campaignID *string
	if sess.CampaignID != "" {
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, sess.CampaignID,
		).Scan(&exists); err != nil {
			return store.Session{}, dbErr("create session", err)
		}
		if !exists {
			return store.Session{}, fmt.Errorf("store: create session: campaign %q: %w", sess.CampaignID, store.ErrNotFound)
		}
		campaignID = &sess.CampaignID
	}

	const q = `
		INSERT INTO sessions (id, character_id, campaign_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q, sess.ID, sess.CharacterID, campaignID, string(sess.Status), sess.StartedAt)
	if err != nil {
		return store.Session{}, dbErr("create session", err)
	}
	return sess, nil
}

// GetSession implements [store.Store.GetSession].
func (s *Store) GetSession(ctx context.Context, id string) (store.Session, error) {
	const q = sessionSelect + ` WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return store.Session{}, dbErr("get session", err)
	}
	sess, err := pgx.CollectOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, dbErr("get session", err)
	}
	return sess, nil
}

// EndSession implements [store.Store.EndSession]. Sessions are never reopened.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	const q = `
		UPDATE sessions
		SET    status = $2, ended_at = $3
		WHERE  id = $1 AND status = $4`

	tag, err := s.pool.Exec(ctx, q, id, string(store.SessionEnded), endedAt, string(store.SessionActive))
	if err != nil {
		return dbErr("end session", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish an unknown session from one that already ended.
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return store.ErrSessionEnded
	}
	return nil
}

// ListSessions implements [store.Store.ListSessions].
func (s *Store) ListSessions(ctx context.Context, characterID string) ([]store.Session, error) {
	q := sessionSelect
	args := []any{}
	if characterID != "" {
		q += ` WHERE character_id = $1`
		args = append(args, characterID)
	}
	q += ` ORDER BY started_at DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, dbErr("list sessions", err)
	}
	sessions, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, dbErr("list sessions", err)
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return sessions, nil
}

// AppendAction implements [store.Store.AppendAction]. The sequence number is
// assigned from the current log length; the orchestrator serializes actions
// so there is a single writer per session.
func (s *Store) AppendAction(ctx context.Context, rec store.ActionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.DiceNeeded == nil {
		rec.DiceNeeded = []store.DiceRequest{}
	}

	const q = `
		INSERT INTO actions
		    (session_id, seq, player_action, narrative, timestamp,
		     action_required, dice_needed, degraded)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6, $7
		FROM   actions WHERE session_id = $1`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID, rec.PlayerAction, rec.Narrative, rec.Timestamp,
		rec.ActionRequired, rec.DiceNeeded, rec.Degraded,
	)
	if err != nil {
		// The aggregate SELECT always yields a row, so an unknown session
		// surfaces as a foreign-key violation rather than zero rows.
		if isForeignKeyViolation(err) {
			return fmt.Errorf("store: append action: session %q: %w", rec.SessionID, store.ErrNotFound)
		}
		return dbErr("append action", err)
	}
	return nil
}

// isForeignKeyViolation checks whether a PostgreSQL error is a
// foreign-key violation (SQLSTATE 23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// ListActions implements [store.Store.ListActions].
func (s *Store) ListActions(ctx context.Context, sessionID string) ([]store.ActionRecord, error) {
	const q = `
		SELECT session_id, seq, player_action, narrative, timestamp,
		       action_required, dice_needed, degraded
		FROM   actions
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, dbErr("list actions", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ActionRecord, error) {
		var r store.ActionRecord
		err := row.Scan(
			&r.SessionID, &r.Seq, &r.PlayerAction, &r.Narrative, &r.Timestamp,
			&r.ActionRequired, &r.DiceNeeded, &r.Degraded,
		)
		return r, err
	})
	if err != nil {
		return nil, dbErr("list actions", err)
	}
	if recs == nil {
		recs = []store.ActionRecord{}
	}
	return recs, nil
}

// SessionStats implements [store.Store.SessionStats]. For a still-active
// session the duration runs to now.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (store.SessionStats, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return store.SessionStats{}, err
	}

	var count int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM actions WHERE session_id = $1`, sessionID,
	).Scan(&count); err != nil {
		return store.SessionStats{}, dbErr("session stats", err)
	}

	end := time.Now()
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	return store.SessionStats{
		SessionID:   sessionID,
		ActionCount: count,
		Duration:    end.Sub(sess.StartedAt),
	}, nil
}

// CleanupOlderThan implements [store.Store.CleanupOlderThan]. Action records
// cascade with their session.
func (s *Store) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)

	const q = `
		DELETE FROM sessions
		WHERE  status = $1 AND ended_at IS NOT NULL AND ended_at < $2`

	tag, err := s.pool.Exec(ctx, q, string(store.SessionEnded), cutoff)
	if err != nil {
		return 0, dbErr("cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}

const sessionSelect = `
	SELECT id, character_id, campaign_id, status, started_at, ended_at
	FROM   sessions`

func scanSession(row pgx.CollectableRow) (store.Session, error) {
	var (
		sess       store.Session
		campaignID *string
		status     string
	)
	if err := row.Scan(&sess.ID, &sess.CharacterID, &campaignID, &status, &sess.StartedAt, &sess.EndedAt); err != nil {
		return store.Session{}, err
	}
	if campaignID != nil {
		sess.CampaignID = *campaignID
	}
	sess.Status = store.SessionStatus(status)
	return sess, nil
}
