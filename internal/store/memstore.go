package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use without a database, and for tests.
type MemStore struct {
	mu         sync.RWMutex
	characters map[string]Character
	campaigns  map[string]Campaign
	sessions   map[string]Session
	actions    map[string][]ActionRecord
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		characters: make(map[string]Character),
		campaigns:  make(map[string]Campaign),
		sessions:   make(map[string]Session),
		actions:    make(map[string][]ActionRecord),
	}
}

// SaveCharacter implements [Store.SaveCharacter].
func (s *MemStore) SaveCharacter(ctx context.Context, c Character) (Character, error) {
	if c.ID == "" {
		id, err := generateID()
		if err != nil {
			return Character{}, fmt.Errorf("store: generate character id: %w", err)
		}
		c.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.characters[c.ID] = c
	return c, nil
}

// GetCharacter implements [Store.GetCharacter].
func (s *MemStore) GetCharacter(ctx context.Context, id string) (Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[id]
	if !ok {
		return Character{}, ErrNotFound
	}
	return c, nil
}

// ListCharacters implements [Store.ListCharacters].
func (s *MemStore) ListCharacters(ctx context.Context) ([]Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Character, 0, len(s.characters))
	for _, c := range s.characters {
		result = append(result, c)
	}
	return result, nil
}

// DeleteCharacter implements [Store.DeleteCharacter].
func (s *MemStore) DeleteCharacter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.characters[id]; !ok {
		return ErrNotFound
	}
	delete(s.characters, id)
	return nil
}

// SaveCampaign implements [Store.SaveCampaign].
func (s *MemStore) SaveCampaign(ctx context.Context, c Campaign) (Campaign, error) {
	if c.ID == "" {
		id, err := generateID()
		if err != nil {
			return Campaign{}, fmt.Errorf("store: generate campaign id: %w", err)
		}
		c.ID = id
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	return c, nil
}

// GetCampaign implements [Store.GetCampaign].
func (s *MemStore) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

// ListCampaigns implements [Store.ListCampaigns].
func (s *MemStore) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		result = append(result, c)
	}
	return result, nil
}

// CreateSession implements [Store.CreateSession].
func (s *MemStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		id, err := generateID()
		if err != nil {
			return Session{}, fmt.Errorf("store: generate session id: %w", err)
		}
		sess.ID = id
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	sess.Status = SessionActive
	sess.EndedAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.characters[sess.CharacterID]; !ok {
		return Session{}, fmt.Errorf("store: create session: character %q: %w", sess.CharacterID, ErrNotFound)
	}
	if sess.CampaignID != "" {
		if _, ok := s.campaigns[sess.CampaignID]; !ok {
			return Session{}, fmt.Errorf("store: create session: campaign %q: %w", sess.CampaignID, ErrNotFound)
		}
	}

	s.sessions[sess.ID] = sess
	s.actions[sess.ID] = nil
	return sess, nil
}

// GetSession implements [Store.GetSession].
func (s *MemStore) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// EndSession implements [Store.EndSession].
func (s *MemStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Status == SessionEnded {
		return ErrSessionEnded
	}
	sess.Status = SessionEnded
	sess.EndedAt = &endedAt
	s.sessions[id] = sess
	return nil
}

// ListSessions implements [Store.ListSessions].
func (s *MemStore) ListSessions(ctx context.Context, characterID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if characterID != "" && sess.CharacterID != characterID {
			continue
		}
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

// AppendAction implements [Store.AppendAction].
func (s *MemStore) AppendAction(ctx context.Context, rec ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[rec.SessionID]; !ok {
		return fmt.Errorf("store: append action: session %q: %w", rec.SessionID, ErrNotFound)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Seq = len(s.actions[rec.SessionID]) + 1
	s.actions[rec.SessionID] = append(s.actions[rec.SessionID], rec)
	return nil
}

// ListActions implements [Store.ListActions].
func (s *MemStore) ListActions(ctx context.Context, sessionID string) ([]ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.actions[sessionID]
	result := make([]ActionRecord, len(recs))
	copy(result, recs)
	return result, nil
}

// SessionStats implements [Store.SessionStats].
func (s *MemStore) SessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return SessionStats{}, ErrNotFound
	}

	end := time.Now()
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	return SessionStats{
		SessionID:   sessionID,
		ActionCount: len(s.actions[sessionID]),
		Duration:    end.Sub(sess.StartedAt),
	}, nil
}

// CleanupOlderThan implements [Store.CleanupOlderThan].
func (s *MemStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Status != SessionEnded || sess.EndedAt == nil {
			continue
		}
		if sess.EndedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.actions, id)
			removed++
		}
	}
	return removed, nil
}

// generateID produces a random 16-byte hex string using crypto/rand.
func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
