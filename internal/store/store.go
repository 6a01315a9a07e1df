package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced character, campaign, or session
// does not exist.
var ErrNotFound = errors.New("record not found")

// ErrSessionEnded is returned when mutating a session that has already ended.
var ErrSessionEnded = errors.New("session already ended")

// ErrUnavailable is returned when the backing database cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// Store is the relational persistence layer.
//
// All implementations must be safe for concurrent use. The action log is
// append-only and its insertion order must equal chronological action order.
type Store interface {
	// SaveCharacter inserts or replaces a character sheet. A character with
	// an empty ID gets one generated; the stored character is returned.
	SaveCharacter(ctx context.Context, c Character) (Character, error)

	// GetCharacter retrieves a character by ID.
	// Returns [ErrNotFound] when no character with that ID exists.
	GetCharacter(ctx context.Context, id string) (Character, error)

	// ListCharacters returns every stored character. Order is not guaranteed.
	ListCharacters(ctx context.Context) ([]Character, error)

	// DeleteCharacter removes a character by ID.
	// Returns [ErrNotFound] when no character with that ID exists.
	DeleteCharacter(ctx context.Context, id string) error

	// SaveCampaign inserts or replaces a campaign. A campaign with an empty
	// ID gets one generated; the stored campaign is returned.
	SaveCampaign(ctx context.Context, c Campaign) (Campaign, error)

	// GetCampaign retrieves a campaign by ID.
	// Returns [ErrNotFound] when no campaign with that ID exists.
	GetCampaign(ctx context.Context, id string) (Campaign, error)

	// ListCampaigns returns every stored campaign. Order is not guaranteed.
	ListCampaigns(ctx context.Context) ([]Campaign, error)

	// CreateSession persists a new active session. The session's CharacterID
	// must resolve to a stored character and, when set, CampaignID to a
	// stored campaign; otherwise [ErrNotFound] is returned.
	CreateSession(ctx context.Context, s Session) (Session, error)

	// GetSession retrieves a session by ID.
	// Returns [ErrNotFound] when no session with that ID exists.
	GetSession(ctx context.Context, id string) (Session, error)

	// EndSession marks a session ended at endedAt. Ending an already ended
	// session returns [ErrSessionEnded]; an unknown ID returns [ErrNotFound].
	EndSession(ctx context.Context, id string, endedAt time.Time) error

	// ListSessions returns sessions for a character, newest first. An empty
	// characterID returns all sessions.
	ListSessions(ctx context.Context, characterID string) ([]Session, error)

	// AppendAction appends a record to a session's action log.
	// Returns [ErrNotFound] when the session does not exist.
	AppendAction(ctx context.Context, rec ActionRecord) error

	// ListActions returns a session's action log in sequence order.
	ListActions(ctx context.Context, sessionID string) ([]ActionRecord, error)

	// SessionStats summarises a session's action log.
	// Returns [ErrNotFound] when the session does not exist.
	SessionStats(ctx context.Context, sessionID string) (SessionStats, error)

	// CleanupOlderThan deletes ended sessions whose end time is older than
	// age, together with their action records. It returns the number of
	// sessions removed.
	CleanupOlderThan(ctx context.Context, age time.Duration) (int, error)
}
