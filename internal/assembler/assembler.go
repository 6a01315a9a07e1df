// Package assembler builds the bounded generation prompt for every player
// action.
//
// Three components are fetched concurrently: the character sheet, the
// campaign record, and the nearest memory fragments across all semantic
// partitions. Together with the rolling short-term exchange log they are
// rendered by [FormatPrompt] into a prompt with a fixed section order and a
// hard character budget.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/taleweaver/internal/store"
	"github.com/MrWong99/taleweaver/pkg/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// Public types
// ─────────────────────────────────────────────────────────────────────────────

// Exchange is one short-term memory entry: a single player or DM turn.
type Exchange struct {
	// Role is "player" or "dm".
	Role string

	// Text is the turn's content.
	Text string

	// Timestamp orders exchanges chronologically.
	Timestamp time.Time
}

// Request identifies what to assemble context for.
type Request struct {
	// Action is the current player action text.
	Action string

	// CharacterID must resolve to a stored character.
	CharacterID string

	// CampaignID optionally resolves to a stored campaign.
	CampaignID string

	// Recent is the short-term exchange log, oldest first. The assembler
	// keeps only the most recent entries up to its configured limit.
	Recent []Exchange
}

// Context is the assembled material for one generation prompt.
type Context struct {
	// Character is the active character sheet.
	Character store.Character

	// Campaign is the active campaign, or nil when the session has none.
	Campaign *store.Campaign

	// Fragments are the retrieved memory fragments, nearest first.
	Fragments []memory.Result

	// Recent is the truncated short-term exchange log, oldest first.
	Recent []Exchange

	// Action is the current player action text.
	Action string

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// ─────────────────────────────────────────────────────────────────────────────
// Assembler
// ─────────────────────────────────────────────────────────────────────────────

// Assembler concurrently fetches the context components for a player action.
type Assembler struct {
	index       memory.SemanticIndex
	store       store.Store
	topK        int
	recentLimit int
}

// Option is a functional option for [New].
type Option func(*Assembler)

// WithTopK sets how many fragments are retrieved from the semantic index.
// Defaults to [memory.DefaultQueryLimit].
func WithTopK(k int) Option {
	return func(a *Assembler) { a.topK = k }
}

// WithRecentLimit caps how many short-term exchanges are included in the
// assembled context. When the request carries more, the most recent ones are
// kept. Defaults to 5.
func WithRecentLimit(n int) Option {
	return func(a *Assembler) { a.recentLimit = n }
}

// New creates an [Assembler] with sensible defaults.
func New(index memory.SemanticIndex, st store.Store, opts ...Option) *Assembler {
	a := &Assembler{
		index:       index,
		store:       st,
		topK:        memory.DefaultQueryLimit,
		recentLimit: 5,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble concurrently fetches the character sheet, the campaign record, and
// the nearest fragments for req.Action across all partitions.
//
// The fetches run in parallel via errgroup. A missing character is an error;
// a semantic-index failure is also an error so that the caller can decide how
// to degrade. Assemble respects context cancellation on all underlying calls.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Context, error) {
	if req.Action == "" {
		return nil, errors.New("assembler: action must not be empty")
	}

	start := time.Now()

	var (
		character store.Character
		campaign  *store.Campaign
		fragments []memory.Result
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		c, err := a.store.GetCharacter(egCtx, req.CharacterID)
		if err != nil {
			return fmt.Errorf("assembler: get character %q: %w", req.CharacterID, err)
		}
		character = c
		return nil
	})

	if req.CampaignID != "" {
		eg.Go(func() error {
			c, err := a.store.GetCampaign(egCtx, req.CampaignID)
			if err != nil {
				return fmt.Errorf("assembler: get campaign %q: %w", req.CampaignID, err)
			}
			campaign = &c
			return nil
		})
	}

	eg.Go(func() error {
		results, err := a.index.Query(egCtx, req.Action,
			memory.WithPartition(memory.PartitionAll),
			memory.WithLimit(a.topK),
		)
		if err != nil {
			return fmt.Errorf("assembler: query fragments: %w", err)
		}
		fragments = results
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	recent := req.Recent
	if len(recent) > a.recentLimit {
		recent = recent[len(recent)-a.recentLimit:]
	}

	return &Context{
		Character:        character,
		Campaign:         campaign,
		Fragments:        fragments,
		Recent:           recent,
		Action:           req.Action,
		AssemblyDuration: time.Since(start),
	}, nil
}
