// Package session implements the stateful play loop: one orchestrator owns
// the current session (active character, campaign, rolling short-term memory)
// and sequences context assembly, narration and persistence for every player
// action.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/taleweaver/internal/assembler"
	"github.com/MrWong99/taleweaver/internal/narrator"
	"github.com/MrWong99/taleweaver/internal/observe"
	"github.com/MrWong99/taleweaver/internal/store"
	"github.com/MrWong99/taleweaver/pkg/memory"
)

// DefaultShortTermCap bounds the rolling short-term memory. Oldest exchanges
// are evicted once the cap is reached so prompts cannot grow without limit.
const DefaultShortTermCap = 50

var (
	// ErrNoActiveSession is returned by operations that need a running
	// session when none has been started.
	ErrNoActiveSession = errors.New("session: no active session")

	// ErrSessionActive is returned by StartSession while another session is
	// still running. End the current session first.
	ErrSessionActive = errors.New("session: a session is already active")
)

// Outcome is the structured response for one processed player action.
type Outcome struct {
	// Narrative is the DM response text. Never empty.
	Narrative string

	// ActionRequired reports whether the narrative asks the player to act.
	ActionRequired bool

	// DiceNeeded lists die rolls the narrative asked for.
	DiceNeeded []store.DiceRequest

	// Fallback reports that generation failed and the fixed fallback
	// narrative was substituted.
	Fallback bool

	// Degraded reports that a non-fatal subsystem failed while processing
	// this action (semantic retrieval or the memory fragment write). The
	// action log records the same flag.
	Degraded bool
}

// Orchestrator drives the `NoSession → Active → Ended` lifecycle and resolves
// player actions one at a time. Starting a second session while one is active
// is rejected with [ErrSessionActive] rather than implicitly ending the
// first.
//
// A mutex serialises all state transitions, so a single Orchestrator is safe
// for concurrent use, but actions are still resolved strictly one after
// another.
type Orchestrator struct {
	store      store.Store
	index      memory.SemanticIndex
	assembler  *assembler.Assembler
	gateway    *narrator.Gateway
	summariser Summariser
	metrics    *observe.Metrics
	logger     *slog.Logger

	shortTermCap int
	promptBudget int

	mu        sync.Mutex
	sess      *store.Session
	character store.Character
	campaign  *store.Campaign
	shortTerm []assembler.Exchange
	actionSeq int
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithShortTermCap sets the short-term memory cap.
// Defaults to [DefaultShortTermCap].
func WithShortTermCap(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.shortTermCap = n
		}
	}
}

// WithPromptBudget sets the character budget handed to
// [assembler.FormatPrompt]. Defaults to [assembler.DefaultPromptBudget].
func WithPromptBudget(n int) Option {
	return func(o *Orchestrator) { o.promptBudget = n }
}

// WithSummariser enables session recaps: when a session with at least one
// action ends, the exchanges are condensed into a recap fragment and indexed
// into long-term memory. Recap failures are logged, never fatal.
func WithSummariser(s Summariser) Option {
	return func(o *Orchestrator) { o.summariser = s }
}

// New creates an Orchestrator in the NoSession state.
func New(st store.Store, index memory.SemanticIndex, asm *assembler.Assembler, gw *narrator.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        st,
		index:        index,
		assembler:    asm,
		gateway:      gw,
		logger:       slog.Default(),
		shortTermCap: DefaultShortTermCap,
		promptBudget: assembler.DefaultPromptBudget,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// StartSession creates and activates a session for the given character, with
// an optional campaign. The character and campaign are loaded once here and
// cached so that action processing can keep narrating even when later store
// reads fail.
func (o *Orchestrator) StartSession(ctx context.Context, characterID, campaignID string) (store.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess != nil {
		return store.Session{}, ErrSessionActive
	}

	character, err := o.store.GetCharacter(ctx, characterID)
	if err != nil {
		return store.Session{}, fmt.Errorf("session: load character: %w", err)
	}
	var campaign *store.Campaign
	if campaignID != "" {
		c, err := o.store.GetCampaign(ctx, campaignID)
		if err != nil {
			return store.Session{}, fmt.Errorf("session: load campaign: %w", err)
		}
		campaign = &c
	}

	sess, err := o.store.CreateSession(ctx, store.Session{
		CharacterID: characterID,
		CampaignID:  campaignID,
		StartedAt:   time.Now(),
	})
	if err != nil {
		return store.Session{}, fmt.Errorf("session: create: %w", err)
	}

	o.sess = &sess
	o.character = character
	o.campaign = campaign
	o.shortTerm = nil
	o.actionSeq = 0
	o.metrics.ActiveSessions.Add(ctx, 1)
	o.logger.Info("session started",
		"session_id", sess.ID,
		"character", character.Name,
		"campaign_id", campaignID,
	)
	return sess, nil
}

// EndSession marks the active session ended and clears all in-memory session
// state, including short-term memory. Calling it with no active session is a
// no-op.
func (o *Orchestrator) EndSession(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return nil
	}
	id := o.sess.ID
	if err := o.store.EndSession(ctx, id, time.Now()); err != nil {
		return fmt.Errorf("session: end: %w", err)
	}
	o.writeRecap(ctx)
	o.sess = nil
	o.character = store.Character{}
	o.campaign = nil
	o.shortTerm = nil
	o.actionSeq = 0
	o.metrics.ActiveSessions.Add(ctx, -1)
	o.logger.Info("session ended", "session_id", id)
	return nil
}

// Active reports whether a session is currently running.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess != nil
}

// Stats summarises the active session's action log.
// Returns [ErrNoActiveSession] when no session is running.
func (o *Orchestrator) Stats(ctx context.Context) (store.SessionStats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return store.SessionStats{}, ErrNoActiveSession
	}
	return o.store.SessionStats(ctx, o.sess.ID)
}

// ProcessAction resolves one player action: assemble context, narrate,
// remember. Returns [ErrNoActiveSession] when no session is running.
//
// Generation failure never surfaces; the outcome carries the fallback
// narrative instead. A failed semantic retrieval or fragment write degrades
// the outcome but does not abort it. A failed action-log write is a hard
// error: the log is the system of record for what happened.
func (o *Orchestrator) ProcessAction(ctx context.Context, action string) (Outcome, error) {
	return o.process(ctx, action, o.gateway.Narrate)
}

// ProcessActionStream behaves like [Orchestrator.ProcessAction] but streams
// narrative chunks to emit as they are generated. The returned outcome holds
// the complete narrative.
func (o *Orchestrator) ProcessActionStream(ctx context.Context, action string, emit func(chunk string) error) (Outcome, error) {
	return o.process(ctx, action, func(ctx context.Context, prompt string) narrator.Outcome {
		return o.gateway.NarrateStream(ctx, prompt, emit)
	})
}

func (o *Orchestrator) process(ctx context.Context, action string, narrate func(ctx context.Context, prompt string) narrator.Outcome) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return Outcome{}, ErrNoActiveSession
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return Outcome{}, errors.New("session: empty action")
	}

	start := time.Now()

	// The current action renders as the prompt's final element, so the
	// assembler gets the short-term log without the entry just appended.
	o.appendShortTerm(assembler.Exchange{Role: "player", Text: action, Timestamp: start})
	recent := append([]assembler.Exchange(nil), o.shortTerm[:len(o.shortTerm)-1]...)

	degraded := false
	actx, err := o.assembler.Assemble(ctx, assembler.Request{
		Action:      action,
		CharacterID: o.character.ID,
		CampaignID:  o.campaignID(),
		Recent:      recent,
	})
	switch {
	case err == nil:
		o.metrics.RetrievalDuration.Record(ctx, actx.AssemblyDuration.Seconds())
	case errors.Is(err, store.ErrNotFound):
		return Outcome{}, err
	default:
		// Retrieval is an enrichment. Narrate from the cached session
		// state rather than losing the player's turn.
		o.logger.Warn("context assembly failed, narrating without recall",
			"session_id", o.sess.ID,
			"error", err,
		)
		degraded = true
		actx = &assembler.Context{
			Character: o.character,
			Campaign:  o.campaign,
			Fragments: []memory.Result{},
			Recent:    recent,
			Action:    action,
		}
	}

	prompt := assembler.FormatPrompt(actx, o.promptBudget)
	out := narrate(ctx, prompt)
	o.metrics.GenerationDuration.Record(ctx, out.Duration.Seconds())
	if out.Fallback {
		o.metrics.RecordFallback(ctx)
	}

	now := time.Now()
	o.appendShortTerm(assembler.Exchange{Role: "dm", Text: out.Narrative, Timestamp: now})

	o.actionSeq++
	if err := o.rememberExchange(ctx, action, out.Narrative, now); err != nil {
		o.logger.Warn("memory fragment write failed, continuing",
			"session_id", o.sess.ID,
			"error", err,
		)
		degraded = true
	}

	rec := store.ActionRecord{
		SessionID:      o.sess.ID,
		PlayerAction:   action,
		Narrative:      out.Narrative,
		Timestamp:      now,
		ActionRequired: out.ActionRequired,
		DiceNeeded:     diceRequests(out.DiceNeeded),
		Degraded:       degraded,
	}
	if err := o.store.AppendAction(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("session: record action: %w", err)
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	o.metrics.RecordAction(ctx, status)
	o.metrics.ActionDuration.Record(ctx, time.Since(start).Seconds())

	return Outcome{
		Narrative:      out.Narrative,
		ActionRequired: out.ActionRequired,
		DiceNeeded:     diceRequests(out.DiceNeeded),
		Fallback:       out.Fallback,
		Degraded:       degraded,
	}, nil
}

// rememberExchange writes one resolved exchange to the semantic index.
func (o *Orchestrator) rememberExchange(ctx context.Context, action, narrative string, at time.Time) error {
	metadata := map[string]string{
		"session_id":   o.sess.ID,
		"character_id": o.character.ID,
		"sequence":     strconv.Itoa(o.actionSeq),
		"timestamp":    at.Format(time.RFC3339),
	}
	if o.campaign != nil {
		metadata["campaign_id"] = o.campaign.ID
	}
	_, err := o.index.Add(ctx, memory.Fragment{
		Partition: memory.PartitionMemory,
		Content:   fmt.Sprintf("Player: %s | DM: %s", action, narrative),
		Metadata:  metadata,
	})
	if err != nil {
		return err
	}
	o.metrics.RecordFragmentIndexed(ctx, string(memory.PartitionMemory))
	return nil
}

// writeRecap condenses the ending session into a recap fragment. Callers
// must hold o.mu with o.sess still set. Failures are logged only; a lost
// recap never blocks session teardown.
func (o *Orchestrator) writeRecap(ctx context.Context) {
	if o.summariser == nil || o.actionSeq == 0 {
		return
	}
	recap, err := o.summariser.Summarise(ctx, o.shortTerm)
	if err != nil {
		o.logger.Warn("session recap failed", "session_id", o.sess.ID, "err", err)
		return
	}
	if recap == "" {
		return
	}
	metadata := map[string]string{
		"session_id":   o.sess.ID,
		"character_id": o.character.ID,
		"type":         "session_recap",
		"timestamp":    time.Now().Format(time.RFC3339),
	}
	if o.campaign != nil {
		metadata["campaign_id"] = o.campaign.ID
	}
	_, err = o.index.Add(ctx, memory.Fragment{
		Partition: memory.PartitionMemory,
		Content:   "Session recap: " + recap,
		Metadata:  metadata,
	})
	if err != nil {
		o.logger.Warn("session recap write failed", "session_id", o.sess.ID, "err", err)
		return
	}
	o.metrics.RecordFragmentIndexed(ctx, string(memory.PartitionMemory))
}

// appendShortTerm appends one exchange, evicting the oldest entries beyond
// the cap. Callers must hold o.mu.
func (o *Orchestrator) appendShortTerm(e assembler.Exchange) {
	o.shortTerm = append(o.shortTerm, e)
	if len(o.shortTerm) > o.shortTermCap {
		o.shortTerm = o.shortTerm[len(o.shortTerm)-o.shortTermCap:]
	}
}

func (o *Orchestrator) campaignID() string {
	if o.campaign == nil {
		return ""
	}
	return o.campaign.ID
}

func diceRequests(in []narrator.DiceRequest) []store.DiceRequest {
	if len(in) == 0 {
		return nil
	}
	out := make([]store.DiceRequest, len(in))
	for i, d := range in {
		out[i] = store.DiceRequest{Die: d.Die, Reason: d.Reason}
	}
	return out
}
