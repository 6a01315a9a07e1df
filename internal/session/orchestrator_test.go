package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/taleweaver/internal/assembler"
	"github.com/MrWong99/taleweaver/internal/narrator"
	"github.com/MrWong99/taleweaver/internal/store"
	"github.com/MrWong99/taleweaver/pkg/memory"
	"github.com/MrWong99/taleweaver/pkg/memory/memindex"
	memmock "github.com/MrWong99/taleweaver/pkg/memory/mock"
	embmock "github.com/MrWong99/taleweaver/pkg/provider/embeddings/mock"
	"github.com/MrWong99/taleweaver/pkg/provider/llm"
	llmmock "github.com/MrWong99/taleweaver/pkg/provider/llm/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedStore returns a MemStore pre-populated with a character and a campaign.
func seedStore(t *testing.T) (*store.MemStore, store.Character, store.Campaign) {
	t.Helper()
	s := store.NewMemStore()

	character, err := s.SaveCharacter(context.Background(), store.Character{
		Name:  "Aria",
		Race:  store.RaceElf,
		Class: store.ClassWizard,
		Level: 1,
		Abilities: store.AbilityScores{
			Strength: 8, Dexterity: 14, Constitution: 12,
			Intelligence: 16, Wisdom: 13, Charisma: 10,
		},
		HPCurrent: 8,
		HPMax:     8,
	})
	if err != nil {
		t.Fatalf("SaveCharacter: %v", err)
	}

	campaign, err := s.SaveCampaign(context.Background(), store.Campaign{
		Name:        "The Sunken Vale",
		Description: "A drowned valley full of secrets.",
	})
	if err != nil {
		t.Fatalf("SaveCampaign: %v", err)
	}
	return s, character, campaign
}

// newTestOrchestrator wires an orchestrator over a seeded MemStore, a mock
// semantic index and a mock generation provider.
func newTestOrchestrator(t *testing.T, index memory.SemanticIndex, provider *llmmock.Provider) (*Orchestrator, *store.MemStore, store.Character, store.Campaign) {
	t.Helper()
	st, character, campaign := seedStore(t)
	asm := assembler.New(index, st)
	gw := narrator.New(provider, narrator.WithLogger(discardLogger()))
	o := New(st, index, asm, gw, WithLogger(discardLogger()))
	return o, st, character, campaign
}

func dmResponse(text string) *llmmock.Provider {
	return &llmmock.Provider{GenerateResponse: &llm.Response{Text: text, Model: "test-model"}}
}

func TestStartSessionUnknownCharacter(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, dmResponse("..."))

	_, err := o.StartSession(context.Background(), "nope", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("StartSession error = %v, want ErrNotFound", err)
	}
	if o.Active() {
		t.Error("orchestrator active after failed start")
	}
}

func TestStartSessionRejectsSecondSession(t *testing.T) {
	o, _, character, campaign := newTestOrchestrator(t, &memmock.SemanticIndex{}, dmResponse("..."))
	ctx := context.Background()

	if _, err := o.StartSession(ctx, character.ID, campaign.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := o.StartSession(ctx, character.ID, ""); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second StartSession error = %v, want ErrSessionActive", err)
	}

	// Ending the first session clears the way.
	if err := o.EndSession(ctx); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession after end: %v", err)
	}
}

func TestProcessActionWithoutSession(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, dmResponse("..."))

	_, err := o.ProcessAction(context.Background(), "I search the room")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("ProcessAction error = %v, want ErrNoActiveSession", err)
	}
}

func TestEndSessionWithoutSessionIsNoOp(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, dmResponse("..."))

	if err := o.EndSession(context.Background()); err != nil {
		t.Fatalf("EndSession without session = %v, want nil", err)
	}
}

func TestProcessActionPersistsToBothStores(t *testing.T) {
	index := &memmock.SemanticIndex{}
	o, st, character, campaign := newTestOrchestrator(t, index,
		dmResponse("A hidden door grinds open. Roll a d20 to squeeze through."))
	ctx := context.Background()

	sess, err := o.StartSession(ctx, character.ID, campaign.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	out, err := o.ProcessAction(ctx, "I search the room")
	if err != nil {
		t.Fatalf("ProcessAction: %v", err)
	}
	if out.Fallback || out.Degraded {
		t.Errorf("outcome flags fallback=%v degraded=%v, want clean", out.Fallback, out.Degraded)
	}
	if !out.ActionRequired {
		t.Error("ActionRequired = false, want true")
	}
	if len(out.DiceNeeded) != 1 || out.DiceNeeded[0].Die != "d20" {
		t.Errorf("DiceNeeded = %+v, want one d20", out.DiceNeeded)
	}

	if got := index.CallCount("Query"); got != 1 {
		t.Errorf("index Query calls = %d, want 1", got)
	}
	if got := index.CallCount("Add"); got != 1 {
		t.Errorf("index Add calls = %d, want 1", got)
	}
	for _, c := range index.Calls() {
		if c.Method != "Add" {
			continue
		}
		frag := c.Args[0].(memory.Fragment)
		if frag.Partition != memory.PartitionMemory {
			t.Errorf("fragment partition = %q, want %q", frag.Partition, memory.PartitionMemory)
		}
		if !strings.HasPrefix(frag.Content, "Player: I search the room | DM: ") {
			t.Errorf("fragment content = %q", frag.Content)
		}
		if frag.Metadata["session_id"] != sess.ID {
			t.Errorf("fragment session_id = %q, want %q", frag.Metadata["session_id"], sess.ID)
		}
		if frag.Metadata["sequence"] != "1" {
			t.Errorf("fragment sequence = %q, want 1", frag.Metadata["sequence"])
		}
		if frag.Metadata["timestamp"] == "" {
			t.Error("fragment timestamp missing")
		}
	}

	actions, err := st.ListActions(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("action count = %d, want 1", len(actions))
	}
	rec := actions[0]
	if rec.PlayerAction != "I search the room" {
		t.Errorf("PlayerAction = %q", rec.PlayerAction)
	}
	if rec.Narrative != out.Narrative {
		t.Errorf("recorded narrative differs from outcome")
	}
	if !rec.ActionRequired || len(rec.DiceNeeded) != 1 {
		t.Errorf("record flags = %+v", rec)
	}
}

func TestProcessActionGenerationFailureFallsBack(t *testing.T) {
	provider := &llmmock.Provider{GenerateErr: errors.New("backend down")}
	o, st, character, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, provider)
	ctx := context.Background()

	sess, err := o.StartSession(ctx, character.ID, "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	out, err := o.ProcessAction(ctx, "I attack the goblin")
	if err != nil {
		t.Fatalf("ProcessAction = %v, want nil under generation failure", err)
	}
	if out.Narrative != narrator.FallbackNarrative {
		t.Errorf("narrative = %q, want fallback", out.Narrative)
	}
	if !out.Fallback {
		t.Error("Fallback = false, want true")
	}
	if out.ActionRequired || len(out.DiceNeeded) != 0 {
		t.Errorf("fallback outcome carries flags: %+v", out)
	}

	// The turn still lands in the action log.
	actions, err := st.ListActions(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("action count = %d, want 1", len(actions))
	}
}

func TestProcessActionRetrievalFailureDegrades(t *testing.T) {
	index := &memmock.SemanticIndex{QueryErr: errors.New("pgvector down")}
	o, st, character, campaign := newTestOrchestrator(t, index,
		dmResponse("The mists part before you."))
	ctx := context.Background()

	sess, err := o.StartSession(ctx, character.ID, campaign.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	out, err := o.ProcessAction(ctx, "I press onward")
	if err != nil {
		t.Fatalf("ProcessAction = %v, want nil under retrieval failure", err)
	}
	if !out.Degraded {
		t.Error("Degraded = false, want true")
	}
	if out.Narrative != "The mists part before you." {
		t.Errorf("narrative = %q", out.Narrative)
	}

	actions, _ := st.ListActions(ctx, sess.ID)
	if len(actions) != 1 || !actions[0].Degraded {
		t.Errorf("action log = %+v, want one degraded record", actions)
	}
}

func TestProcessActionFragmentWriteFailureSwallowed(t *testing.T) {
	index := &memmock.SemanticIndex{AddErr: errors.New("pgvector down")}
	o, _, character, _ := newTestOrchestrator(t, index, dmResponse("You rest by the fire."))
	ctx := context.Background()

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	out, err := o.ProcessAction(ctx, "I make camp")
	if err != nil {
		t.Fatalf("ProcessAction = %v, want nil under fragment-write failure", err)
	}
	if !out.Degraded {
		t.Error("Degraded = false, want true")
	}
}

// failingStore breaks the action log while leaving everything else intact.
type failingStore struct {
	store.Store
	appendErr error
}

func (f *failingStore) AppendAction(ctx context.Context, rec store.ActionRecord) error {
	return f.appendErr
}

func TestProcessActionLogWriteFailureIsHard(t *testing.T) {
	st, character, _ := seedStore(t)
	broken := &failingStore{Store: st, appendErr: errors.New("disk full")}
	index := &memmock.SemanticIndex{}
	asm := assembler.New(index, broken)
	gw := narrator.New(dmResponse("You open the chest."), narrator.WithLogger(discardLogger()))
	o := New(broken, index, asm, gw, WithLogger(discardLogger()))
	ctx := context.Background()

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := o.ProcessAction(ctx, "I open the chest"); err == nil {
		t.Fatal("ProcessAction = nil, want error when the action log write fails")
	}
}

func TestProcessActionEmpty(t *testing.T) {
	o, _, character, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, dmResponse("..."))
	ctx := context.Background()

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := o.ProcessAction(ctx, "   "); err == nil {
		t.Fatal("ProcessAction with blank action = nil, want error")
	}
}

func TestShortTermMemoryFlowsIntoPrompts(t *testing.T) {
	var prompts []string
	provider := &llmmock.Provider{
		GenerateFunc: func(req llm.Request) (*llm.Response, error) {
			prompts = append(prompts, req.Prompt)
			return &llm.Response{Text: "The innkeeper nods."}, nil
		},
	}
	o, _, character, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, provider)
	ctx := context.Background()

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := o.ProcessAction(ctx, "I enter the tavern"); err != nil {
		t.Fatalf("first ProcessAction: %v", err)
	}
	if _, err := o.ProcessAction(ctx, "I order an ale"); err != nil {
		t.Fatalf("second ProcessAction: %v", err)
	}

	if len(prompts) != 2 {
		t.Fatalf("prompt count = %d, want 2", len(prompts))
	}

	// The second prompt replays the first exchange and ends with the new
	// action, which must not also appear in the exchange log.
	second := prompts[1]
	if !strings.Contains(second, "Player: I enter the tavern") {
		t.Error("second prompt missing the earlier player turn")
	}
	if !strings.Contains(second, "DM: The innkeeper nods.") {
		t.Error("second prompt missing the earlier DM turn")
	}
	if !strings.HasSuffix(second, "I order an ale") {
		t.Error("second prompt does not end with the current action")
	}
	if strings.Count(second, "I order an ale") != 1 {
		t.Error("current action appears more than once in the prompt")
	}
}

func TestShortTermMemoryEvictsOldest(t *testing.T) {
	var lastPrompt string
	provider := &llmmock.Provider{
		GenerateFunc: func(req llm.Request) (*llm.Response, error) {
			lastPrompt = req.Prompt
			return &llm.Response{Text: "Noted."}, nil
		},
	}
	st, character, _ := seedStore(t)
	index := &memmock.SemanticIndex{}
	// A generous assembler window so eviction is attributable to the cap.
	asm := assembler.New(index, st, assembler.WithRecentLimit(100))
	gw := narrator.New(provider, narrator.WithLogger(discardLogger()))
	o := New(st, index, asm, gw,
		WithLogger(discardLogger()),
		WithShortTermCap(4),
	)
	ctx := context.Background()

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for _, action := range []string{"first move", "second move", "third move"} {
		if _, err := o.ProcessAction(ctx, action); err != nil {
			t.Fatalf("ProcessAction(%q): %v", action, err)
		}
	}

	// Cap 4 holds two exchanges; by the third action the first is evicted.
	if strings.Contains(lastPrompt, "first move") {
		t.Error("evicted exchange still present in prompt")
	}
	if !strings.Contains(lastPrompt, "second move") {
		t.Error("retained exchange missing from prompt")
	}
}

func TestEndSessionClearsShortTermMemory(t *testing.T) {
	var lastPrompt string
	provider := &llmmock.Provider{
		GenerateFunc: func(req llm.Request) (*llm.Response, error) {
			lastPrompt = req.Prompt
			return &llm.Response{Text: "So it goes."}, nil
		},
	}
	o, _, character, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, provider)
	ctx := context.Background()

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := o.ProcessAction(ctx, "I bury the amulet"); err != nil {
		t.Fatalf("ProcessAction: %v", err)
	}
	if err := o.EndSession(ctx); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if _, err := o.ProcessAction(ctx, "I dig it back up"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("ProcessAction after end = %v, want ErrNoActiveSession", err)
	}

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if _, err := o.ProcessAction(ctx, "I look around"); err != nil {
		t.Fatalf("ProcessAction in new session: %v", err)
	}
	if strings.Contains(lastPrompt, "I bury the amulet") {
		t.Error("previous session's exchanges leaked into the new session's prompt")
	}
}

func TestStats(t *testing.T) {
	o, _, character, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, dmResponse("Onward."))
	ctx := context.Background()

	if _, err := o.Stats(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Stats without session = %v, want ErrNoActiveSession", err)
	}

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for _, action := range []string{"I scout ahead", "I signal the others"} {
		if _, err := o.ProcessAction(ctx, action); err != nil {
			t.Fatalf("ProcessAction: %v", err)
		}
	}

	stats, err := o.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ActionCount != 2 {
		t.Errorf("ActionCount = %d, want 2", stats.ActionCount)
	}
}

func TestProcessActionStream(t *testing.T) {
	provider := &llmmock.Provider{
		GenerateResponse: &llm.Response{Text: "The torchlight flickers."},
		StreamChunks:     []string{"The torchlight ", "flickers."},
	}
	o, _, character, _ := newTestOrchestrator(t, &memmock.SemanticIndex{}, provider)
	ctx := context.Background()

	if _, err := o.StartSession(ctx, character.ID, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	var chunks []string
	out, err := o.ProcessActionStream(ctx, "I raise my torch", func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessActionStream: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(chunks))
	}
	if out.Narrative != "The torchlight flickers." {
		t.Errorf("narrative = %q", out.Narrative)
	}
}

// Full loop against a real in-memory index: one action leaves exactly one
// fragment behind and one record in the action log.
func TestProcessActionEndToEnd(t *testing.T) {
	embedder := &embmock.Provider{
		EmbedFunc: func(text string) ([]float32, error) {
			return []float32{float32(len(text)), 1}, nil
		},
	}
	index := memindex.NewIndex(embedder)
	st, character, _ := seedStore(t)
	asm := assembler.New(index, st)
	gw := narrator.New(dmResponse("Dust swirls in the lamplight. You find a silver key."),
		narrator.WithLogger(discardLogger()))
	o := New(st, index, asm, gw, WithLogger(discardLogger()))
	ctx := context.Background()

	sess, err := o.StartSession(ctx, character.ID, "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	out, err := o.ProcessAction(ctx, "I search the room")
	if err != nil {
		t.Fatalf("ProcessAction: %v", err)
	}
	if out.Narrative == "" {
		t.Fatal("empty narrative")
	}

	results, err := index.Query(ctx, "search", memory.WithPartition(memory.PartitionMemory))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("fragment count = %d, want 1", len(results))
	}
	if !strings.Contains(results[0].Fragment.Content, "I search the room") {
		t.Errorf("fragment content = %q", results[0].Fragment.Content)
	}

	actions, err := st.ListActions(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("action count = %d, want 1", len(actions))
	}
}
