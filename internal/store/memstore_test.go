package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestCharacter(name string) Character {
	return Character{
		Name:       name,
		Race:       RaceElf,
		Class:      ClassWizard,
		Background: "sage",
		Level:      1,
		Abilities: AbilityScores{
			Strength: 8, Dexterity: 14, Constitution: 12,
			Intelligence: 16, Wisdom: 13, Charisma: 10,
		},
		HPCurrent:  7,
		HPMax:      7,
		ArmorClass: 12,
	}
}

func TestSaveCharacterGeneratesID(t *testing.T) {
	s := NewMemStore()

	saved, err := s.SaveCharacter(context.Background(), newTestCharacter("Aria"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected a generated ID")
	}

	got, err := s.GetCharacter(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Aria" {
		t.Fatalf("name = %q, want Aria", got.Name)
	}
}

func TestGetCharacterNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.GetCharacter(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCharacter(t *testing.T) {
	s := NewMemStore()
	saved, _ := s.SaveCharacter(context.Background(), newTestCharacter("Aria"))

	if err := s.DeleteCharacter(context.Background(), saved.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteCharacter(context.Background(), saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestCreateSessionRequiresExistingCharacter(t *testing.T) {
	s := NewMemStore()

	_, err := s.CreateSession(context.Background(), Session{CharacterID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateSessionRequiresExistingCampaign(t *testing.T) {
	s := NewMemStore()
	ch, _ := s.SaveCharacter(context.Background(), newTestCharacter("Aria"))

	_, err := s.CreateSession(context.Background(), Session{
		CharacterID: ch.ID,
		CampaignID:  "missing",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := NewMemStore()
	ch, _ := s.SaveCharacter(context.Background(), newTestCharacter("Aria"))

	sess, err := s.CreateSession(context.Background(), Session{CharacterID: ch.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status != SessionActive {
		t.Fatalf("status = %q, want active", sess.Status)
	}
	if sess.StartedAt.IsZero() {
		t.Fatal("expected StartedAt to be set")
	}

	ended := time.Now()
	if err := s.EndSession(context.Background(), sess.ID, ended); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.GetSession(context.Background(), sess.ID)
	if got.Status != SessionEnded {
		t.Fatalf("status = %q, want ended", got.Status)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("EndedAt = %v, want %v", got.EndedAt, ended)
	}

	// A session is never reopened.
	if err := s.EndSession(context.Background(), sess.ID, time.Now()); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("second end err = %v, want ErrSessionEnded", err)
	}
}

func TestAppendActionAssignsSequence(t *testing.T) {
	s := NewMemStore()
	ch, _ := s.SaveCharacter(context.Background(), newTestCharacter("Aria"))
	sess, _ := s.CreateSession(context.Background(), Session{CharacterID: ch.ID})

	for _, action := range []string{"I search the room", "I open the chest"} {
		err := s.AppendAction(context.Background(), ActionRecord{
			SessionID:    sess.ID,
			PlayerAction: action,
			Narrative:    "Something happens.",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	recs, err := s.ListActions(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Seq != 1 || recs[1].Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", recs[0].Seq, recs[1].Seq)
	}
	if recs[0].PlayerAction != "I search the room" {
		t.Fatalf("first action = %q", recs[0].PlayerAction)
	}
}

func TestAppendActionUnknownSession(t *testing.T) {
	s := NewMemStore()
	err := s.AppendAction(context.Background(), ActionRecord{SessionID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionStats(t *testing.T) {
	s := NewMemStore()
	ch, _ := s.SaveCharacter(context.Background(), newTestCharacter("Aria"))
	sess, _ := s.CreateSession(context.Background(), Session{
		CharacterID: ch.ID,
		StartedAt:   time.Now().Add(-10 * time.Minute),
	})
	_ = s.AppendAction(context.Background(), ActionRecord{SessionID: sess.ID, PlayerAction: "a", Narrative: "b"})

	stats, err := s.SessionStats(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ActionCount != 1 {
		t.Fatalf("ActionCount = %d, want 1", stats.ActionCount)
	}
	if stats.Duration < 9*time.Minute {
		t.Fatalf("Duration = %v, want at least ~10m", stats.Duration)
	}
}

func TestListSessionsFiltersAndOrders(t *testing.T) {
	s := NewMemStore()
	a, _ := s.SaveCharacter(context.Background(), newTestCharacter("Aria"))
	b, _ := s.SaveCharacter(context.Background(), newTestCharacter("Borin"))

	old, _ := s.CreateSession(context.Background(), Session{
		CharacterID: a.ID, StartedAt: time.Now().Add(-2 * time.Hour),
	})
	recent, _ := s.CreateSession(context.Background(), Session{
		CharacterID: a.ID, StartedAt: time.Now().Add(-1 * time.Hour),
	})
	_, _ = s.CreateSession(context.Background(), Session{CharacterID: b.ID})

	got, err := s.ListSessions(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}
	if got[0].ID != recent.ID || got[1].ID != old.ID {
		t.Fatal("sessions not ordered newest first")
	}
}

func TestCleanupOlderThan(t *testing.T) {
	s := NewMemStore()
	ch, _ := s.SaveCharacter(context.Background(), newTestCharacter("Aria"))

	stale, _ := s.CreateSession(context.Background(), Session{CharacterID: ch.ID})
	_ = s.AppendAction(context.Background(), ActionRecord{SessionID: stale.ID, PlayerAction: "a", Narrative: "b"})
	_ = s.EndSession(context.Background(), stale.ID, time.Now().Add(-48*time.Hour))

	fresh, _ := s.CreateSession(context.Background(), Session{CharacterID: ch.ID})
	_ = s.EndSession(context.Background(), fresh.ID, time.Now())

	active, _ := s.CreateSession(context.Background(), Session{CharacterID: ch.ID})

	removed, err := s.CleanupOlderThan(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := s.GetSession(context.Background(), stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale session err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetSession(context.Background(), fresh.ID); err != nil {
		t.Fatalf("fresh session should survive: %v", err)
	}
	if _, err := s.GetSession(context.Background(), active.ID); err != nil {
		t.Fatalf("active session should survive: %v", err)
	}

	if recs, _ := s.ListActions(context.Background(), stale.ID); len(recs) != 0 {
		t.Fatalf("stale session actions should be gone, got %d", len(recs))
	}
}

func TestValidateCharacter(t *testing.T) {
	valid := newTestCharacter("Aria")
	if err := ValidateCharacter(valid); err != nil {
		t.Fatalf("valid character rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Character)
	}{
		{"empty name", func(c *Character) { c.Name = "" }},
		{"bad race", func(c *Character) { c.Race = "robot" }},
		{"bad class", func(c *Character) { c.Class = "influencer" }},
		{"level zero", func(c *Character) { c.Level = 0 }},
		{"level 21", func(c *Character) { c.Level = 21 }},
		{"score too low", func(c *Character) { c.Abilities.Strength = 2 }},
		{"score too high", func(c *Character) { c.Abilities.Charisma = 31 }},
		{"hp over max", func(c *Character) { c.HPCurrent = c.HPMax + 1 }},
		{"unknown skill", func(c *Character) { c.SkillProficiencies = []string{"basket weaving"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCharacter("Aria")
			tt.mutate(&c)
			if err := ValidateCharacter(c); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCharacterDerivedValues(t *testing.T) {
	c := newTestCharacter("Aria")
	c.Level = 5
	c.SkillProficiencies = []string{"arcana"}

	if got := c.ProficiencyBonus(); got != 3 {
		t.Fatalf("ProficiencyBonus = %d, want 3", got)
	}
	// INT 16 (+3) with proficiency (+3) = +6.
	if got := c.SkillModifier("arcana"); got != 6 {
		t.Fatalf("SkillModifier(arcana) = %d, want 6", got)
	}
	// DEX 14 (+2) without proficiency.
	if got := c.SkillModifier("stealth"); got != 2 {
		t.Fatalf("SkillModifier(stealth) = %d, want 2", got)
	}
}
