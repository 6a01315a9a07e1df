package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/taleweaver/internal/campaign"
	"github.com/MrWong99/taleweaver/internal/rules"
	"github.com/MrWong99/taleweaver/internal/session"
	"github.com/MrWong99/taleweaver/internal/store"
)

const helpText = `Commands:
  /start <character> [campaign]  begin a play session (name or id)
  /end                           end the current session
  /stats                         show session statistics
  /characters                    list stored characters
  /create                        create a new character
  /campaigns                     list stored campaigns
  /import <path>                 import a campaign document (.txt, .md, .json)
  /help                          show this help
  /quit                          exit
Anything else is played as your character's action.`

// repl is the line-oriented terminal frontend. One instance serves one
// player for the lifetime of the process. All input flows through the lines
// channel so a pending read never blocks shutdown.
type repl struct {
	orch     *session.Orchestrator
	store    store.Store
	importer *campaign.Importer
	in       io.Reader
	out      io.Writer

	lines   chan string
	scanErr chan error
}

func newREPL(orch *session.Orchestrator, st store.Store, importer *campaign.Importer, in io.Reader, out io.Writer) *repl {
	return &repl{
		orch:     orch,
		store:    st,
		importer: importer,
		in:       in,
		out:      out,
		lines:    make(chan string),
		scanErr:  make(chan error, 1),
	}
}

// run reads lines until EOF, /quit, or context cancellation.
func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, "Welcome to Taleweaver. Type /help for commands.")

	go func() {
		defer close(r.lines)
		sc := bufio.NewScanner(r.in)
		sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for sc.Scan() {
			select {
			case r.lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		r.scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(r.out, "> ")
		line, ok, err := r.readLine(ctx)
		if err != nil || !ok {
			fmt.Fprintln(r.out)
			return err
		}
		quit, err := r.dispatch(ctx, strings.TrimSpace(line))
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// readLine blocks for the next input line. ok is false on EOF.
func (r *repl) readLine(ctx context.Context) (line string, ok bool, err error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case line, ok := <-r.lines:
		if ok {
			return line, true, nil
		}
		select {
		case err := <-r.scanErr:
			return "", false, err
		default:
			return "", false, nil
		}
	}
}

// dispatch runs one input line. The returned bool reports that the player
// asked to quit. Command errors are reported to the player, not fatal.
func (r *repl) dispatch(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.play(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		fmt.Fprintln(r.out, helpText)
		return false, nil
	case "/start":
		return false, r.start(ctx, arg)
	case "/end":
		return false, r.end(ctx)
	case "/stats":
		return false, r.stats(ctx)
	case "/characters":
		return false, r.listCharacters(ctx)
	case "/create":
		return false, r.createCharacter(ctx)
	case "/campaigns":
		return false, r.listCampaigns(ctx)
	case "/import":
		return false, r.importCampaign(ctx, arg)
	case "/quit", "/exit":
		return true, nil
	default:
		fmt.Fprintf(r.out, "unknown command %s (try /help)\n", cmd)
		return false, nil
	}
}

func (r *repl) play(ctx context.Context, action string) error {
	if !r.orch.Active() {
		fmt.Fprintln(r.out, "No active session. Use /start <character> first.")
		return nil
	}

	outcome, err := r.orch.ProcessActionStream(ctx, action, func(chunk string) error {
		_, err := fmt.Fprint(r.out, chunk)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out)

	for _, dice := range outcome.DiceNeeded {
		fmt.Fprintf(r.out, "  [roll %s]\n", dice.Die)
	}
	if outcome.Degraded {
		slog.Warn("action processed in degraded mode")
	}
	return nil
}

func (r *repl) start(ctx context.Context, arg string) error {
	if arg == "" {
		fmt.Fprintln(r.out, "usage: /start <character> [campaign]")
		return nil
	}
	charRef, campRef, _ := strings.Cut(arg, " ")

	char, err := r.resolveCharacter(ctx, charRef)
	if err != nil {
		return err
	}

	var campaignID string
	if campRef = strings.TrimSpace(campRef); campRef != "" {
		camp, err := r.resolveCampaign(ctx, campRef)
		if err != nil {
			return err
		}
		campaignID = camp.ID
	}

	sess, err := r.orch.StartSession(ctx, char.ID, campaignID)
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			fmt.Fprintln(r.out, "A session is already running. /end it first.")
			return nil
		}
		return err
	}
	fmt.Fprintf(r.out, "Session %s started. Playing %s, level %d %s %s.\n",
		sess.ID, char.Name, char.Level, char.Race, char.Class)
	fmt.Fprintln(r.out, "Describe what you do.")
	return nil
}

func (r *repl) end(ctx context.Context) error {
	stats, err := r.orch.Stats(ctx)
	if errors.Is(err, session.ErrNoActiveSession) {
		fmt.Fprintln(r.out, "No active session.")
		return nil
	}
	if err == nil {
		fmt.Fprintf(r.out, "Session ended after %d actions in %s.\n",
			stats.ActionCount, stats.Duration.Round(time.Second))
	}
	return r.orch.EndSession(ctx)
}

func (r *repl) stats(ctx context.Context) error {
	stats, err := r.orch.Stats(ctx)
	if errors.Is(err, session.ErrNoActiveSession) {
		fmt.Fprintln(r.out, "No active session.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Session %s: %d actions, running %s.\n",
		stats.SessionID, stats.ActionCount, stats.Duration.Round(time.Second))
	return nil
}

func (r *repl) listCharacters(ctx context.Context) error {
	chars, err := r.store.ListCharacters(ctx)
	if err != nil {
		return err
	}
	if len(chars) == 0 {
		fmt.Fprintln(r.out, "No characters yet. Use /create.")
		return nil
	}
	for _, c := range chars {
		fmt.Fprintf(r.out, "  %s  %s (level %d %s %s, %d/%d hp)\n",
			c.ID, c.Name, c.Level, c.Race, c.Class, c.HPCurrent, c.HPMax)
	}
	return nil
}

func (r *repl) listCampaigns(ctx context.Context) error {
	camps, err := r.store.ListCampaigns(ctx)
	if err != nil {
		return err
	}
	if len(camps) == 0 {
		fmt.Fprintln(r.out, "No campaigns yet. Use /import <path>.")
		return nil
	}
	for _, c := range camps {
		fmt.Fprintf(r.out, "  %s  %s\n", c.ID, c.Name)
	}
	return nil
}

func (r *repl) importCampaign(ctx context.Context, path string) error {
	if path == "" {
		fmt.Fprintln(r.out, "usage: /import <path>")
		return nil
	}
	camp, stats, err := r.importer.Import(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Imported %q: %d sections, %d NPCs, %d locations, %d fragments indexed.\n",
		camp.Name, stats.Sections, stats.NPCs, stats.Locations, stats.Fragments)
	return nil
}

// createCharacter walks the player through a minimal character sheet. Hit
// points derive from class hit die and Constitution per the 5e rules.
func (r *repl) createCharacter(ctx context.Context) error {
	name := r.ask(ctx, "Name")
	if name == "" {
		fmt.Fprintln(r.out, "cancelled")
		return nil
	}
	race := store.Race(strings.ToLower(r.ask(ctx, "Race (human, elf, dwarf, halfling, gnome, half-elf, half-orc, tiefling, dragonborn)")))
	class := store.Class(strings.ToLower(r.ask(ctx, "Class (barbarian, bard, cleric, druid, fighter, monk, paladin, ranger, rogue, sorcerer, warlock, wizard)")))

	abilities := store.AbilityScores{}
	for _, pair := range []struct {
		label string
		score *int
	}{
		{"Strength", &abilities.Strength},
		{"Dexterity", &abilities.Dexterity},
		{"Constitution", &abilities.Constitution},
		{"Intelligence", &abilities.Intelligence},
		{"Wisdom", &abilities.Wisdom},
		{"Charisma", &abilities.Charisma},
	} {
		*pair.score = r.askInt(ctx, pair.label+" (3-30)", 10)
	}

	hp := rules.MaxHP(string(class), 1, rules.Modifier(abilities.Constitution))
	c := store.Character{
		Name:       name,
		Race:       race,
		Class:      class,
		Level:      1,
		Abilities:  abilities,
		HPCurrent:  hp,
		HPMax:      hp,
		ArmorClass: 10 + rules.Modifier(abilities.Dexterity),
	}
	if err := store.ValidateCharacter(c); err != nil {
		return fmt.Errorf("invalid character: %w", err)
	}

	saved, err := r.store.SaveCharacter(ctx, c)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Created %s (%s): level 1 %s %s, %d hp, AC %d.\n",
		saved.Name, saved.ID, saved.Race, saved.Class, saved.HPMax, saved.ArmorClass)
	return nil
}

func (r *repl) ask(ctx context.Context, prompt string) string {
	fmt.Fprintf(r.out, "%s: ", prompt)
	line, ok, err := r.readLine(ctx)
	if err != nil || !ok {
		return ""
	}
	return strings.TrimSpace(line)
}

func (r *repl) askInt(ctx context.Context, prompt string, fallback int) int {
	raw := r.ask(ctx, prompt)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(r.out, "not a number, using %d\n", fallback)
		return fallback
	}
	return n
}

// resolveCharacter looks up a character by ID first, then by
// case-insensitive name.
func (r *repl) resolveCharacter(ctx context.Context, ref string) (store.Character, error) {
	c, err := r.store.GetCharacter(ctx, ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Character{}, err
	}
	chars, err := r.store.ListCharacters(ctx)
	if err != nil {
		return store.Character{}, err
	}
	for _, c := range chars {
		if strings.EqualFold(c.Name, ref) {
			return c, nil
		}
	}
	return store.Character{}, fmt.Errorf("character %q: %w", ref, store.ErrNotFound)
}

// resolveCampaign looks up a campaign by ID first, then by case-insensitive
// name.
func (r *repl) resolveCampaign(ctx context.Context, ref string) (store.Campaign, error) {
	c, err := r.store.GetCampaign(ctx, ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Campaign{}, err
	}
	camps, err := r.store.ListCampaigns(ctx)
	if err != nil {
		return store.Campaign{}, err
	}
	for _, c := range camps {
		if strings.EqualFold(c.Name, ref) {
			return c, nil
		}
	}
	return store.Campaign{}, fmt.Errorf("campaign %q: %w", ref, store.ErrNotFound)
}
