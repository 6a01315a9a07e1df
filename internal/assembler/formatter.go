package assembler

import (
	"fmt"
	"strings"

	"github.com/MrWong99/taleweaver/internal/store"
	"github.com/MrWong99/taleweaver/pkg/memory"
)

// DefaultPromptBudget is the default character budget for [FormatPrompt].
const DefaultPromptBudget = 8000

// systemInstructions is the fixed DM persona. It always opens the prompt so
// retrieved lore can never override it.
const systemInstructions = `You are an experienced Dungeon Master running a D&D 5e campaign. ` +
	`Narrate vividly but concisely, stay consistent with established facts, ` +
	`and end with what the player perceives. When a situation calls for a ` +
	`dice roll, say which roll to make. Never speak for the player.`

// FormatPrompt renders an assembled [Context] into the generation prompt.
//
// The section order is a design contract: system instructions, character
// summary, campaign summary, retrieved fragments (nearest first), recent
// exchanges (oldest first), and always last the current action.
//
// budget caps the prompt length in characters; values <= 0 fall back to
// [DefaultPromptBudget]. When the full prompt would exceed the budget,
// retrieved fragments are evicted farthest-distance-first and then short-term
// exchanges oldest-first until the prompt fits. The fixed sections (system
// instructions, summaries, action) are never evicted.
//
// The formatter is pure: no I/O, no side effects, safe for concurrent use.
func FormatPrompt(c *Context, budget int) string {
	if budget <= 0 {
		budget = DefaultPromptBudget
	}

	fragments := c.Fragments
	recent := c.Recent

	for {
		prompt := render(c, fragments, recent)
		if len(prompt) <= budget {
			return prompt
		}
		switch {
		case len(fragments) > 0:
			// Results are distance-sorted; drop the least relevant.
			fragments = fragments[:len(fragments)-1]
		case len(recent) > 0:
			recent = recent[1:]
		default:
			return prompt
		}
	}
}

// render concatenates all sections in the fixed order. Empty sections are
// omitted entirely rather than rendering as empty headers.
func render(c *Context, fragments []memory.Result, recent []Exchange) string {
	var sb strings.Builder

	sb.WriteString(systemInstructions)

	sb.WriteString("\n\n## Character\n")
	sb.WriteString(formatCharacterSection(c.Character))

	if c.Campaign != nil {
		section := formatCampaignSection(c.Campaign)
		if section != "" {
			sb.WriteString("\n\n## Campaign\n")
			sb.WriteString(section)
		}
	}

	if len(fragments) > 0 {
		sb.WriteString("\n\n## Recalled Lore and Memories\n")
		sb.WriteString(formatFragmentsSection(fragments))
	}

	if len(recent) > 0 {
		sb.WriteString("\n\n## Recent Exchanges\n")
		sb.WriteString(formatRecentSection(recent))
	}

	sb.WriteString("\n\n## Player Action\n")
	sb.WriteString(c.Action)

	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// formatCharacterSection renders the sheet facts the narrator needs.
func formatCharacterSection(c store.Character) string {
	lines := []string{
		fmt.Sprintf("Name: %s", c.Name),
		fmt.Sprintf("Race and class: %s %s, level %d", c.Race, c.Class, c.Level),
		fmt.Sprintf("HP: %d/%d, AC: %d", c.HPCurrent, c.HPMax, c.ArmorClass),
	}
	if c.Background != "" {
		lines = append(lines, fmt.Sprintf("Background: %s", c.Background))
	}
	if len(c.SkillProficiencies) > 0 {
		lines = append(lines, fmt.Sprintf("Proficient skills: %s", strings.Join(c.SkillProficiencies, ", ")))
	}
	if len(c.Equipment) > 0 {
		lines = append(lines, fmt.Sprintf("Equipment: %s", strings.Join(c.Equipment, ", ")))
	}
	if c.Notes != "" {
		lines = append(lines, fmt.Sprintf("Notes: %s", c.Notes))
	}
	return strings.Join(lines, "\n")
}

// formatCampaignSection renders the campaign identity summary.
func formatCampaignSection(c *store.Campaign) string {
	var lines []string
	if c.Name != "" {
		lines = append(lines, fmt.Sprintf("Campaign: %s", c.Name))
	}
	if c.Description != "" {
		lines = append(lines, c.Description)
	}
	return strings.Join(lines, "\n")
}

// formatFragmentsSection renders retrieved fragments nearest first, one per line.
func formatFragmentsSection(fragments []memory.Result) string {
	lines := make([]string, 0, len(fragments))
	for _, f := range fragments {
		lines = append(lines, fmt.Sprintf("- %s", f.Fragment.Content))
	}
	return strings.Join(lines, "\n")
}

// formatRecentSection renders the short-term exchange tail with speaker labels.
func formatRecentSection(recent []Exchange) string {
	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		label := "Player"
		if e.Role == "dm" {
			label = "DM"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, e.Text))
	}
	return strings.Join(lines, "\n")
}
