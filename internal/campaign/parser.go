// Package campaign imports campaign documents: it parses plain-text or
// Roll20-export files into a structured campaign plus tagged entities, and
// writes the results to the structured store and the semantic index.
package campaign

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultNameSimilarity is the Jaro-Winkler score at or above which two
// entity names are treated as the same entity during dedupe.
const DefaultNameSimilarity = 0.90

// Per-kind extraction caps, so a pathological document cannot flood the
// semantic index with thousands of near-identical fragments.
const (
	maxNPCs       = 20
	maxLocations  = 15
	maxEncounters = 10
	maxItems      = 20
	maxPlotHooks  = 10
)

// Entity is a named thing extracted from a campaign document.
type Entity struct {
	// Name is the entity's proper name, trimmed of the tagged prefix and of
	// trailing prose.
	Name string

	// Description is the full source line the entity was extracted from.
	Description string

	// Kind is "npc", "location", "encounter" or "item".
	Kind string
}

// Section is one titled block of campaign content.
type Section struct {
	// Title is the heading text, empty for untitled lead content.
	Title string

	// Body is the section's text.
	Body string
}

// Parsed is the structured result of parsing one campaign document.
type Parsed struct {
	Name        string
	Description string
	Content     string
	Sections    []Section
	NPCs        []Entity
	Locations   []Entity
	Encounters  []Entity
	Items       []Entity
	PlotHooks   []string

	// Format tags the source: "text" or "roll20".
	Format string

	Metadata map[string]string
}

// SupportedFormats lists the file extensions [ParseFile] accepts.
func SupportedFormats() []string {
	return []string{".txt", ".md", ".json"}
}

// ParseFile reads and parses a campaign document, picking the parser from the
// file extension: .txt and .md are plain text, .json is a Roll20 export.
func ParseFile(path string) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("campaign: read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md":
		return ParseText(nameFromPath(path), string(data)), nil
	case ".json":
		return parseRoll20(nameFromPath(path), data)
	default:
		return nil, fmt.Errorf("campaign: unsupported file type %q", ext)
	}
}

// nameFromPath turns "campaigns/sunken_vale-intro.txt" into "Sunken Vale Intro".
func nameFromPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	words := strings.Fields(stem)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ─────────────────────────────────────────────────────────────────────────────
// Plain text
// ─────────────────────────────────────────────────────────────────────────────

var (
	npcLine       = regexp.MustCompile(`(?im)^(?:NPC|Character):\s*(.+)$`)
	locationLine  = regexp.MustCompile(`(?im)^(?:Location|Place|Area|Town|City|Village|Dungeon):\s*(.+)$`)
	encounterLine = regexp.MustCompile(`(?im)^(?:Encounter|Combat|Fight|Battle):\s*(.+)$`)
	itemLine      = regexp.MustCompile(`(?im)^(?:Item|Treasure|Magic Item|Weapon|Armor):\s*(.+)$`)
	plotHookLine  = regexp.MustCompile(`(?im)^(?:Plot Hook|Adventure Hook|Hook):\s*(.+)$`)
	headingLine   = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)

	// nameStop marks where a proper name ends and prose or punctuation begins.
	nameStop = regexp.MustCompile(`\s+(?:is|was|are|were|lives|works|guards|rules|owns)\b|[,.;:(]`)
)

// ParseText parses a plain-text campaign document. Tagged lines ("NPC: ...",
// "Location: ...") yield entities; markdown headings split the content into
// sections; the first substantial line becomes the description.
func ParseText(name, text string) *Parsed {
	p := &Parsed{
		Name:        name,
		Description: deriveDescription(text),
		Content:     text,
		Sections:    splitSections(text),
		NPCs:        extractEntities(text, npcLine, "npc", maxNPCs),
		Locations:   extractEntities(text, locationLine, "location", maxLocations),
		Encounters:  extractEntities(text, encounterLine, "encounter", maxEncounters),
		Items:       extractEntities(text, itemLine, "item", maxItems),
		PlotHooks:   extractPlotHooks(text),
		Format:      "text",
	}
	p.Metadata = map[string]string{
		"line_count": strconv.Itoa(strings.Count(text, "\n") + 1),
		"word_count": strconv.Itoa(len(strings.Fields(text))),
	}
	return p
}

// deriveDescription takes the first line longer than 50 characters, capped at
// 500.
func deriveDescription(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if len(line) > 50 {
			if len(line) > 500 {
				return line[:500]
			}
			return line
		}
	}
	return ""
}

// splitSections breaks the document at markdown headings. Text before the
// first heading, and documents without headings, become one untitled section.
func splitSections(text string) []Section {
	idx := headingLine.FindAllStringSubmatchIndex(text, -1)
	if len(idx) == 0 {
		body := strings.TrimSpace(text)
		if body == "" {
			return nil
		}
		return []Section{{Body: body}}
	}

	var sections []Section
	if lead := strings.TrimSpace(text[:idx[0][0]]); lead != "" {
		sections = append(sections, Section{Body: lead})
	}
	for i, m := range idx {
		title := strings.TrimSpace(text[m[2]:m[3]])
		end := len(text)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		body := strings.TrimSpace(text[m[1]:end])
		if body == "" && title == "" {
			continue
		}
		sections = append(sections, Section{Title: title, Body: body})
	}
	return sections
}

func extractEntities(text string, re *regexp.Regexp, kind string, limit int) []Entity {
	var entities []Entity
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		line := strings.TrimSpace(m[1])
		name := line
		if loc := nameStop.FindStringIndex(line); loc != nil {
			name = line[:loc[0]]
		}
		name = strings.TrimSpace(name)
		if len(name) < 3 || len(name) > 50 {
			continue
		}
		entities = append(entities, Entity{Name: name, Description: line, Kind: kind})
	}
	entities = DedupeEntities(entities, DefaultNameSimilarity)
	if len(entities) > limit {
		entities = entities[:limit]
	}
	return entities
}

func extractPlotHooks(text string) []string {
	var hooks []string
	for _, m := range plotHookLine.FindAllStringSubmatch(text, -1) {
		hook := strings.TrimSpace(m[1])
		if len(hook) > 10 {
			hooks = append(hooks, hook)
		}
		if len(hooks) == maxPlotHooks {
			break
		}
	}
	return hooks
}

// DedupeEntities drops entities whose name is a near-duplicate (Jaro-Winkler
// similarity at or above threshold) of an earlier entity's name. The first
// occurrence wins.
func DedupeEntities(entities []Entity, threshold float64) []Entity {
	var unique []Entity
	for _, e := range entities {
		dup := false
		for _, kept := range unique {
			if matchr.JaroWinkler(strings.ToLower(e.Name), strings.ToLower(kept.Name), false) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, e)
		}
	}
	return unique
}

// ─────────────────────────────────────────────────────────────────────────────
// Roll20 exports
// ─────────────────────────────────────────────────────────────────────────────

type roll20Export struct {
	Campaign struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"campaign"`
	Characters []struct {
		Name         string `json:"name"`
		Bio          string `json:"bio"`
		ControlledBy string `json:"controlledby"`
	} `json:"characters"`
	Handouts []struct {
		Name  string `json:"name"`
		Notes string `json:"notes"`
	} `json:"handouts"`
}

var locationKeywords = []string{"location", "map", "area", "place"}

// parseRoll20 parses a Roll20 campaign export. Characters without a
// controller are NPCs; handouts whose names mention a location keyword become
// locations; all handout notes are concatenated into the content.
func parseRoll20(fallbackName string, data []byte) (*Parsed, error) {
	var export roll20Export
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("campaign: parse roll20 export: %w", err)
	}

	name := export.Campaign.Name
	if name == "" {
		name = fallbackName
	}

	p := &Parsed{
		Name:        name,
		Description: export.Campaign.Description,
		Format:      "roll20",
		Metadata: map[string]string{
			"character_count": strconv.Itoa(len(export.Characters)),
			"handout_count":   strconv.Itoa(len(export.Handouts)),
		},
	}

	for _, c := range export.Characters {
		if strings.TrimSpace(c.ControlledBy) != "" {
			continue
		}
		p.NPCs = append(p.NPCs, Entity{Name: c.Name, Description: c.Bio, Kind: "npc"})
	}
	p.NPCs = DedupeEntities(p.NPCs, DefaultNameSimilarity)

	parts := []string{export.Campaign.Description}
	for _, h := range export.Handouts {
		lower := strings.ToLower(h.Name)
		for _, kw := range locationKeywords {
			if strings.Contains(lower, kw) {
				p.Locations = append(p.Locations, Entity{Name: h.Name, Description: h.Notes, Kind: "location"})
				break
			}
		}
		if h.Notes != "" {
			parts = append(parts, h.Notes)
			p.Sections = append(p.Sections, Section{Title: h.Name, Body: h.Notes})
		}
	}

	var nonEmpty []string
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	p.Content = strings.Join(nonEmpty, "\n\n")
	p.PlotHooks = extractPlotHooks(p.Content)
	return p, nil
}
