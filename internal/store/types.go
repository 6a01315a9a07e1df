// Package store provides durable relational persistence for characters,
// campaigns, play sessions, and the per-session action log.
//
// The action log is the system of record for what happened at the table:
// writes to it must never be silently dropped. The semantic memory index
// (pkg/memory) is a separate, loosely coupled store keyed by metadata only.
package store

import (
	"time"

	"github.com/MrWong99/taleweaver/internal/rules"
)

// Race is a playable character race.
type Race string

const (
	RaceHuman      Race = "human"
	RaceElf        Race = "elf"
	RaceDwarf      Race = "dwarf"
	RaceHalfling   Race = "halfling"
	RaceGnome      Race = "gnome"
	RaceHalfElf    Race = "half-elf"
	RaceHalfOrc    Race = "half-orc"
	RaceTiefling   Race = "tiefling"
	RaceDragonborn Race = "dragonborn"
)

// IsValid reports whether r is a recognised race.
func (r Race) IsValid() bool {
	switch r {
	case RaceHuman, RaceElf, RaceDwarf, RaceHalfling, RaceGnome,
		RaceHalfElf, RaceHalfOrc, RaceTiefling, RaceDragonborn:
		return true
	}
	return false
}

// Class is a playable character class.
type Class string

const (
	ClassBarbarian Class = "barbarian"
	ClassBard      Class = "bard"
	ClassCleric    Class = "cleric"
	ClassDruid     Class = "druid"
	ClassFighter   Class = "fighter"
	ClassMonk      Class = "monk"
	ClassPaladin   Class = "paladin"
	ClassRanger    Class = "ranger"
	ClassRogue     Class = "rogue"
	ClassSorcerer  Class = "sorcerer"
	ClassWarlock   Class = "warlock"
	ClassWizard    Class = "wizard"
)

// IsValid reports whether c is a recognised class.
func (c Class) IsValid() bool {
	switch c {
	case ClassBarbarian, ClassBard, ClassCleric, ClassDruid, ClassFighter,
		ClassMonk, ClassPaladin, ClassRanger, ClassRogue, ClassSorcerer,
		ClassWarlock, ClassWizard:
		return true
	}
	return false
}

// AbilityScores holds the six core scores. Valid scores are 3-30.
type AbilityScores struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// Score returns the score for the named ability, or 0 for an unknown name.
func (a AbilityScores) Score(ability rules.Ability) int {
	switch ability {
	case rules.Strength:
		return a.Strength
	case rules.Dexterity:
		return a.Dexterity
	case rules.Constitution:
		return a.Constitution
	case rules.Intelligence:
		return a.Intelligence
	case rules.Wisdom:
		return a.Wisdom
	case rules.Charisma:
		return a.Charisma
	}
	return 0
}

// Character is a player character sheet.
type Character struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Race       Race          `json:"race"`
	Class      Class         `json:"class"`
	Background string        `json:"background"`
	Level      int           `json:"level"`
	Abilities  AbilityScores `json:"abilities"`
	HPCurrent  int           `json:"hp_current"`
	HPMax      int           `json:"hp_max"`
	ArmorClass int           `json:"armor_class"`

	// SkillProficiencies is the set of skill names the character is
	// proficient in. Each must be a key of rules.SkillAbility.
	SkillProficiencies []string `json:"skill_proficiencies,omitempty"`

	Equipment []string `json:"equipment,omitempty"`
	Spells    []string `json:"spells,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// ProficiencyBonus returns the character's proficiency bonus derived from level.
func (c Character) ProficiencyBonus() int {
	return rules.ProficiencyBonus(c.Level)
}

// AbilityModifier returns the modifier for the named ability.
func (c Character) AbilityModifier(ability rules.Ability) int {
	return rules.Modifier(c.Abilities.Score(ability))
}

// SkillModifier returns the total modifier for a skill check, including the
// proficiency bonus when the character is proficient in the skill.
func (c Character) SkillModifier(skill string) int {
	ability, ok := rules.SkillAbility[skill]
	if !ok {
		return 0
	}
	proficient := false
	for _, s := range c.SkillProficiencies {
		if s == skill {
			proficient = true
			break
		}
	}
	return rules.SkillModifier(c.Abilities.Score(ability), proficient, c.Level)
}

// Campaign is an imported campaign document. Content is append-only; there
// are no in-place edits after import.
type Campaign struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Content     string            `json:"content"`
	SourcePath  string            `json:"source_path,omitempty"`
	SourceFmt   string            `json:"source_format,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SessionStatus is the lifecycle state of a play session.
type SessionStatus string

const (
	// SessionActive means the session is in progress.
	SessionActive SessionStatus = "active"
	// SessionEnded means the session has finished; EndedAt is set.
	SessionEnded SessionStatus = "ended"
)

// Session is one sitting of play for a character, optionally within a campaign.
// Once ended, a session is never reopened.
type Session struct {
	ID          string        `json:"id"`
	CharacterID string        `json:"character_id"`
	CampaignID  string        `json:"campaign_id,omitempty"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
}

// DiceRequest describes a die roll the narrative asked the player for.
type DiceRequest struct {
	// Die is the die type, e.g. "d20".
	Die string `json:"die"`
	// Reason is the surrounding text that triggered the request.
	Reason string `json:"reason,omitempty"`
}

// ActionRecord is one player action and the DM response it produced.
// Records are append-only; Seq orders them within a session.
type ActionRecord struct {
	SessionID    string    `json:"session_id"`
	Seq          int       `json:"seq"`
	PlayerAction string    `json:"player_action"`
	Narrative    string    `json:"narrative"`
	Timestamp    time.Time `json:"timestamp"`

	// ActionRequired reports whether the narrative asked the player to act.
	ActionRequired bool `json:"action_required,omitempty"`
	// DiceNeeded lists die rolls the narrative asked for.
	DiceNeeded []DiceRequest `json:"dice_needed,omitempty"`
	// Degraded reports that the semantic-memory write for this action failed
	// and the fragment was lost.
	Degraded bool `json:"degraded,omitempty"`
}

// SessionStats summarises a session's action log.
type SessionStats struct {
	SessionID   string        `json:"session_id"`
	ActionCount int           `json:"action_count"`
	Duration    time.Duration `json:"duration"`
}
