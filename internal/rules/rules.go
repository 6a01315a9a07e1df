// Package rules implements the D&D 5e arithmetic the rest of the system
// depends on: ability modifiers, proficiency bonuses, hit-point progression,
// and skill-check modifiers.
//
// Everything here is a pure function over plain values. No I/O, no state,
// safe for concurrent use.
package rules

// Ability names the six core ability scores.
type Ability string

const (
	Strength     Ability = "strength"
	Dexterity    Ability = "dexterity"
	Constitution Ability = "constitution"
	Intelligence Ability = "intelligence"
	Wisdom       Ability = "wisdom"
	Charisma     Ability = "charisma"
)

// Abilities lists all six abilities in standard order.
func Abilities() []Ability {
	return []Ability{Strength, Dexterity, Constitution, Intelligence, Wisdom, Charisma}
}

// SkillAbility maps each of the eighteen skills to its governing ability.
var SkillAbility = map[string]Ability{
	"acrobatics":      Dexterity,
	"animal handling": Wisdom,
	"arcana":          Intelligence,
	"athletics":       Strength,
	"deception":       Charisma,
	"history":         Intelligence,
	"insight":         Wisdom,
	"intimidation":    Charisma,
	"investigation":   Intelligence,
	"medicine":        Wisdom,
	"nature":          Intelligence,
	"perception":      Wisdom,
	"performance":     Charisma,
	"persuasion":      Charisma,
	"religion":        Intelligence,
	"sleight of hand": Dexterity,
	"stealth":         Dexterity,
	"survival":        Wisdom,
}

// Modifier returns the ability modifier for a score: floor((score-10)/2).
// Score 10 gives 0, score 15 gives +2, score 8 gives -1.
func Modifier(score int) int {
	d := score - 10
	if d < 0 {
		// Integer division truncates toward zero; shift to get floor.
		return (d - 1) / 2
	}
	return d / 2
}

// ProficiencyBonus returns the proficiency bonus for a character level:
// 2 + floor((level-1)/4). Levels 1-4 give +2, 5-8 give +3, 17-20 give +6.
func ProficiencyBonus(level int) int {
	if level < 1 {
		level = 1
	}
	if level > 20 {
		level = 20
	}
	return 2 + (level-1)/4
}

// HitDie returns the size of the hit die for a 5e class. Unknown classes
// default to a d8.
func HitDie(class string) int {
	switch class {
	case "barbarian":
		return 12
	case "fighter", "paladin", "ranger":
		return 10
	case "sorcerer", "wizard":
		return 6
	default:
		return 8
	}
}

// MaxHP returns the maximum hit points for a class at a level with a given
// Constitution modifier, using the fixed average progression: full hit die
// plus modifier at level 1, then die/2+1 plus modifier per further level.
func MaxHP(class string, level, conModifier int) int {
	if level < 1 {
		level = 1
	}
	die := HitDie(class)
	hp := die + conModifier
	hp += (level - 1) * (die/2 + 1 + conModifier)
	if hp < 1 {
		hp = 1
	}
	return hp
}

// SkillModifier returns the total modifier for a skill check: the governing
// ability's modifier, plus the proficiency bonus when proficient.
func SkillModifier(abilityScore int, proficient bool, level int) int {
	m := Modifier(abilityScore)
	if proficient {
		m += ProficiencyBonus(level)
	}
	return m
}
