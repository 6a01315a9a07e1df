package store

import (
	"errors"
	"fmt"

	"github.com/MrWong99/taleweaver/internal/rules"
)

// ValidateCharacter checks a [Character] for required fields and legal values.
//
// Rules:
//   - Name must be non-empty.
//   - Race and Class must be recognised enumerations.
//   - Level must be 1-20.
//   - Every ability score must be 3-30.
//   - HPCurrent must not exceed HPMax.
//   - Every skill proficiency must name a known skill.
func ValidateCharacter(c Character) error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if !c.Race.IsValid() {
		errs = append(errs, fmt.Errorf("race %q is not a recognised race", c.Race))
	}
	if !c.Class.IsValid() {
		errs = append(errs, fmt.Errorf("class %q is not a recognised class", c.Class))
	}
	if c.Level < 1 || c.Level > 20 {
		errs = append(errs, fmt.Errorf("level %d is out of range 1-20", c.Level))
	}

	for _, ability := range rules.Abilities() {
		score := c.Abilities.Score(ability)
		if score < 3 || score > 30 {
			errs = append(errs, fmt.Errorf("%s score %d is out of range 3-30", ability, score))
		}
	}

	if c.HPCurrent > c.HPMax {
		errs = append(errs, fmt.Errorf("current hp %d exceeds max hp %d", c.HPCurrent, c.HPMax))
	}

	for _, skill := range c.SkillProficiencies {
		if _, ok := rules.SkillAbility[skill]; !ok {
			errs = append(errs, fmt.Errorf("skill %q is not a recognised skill", skill))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
