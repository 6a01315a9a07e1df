package narrator

import "strings"

// DiceRequest describes a die roll the narrative asked the player to make.
type DiceRequest struct {
	// Die is the die type, e.g. "d20".
	Die string
	// Reason is a short label for why the roll is needed.
	Reason string
}

// Classification is the best-effort structured reading of a narrative.
// Both flags are independent; ambiguity yields no flags, never an error.
type Classification struct {
	ActionRequired bool
	DiceNeeded     []DiceRequest
}

// Classifier turns raw narrative text into a [Classification]. It is a
// pluggable strategy so the keyword heuristics can be swapped for a real
// structured-output contract without touching the orchestrator.
type Classifier interface {
	Classify(narrative string) Classification
}

// dicePatterns are the roll-indicating phrases and die tokens. A single match
// marks the narrative as requesting a roll.
var dicePatterns = []string{
	"roll a d", "make a", "roll for", "d20", "d12", "d10", "d8", "d6", "d4",
}

// dieTokens are the die types extracted into [Classification.DiceNeeded],
// largest first so "d20" is not shadowed by "d2".
var dieTokens = []string{"d20", "d12", "d10", "d8", "d6", "d4"}

// actionKeywords mark the narrative as waiting on a player decision.
var actionKeywords = []string{"roll", "choose", "decide", "what do you", "make a"}

// Compile-time interface check.
var _ Classifier = KeywordClassifier{}

// KeywordClassifier classifies narratives by case-insensitive substring
// matching. It is approximate by design: false positives and negatives are
// expected and must not break the pipeline.
type KeywordClassifier struct{}

// Classify implements [Classifier].
func (KeywordClassifier) Classify(narrative string) Classification {
	lower := strings.ToLower(narrative)

	var c Classification

	rollRequested := false
	for _, p := range dicePatterns {
		if strings.Contains(lower, p) {
			rollRequested = true
			break
		}
	}
	if rollRequested {
		for _, die := range dieTokens {
			if strings.Contains(lower, die) {
				c.DiceNeeded = append(c.DiceNeeded, DiceRequest{
					Die:    die,
					Reason: "skill check or attack",
				})
			}
		}
	}

	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw) {
			c.ActionRequired = true
			break
		}
	}

	return c
}
