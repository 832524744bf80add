// Package classifier maps free-text feedback to tagged document actions.
//
// Classification is keyword presence only: the lower-cased text is tested for
// substrings from a vocabulary table. False positives are expected.
package classifier

import (
	"fmt"
	"strings"

	"github.com/thebtf/ctxview/pkg/models"
)

// ActionType tags what a mutation does.
type ActionType string

const (
	UpdatePreferences ActionType = "update_preferences"
	UpdateContext     ActionType = "update_context"
	AddInsight        ActionType = "add_insight"
	UpdatePerformance ActionType = "update_performance"
	UpdateUX          ActionType = "update_ux"
)

// Action is a single mutation derived from feedback.
// Which fields are set depends on Type.
type Action struct {
	Type ActionType `json:"type"`

	// Text is the feedback the action records.
	Text string `json:"text"`

	// Category names the insight list (add_insight), the preference key
	// (update_preferences) or the context update kind (update_context).
	Category string `json:"category,omitempty"`

	// PatternType is fast_patterns or slow_patterns (update_performance).
	PatternType string `json:"pattern_type,omitempty"`

	// UX holds the config keys to merge (update_ux).
	UX map[string]any `json:"ux,omitempty"`
}

func (a Action) String() string {
	switch a.Type {
	case AddInsight, UpdatePreferences, UpdateContext:
		return fmt.Sprintf("%s(%s)", a.Type, a.Category)
	case UpdatePerformance:
		return fmt.Sprintf("%s(%s)", a.Type, a.PatternType)
	default:
		return string(a.Type)
	}
}

// Preference and context categories emitted by the classifier.
const (
	PreferenceUIDesign = "ui_design"
	ContextFocusUpdate = "focus_update"
)

// Classifier applies a vocabulary to feedback text.
type Classifier struct {
	vocab *Vocabulary
}

// New returns a classifier for vocab. A nil vocab uses DefaultVocabulary.
func New(vocab *Vocabulary) *Classifier {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Classifier{vocab: vocab}
}

// Classify returns the actions for text in a fixed order: UX, preferences,
// performance, issues, positives, context. Each matching keyword set adds
// one action. Text matching nothing yields a single general_feedback insight.
func (c *Classifier) Classify(text string) []Action {
	lower := strings.ToLower(text)
	var actions []Action

	if ux := c.uxUpdates(lower); len(ux) > 0 {
		actions = append(actions, Action{Type: UpdateUX, Text: text, UX: ux})
	}

	if matchAny(lower, c.vocab.UI) {
		actions = append(actions, Action{Type: UpdatePreferences, Text: text, Category: PreferenceUIDesign})
	}

	if matchAny(lower, c.vocab.Performance) {
		patternType := models.PatternsFast
		if matchAny(lower, c.vocab.Slow) {
			patternType = models.PatternsSlow
		}
		actions = append(actions, Action{Type: UpdatePerformance, Text: text, PatternType: patternType})
	}

	if matchAny(lower, c.vocab.Issue) {
		actions = append(actions, Action{Type: AddInsight, Text: text, Category: models.CategoryAreasForImprovement})
	}

	if matchAny(lower, c.vocab.Positive) {
		actions = append(actions, Action{Type: AddInsight, Text: text, Category: models.CategorySuccessfulPatterns})
	}

	if matchAny(lower, c.vocab.Focus) {
		actions = append(actions, Action{Type: UpdateContext, Text: text, Category: ContextFocusUpdate})
	}

	if len(actions) == 0 {
		actions = append(actions, Action{Type: AddInsight, Text: text, Category: models.CategoryGeneralFeedback})
	}
	return actions
}

// UXUpdates runs only the UX part of the vocabulary. The viewer uses it to
// restyle the page in the same request that accepted the feedback.
func (c *Classifier) UXUpdates(text string) map[string]any {
	return c.uxUpdates(strings.ToLower(text))
}

func (c *Classifier) uxUpdates(lower string) map[string]any {
	updates := make(map[string]any)

	// First matching theme wins.
	for _, theme := range c.vocab.Themes {
		if matchAny(lower, theme.Keywords) {
			updates["theme"] = theme.Name
			for key, value := range theme.Colors {
				updates[key] = value
			}
			break
		}
	}

	for _, feature := range c.vocab.Features {
		if matchAny(lower, feature.Keywords) {
			updates[feature.Flag] = true
		}
	}

	if len(updates) == 0 {
		return nil
	}
	return updates
}

func matchAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
