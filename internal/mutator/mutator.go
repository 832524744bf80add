// Package mutator applies classified feedback to the document store.
package mutator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/thebtf/ctxview/internal/classifier"
	"github.com/thebtf/ctxview/internal/privacy"
	"github.com/thebtf/ctxview/internal/store"
	"github.com/thebtf/ctxview/pkg/models"
)

// Defaults filled into feedback entries that omit them.
const (
	DefaultEntryType     = "quick_note"
	DefaultEntryCategory = "user_input"

	SourceWebForm = "web_form"
	SourceManual  = "manual_update"
	SourceChannel = "pubsub"
)

// Identity query constants written by SubmitQuery.
const (
	QueryTrigger = "feedback_submitted"
	QueryType    = "identity_update"
	QueryContext = "User submitted feedback that should be processed by the agent"
)

// ErrQuerySuperseded is returned by MarkProcessed when a newer submission
// replaced the query in the meantime.
var ErrQuerySuperseded = errors.New("identity query superseded")

// FocusUpdate changes the current context. Empty fields are left unchanged.
type FocusUpdate struct {
	ActiveFocus    string `json:"active_focus,omitempty"`
	ProgressStatus string `json:"progress_status,omitempty"`
	NextPriority   string `json:"next_priority,omitempty"`
	Completion     string `json:"completion,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u FocusUpdate) IsEmpty() bool {
	return u == FocusUpdate{}
}

// Mutator performs whole-document read-modify-write updates.
type Mutator struct {
	docs *store.Documents
	log  zerolog.Logger
	now  func() time.Time
}

// New creates a mutator over docs.
func New(docs *store.Documents, log zerolog.Logger) *Mutator {
	return &Mutator{
		docs: docs,
		log:  log.With().Str("component", "mutator").Logger(),
		now:  time.Now,
	}
}

// SetClock replaces the time source.
func (m *Mutator) SetClock(now func() time.Time) {
	m.now = now
}

// Documents returns the store the mutator writes to.
func (m *Mutator) Documents() *store.Documents {
	return m.docs
}

// Apply performs a single classified action.
func (m *Mutator) Apply(ctx context.Context, a classifier.Action) error {
	switch a.Type {
	case classifier.UpdatePreferences:
		return m.UpdatePreference(ctx, a.Category, a.Text)
	case classifier.UpdateContext:
		return m.AddCompletion(ctx, a.Text)
	case classifier.AddInsight:
		return m.AddInsight(ctx, a.Category, a.Text)
	case classifier.UpdatePerformance:
		return m.AddPattern(ctx, a.PatternType, a.Text)
	case classifier.UpdateUX:
		return m.MergeUX(ctx, a.UX)
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// UpdatePreference overwrites performance_notes.user_preferences[category].
func (m *Mutator) UpdatePreference(ctx context.Context, category, text string) error {
	err := m.docs.UpdateFeedback(ctx, func(doc *models.FeedbackDoc) error {
		if doc.PerformanceNotes.UserPreferences == nil {
			doc.PerformanceNotes.UserPreferences = make(map[string]string)
		}
		doc.PerformanceNotes.UserPreferences[category] = text
		doc.Touch(m.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("update preference %s: %w", category, err)
	}
	m.log.Debug().Str("category", category).Msg("Updated preference")
	return nil
}

// AddCompletion records feedback as the newest entry of recent_completions.
func (m *Mutator) AddCompletion(ctx context.Context, text string) error {
	now := m.now()
	err := m.docs.UpdateContext(ctx, func(state *models.ContextState) error {
		state.AddCompletion(models.Completion{
			Task:        "User feedback: " + text,
			CompletedAt: models.Timestamp(now),
			Notes:       "User-provided feedback processed by agent",
		})
		state.LastUpdated = models.Timestamp(now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update context: %w", err)
	}
	m.log.Debug().Msg("Added completion to context")
	return nil
}

// AddInsight appends text to an insight category unless already present.
func (m *Mutator) AddInsight(ctx context.Context, category, text string) error {
	added := false
	err := m.docs.UpdateFeedback(ctx, func(doc *models.FeedbackDoc) error {
		added = doc.AddInsight(category, text)
		doc.Touch(m.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("add insight %s: %w", category, err)
	}
	m.log.Debug().Str("category", category).Bool("added", added).Msg("Recorded insight")
	return nil
}

// AddPattern appends text to fast_patterns or slow_patterns unless already present.
func (m *Mutator) AddPattern(ctx context.Context, patternType, text string) error {
	err := m.docs.UpdateFeedback(ctx, func(doc *models.FeedbackDoc) error {
		list := doc.PerformanceNotes.Patterns(patternType)
		if list == nil {
			return fmt.Errorf("unknown pattern type %q", patternType)
		}
		*list, _ = models.AppendUniqueCapped(*list, text, models.MaxPatterns)
		doc.Touch(m.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("update performance %s: %w", patternType, err)
	}
	m.log.Debug().Str("pattern_type", patternType).Msg("Recorded performance note")
	return nil
}

// MergeUX merges updates into ux_config.json.
func (m *Mutator) MergeUX(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	err := m.docs.UpdateUXConfig(ctx, func(cfg *models.UXConfig) error {
		return cfg.Merge(updates, m.now())
	})
	if err != nil {
		return fmt.Errorf("update ux config: %w", err)
	}
	m.log.Info().Strs("keys", sortedKeys(updates)).Msg("UX config updated")
	return nil
}

// NewEntry normalizes a submitted note into a feedback log entry.
func (m *Mutator) NewEntry(note, entryType, category, timestamp, source string) models.FeedbackEntry {
	entry, redacted := Normalize(models.FeedbackEntry{
		Timestamp: timestamp,
		Type:      entryType,
		Category:  category,
		Note:      note,
		Source:    source,
	}, m.now())
	if len(redacted) > 0 {
		m.log.Warn().
			Strs("kinds", redacted).
			Str("source", source).
			Msg("Redacted credentials from feedback")
	}
	return entry
}

// Normalize trims the note, redacts credentials in it and fills the fields
// a submitter may omit. It also returns the kinds of credential removed.
func Normalize(entry models.FeedbackEntry, now time.Time) (models.FeedbackEntry, []string) {
	var redacted []string
	entry.Note, redacted = privacy.Redact(strings.TrimSpace(entry.Note))
	if entry.Timestamp == "" {
		entry.Timestamp = models.Timestamp(now)
	}
	if entry.Type == "" {
		entry.Type = DefaultEntryType
	}
	if entry.Category == "" {
		entry.Category = DefaultEntryCategory
	}
	return entry, redacted
}

// AppendFeedback appends an entry to the feedback log.
func (m *Mutator) AppendFeedback(ctx context.Context, entry models.FeedbackEntry) error {
	err := m.docs.UpdateFeedback(ctx, func(doc *models.FeedbackDoc) error {
		doc.AppendEntry(entry)
		doc.Touch(m.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

// SubmitQuery writes a fresh pending identity query, replacing any previous one.
func (m *Mutator) SubmitQuery(ctx context.Context, content string) (*models.IdentityQuery, error) {
	q := &models.IdentityQuery{
		Timestamp:       models.Timestamp(m.now()),
		Trigger:         QueryTrigger,
		FeedbackContent: content,
		QueryType:       QueryType,
		Status:          models.QueryStatusPending,
		Context:         QueryContext,
	}
	if err := m.docs.SaveQuery(ctx, q); err != nil {
		return nil, fmt.Errorf("write identity query: %w", err)
	}
	return q, nil
}

// MarkProcessed moves the stored query to processed if it is still q.
func (m *Mutator) MarkProcessed(ctx context.Context, q *models.IdentityQuery) error {
	id := q.Identity()
	return m.docs.UpdateQuery(ctx, func(stored *models.IdentityQuery) error {
		if stored.Identity() != id {
			return ErrQuerySuperseded
		}
		stored.Status = models.QueryStatusProcessed
		stored.ProcessedAt = models.Timestamp(m.now())
		return nil
	})
}

// UpdateFocus changes current_context and optionally records a completion.
func (m *Mutator) UpdateFocus(ctx context.Context, u FocusUpdate) error {
	if u.IsEmpty() {
		return errors.New("empty focus update")
	}
	now := m.now()
	err := m.docs.UpdateContext(ctx, func(state *models.ContextState) error {
		if u.ActiveFocus != "" {
			state.CurrentContext.ActiveFocus = u.ActiveFocus
		}
		if u.ProgressStatus != "" {
			state.CurrentContext.ProgressStatus = u.ProgressStatus
		}
		if u.NextPriority != "" {
			state.CurrentContext.NextPriority = u.NextPriority
		}
		if u.Completion != "" {
			state.AddCompletion(models.Completion{Task: u.Completion, CompletedAt: models.Timestamp(now)})
		}
		state.LastUpdated = models.Timestamp(now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update focus: %w", err)
	}
	m.log.Info().Str("focus", u.ActiveFocus).Msg("Context focus updated")
	return nil
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
