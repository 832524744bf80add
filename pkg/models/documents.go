// Package models contains the documents shared by the viewer and the agent.
package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// Capacity limits for the capped lists kept in documents.
const (
	MaxFeedbackLog       = 50
	MaxInsights          = 10
	MaxPatterns          = 10
	MaxRecentCompletions = 5
)

// Insight and pattern categories.
const (
	CategorySuccessfulPatterns  = "successful_patterns"
	CategoryAreasForImprovement = "areas_for_improvement"
	CategoryGeneralFeedback     = "general_feedback"

	PatternsFast = "fast_patterns"
	PatternsSlow = "slow_patterns"
)

// Identity query states.
const (
	QueryStatusPending   = "pending"
	QueryStatusProcessed = "processed"
)

// TimestampLayout is used for every timestamp written into a document.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp formats t in UTC with millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FeedbackEntry is one submission in the feedback log.
type FeedbackEntry struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Category  string `json:"category"`
	Note      string `json:"note"`
	Source    string `json:"source"`
	Extra     Extras `json:"-"`
}

var entryKeys = []string{"timestamp", "type", "category", "note", "source"}

// UnmarshalJSON keeps unknown keys in Extra.
func (e *FeedbackEntry) UnmarshalJSON(data []byte) error {
	type alias FeedbackEntry
	var a alias
	extras, err := decodeWithExtras(data, &a, entryKeys...)
	if err != nil {
		return err
	}
	*e = FeedbackEntry(a)
	e.Extra = extras
	return nil
}

// MarshalJSON writes Extra back next to the typed fields.
func (e FeedbackEntry) MarshalJSON() ([]byte, error) {
	type alias FeedbackEntry
	return encodeWithExtras(alias(e), e.Extra)
}

// IdentityQuery is the single-slot hand-off between the viewer and the polling agent.
type IdentityQuery struct {
	Timestamp       string `json:"timestamp"`
	Trigger         string `json:"trigger"`
	FeedbackContent string `json:"feedback_content"`
	QueryType       string `json:"query_type"`
	Status          string `json:"status"`
	Context         string `json:"context"`
	ProcessedAt     string `json:"processed_at,omitempty"`
	Extra           Extras `json:"-"`
}

var queryKeys = []string{"timestamp", "trigger", "feedback_content", "query_type", "status", "context", "processed_at"}

// UnmarshalJSON keeps unknown keys in Extra.
func (q *IdentityQuery) UnmarshalJSON(data []byte) error {
	type alias IdentityQuery
	var a alias
	extras, err := decodeWithExtras(data, &a, queryKeys...)
	if err != nil {
		return err
	}
	*q = IdentityQuery(a)
	q.Extra = extras
	return nil
}

// MarshalJSON writes Extra back next to the typed fields.
func (q IdentityQuery) MarshalJSON() ([]byte, error) {
	type alias IdentityQuery
	return encodeWithExtras(alias(q), q.Extra)
}

// identityPrefixLen is the number of content runes that take part in a query's identity.
const identityPrefixLen = 20

// Identity returns the key used to recognise a query that was already processed.
func (q *IdentityQuery) Identity() string {
	content := []rune(q.FeedbackContent)
	if len(content) > identityPrefixLen {
		content = content[:identityPrefixLen]
	}
	return q.Timestamp + "_" + string(content)
}

// IsPending reports whether the query still waits for the agent.
func (q *IdentityQuery) IsPending() bool {
	return q.Status == QueryStatusPending
}

// CurrentContext describes what is being worked on right now.
type CurrentContext struct {
	ActiveFocus    string `json:"active_focus"`
	ProgressStatus string `json:"progress_status"`
	NextPriority   string `json:"next_priority"`
	Extra          Extras `json:"-"`
}

var currentContextKeys = []string{"active_focus", "progress_status", "next_priority"}

// UnmarshalJSON keeps unknown keys in Extra.
func (c *CurrentContext) UnmarshalJSON(data []byte) error {
	type alias CurrentContext
	var a alias
	extras, err := decodeWithExtras(data, &a, currentContextKeys...)
	if err != nil {
		return err
	}
	*c = CurrentContext(a)
	c.Extra = extras
	return nil
}

// MarshalJSON writes Extra back next to the typed fields.
func (c CurrentContext) MarshalJSON() ([]byte, error) {
	type alias CurrentContext
	return encodeWithExtras(alias(c), c.Extra)
}

// Completion is one entry of ContextState.RecentCompletions.
type Completion struct {
	Task        string `json:"task"`
	CompletedAt string `json:"completed_at"`
	Notes       string `json:"notes,omitempty"`
	Extra       Extras `json:"-"`
}

var completionKeys = []string{"task", "completed_at", "notes"}

// UnmarshalJSON keeps unknown keys in Extra.
func (c *Completion) UnmarshalJSON(data []byte) error {
	type alias Completion
	var a alias
	extras, err := decodeWithExtras(data, &a, completionKeys...)
	if err != nil {
		return err
	}
	*c = Completion(a)
	c.Extra = extras
	return nil
}

// MarshalJSON writes Extra back next to the typed fields.
func (c Completion) MarshalJSON() ([]byte, error) {
	type alias Completion
	return encodeWithExtras(alias(c), c.Extra)
}

// defaultTodoStatus is written when context.json has no todo_status.
var defaultTodoStatus = json.RawMessage(`{"completed":0,"in_progress":0,"pending":0}`)

// ContextState is the content of context.json.
// RecentCompletions is kept newest-first. TodoStatus is owned by whoever
// writes context.json and is passed through untouched.
type ContextState struct {
	CurrentContext    CurrentContext  `json:"current_context"`
	RecentCompletions []Completion    `json:"recent_completions,omitempty"`
	TodoStatus        json.RawMessage `json:"todo_status"`
	LastUpdated       string          `json:"last_updated,omitempty"`
	Extra             Extras          `json:"-"`
}

var contextKeys = []string{"current_context", "recent_completions", "todo_status", "last_updated"}

// UnmarshalJSON keeps unknown keys in Extra.
func (c *ContextState) UnmarshalJSON(data []byte) error {
	type alias ContextState
	var a alias
	extras, err := decodeWithExtras(data, &a, contextKeys...)
	if err != nil {
		return err
	}
	*c = ContextState(a)
	c.Extra = extras
	return nil
}

// MarshalJSON writes Extra back next to the typed fields.
func (c ContextState) MarshalJSON() ([]byte, error) {
	type alias ContextState
	if len(c.TodoStatus) == 0 {
		c.TodoStatus = defaultTodoStatus
	}
	return encodeWithExtras(alias(c), c.Extra)
}

// AddCompletion inserts a completion at the head and evicts the oldest beyond the cap.
func (c *ContextState) AddCompletion(done Completion) {
	c.RecentCompletions = PrependCapped(c.RecentCompletions, done, MaxRecentCompletions)
}

// DefaultContext is served and mutated when context.json does not exist.
func DefaultContext() *ContextState {
	return &ContextState{
		CurrentContext: CurrentContext{
			ActiveFocus:    "Context file not found",
			ProgressStatus: "unknown",
			NextPriority:   "Create context.json",
		},
	}
}

// PerformanceNotes groups performance observations and user preferences.
type PerformanceNotes struct {
	FastPatterns    []string          `json:"fast_patterns"`
	SlowPatterns    []string          `json:"slow_patterns"`
	UserPreferences map[string]string `json:"user_preferences,omitempty"`
	Extra           Extras            `json:"-"`
}

var performanceKeys = []string{"fast_patterns", "slow_patterns", "user_preferences"}

// UnmarshalJSON keeps unknown keys in Extra.
func (p *PerformanceNotes) UnmarshalJSON(data []byte) error {
	type alias PerformanceNotes
	var a alias
	extras, err := decodeWithExtras(data, &a, performanceKeys...)
	if err != nil {
		return err
	}
	*p = PerformanceNotes(a)
	p.Extra = extras
	return nil
}

// MarshalJSON writes Extra back next to the typed fields.
func (p PerformanceNotes) MarshalJSON() ([]byte, error) {
	type alias PerformanceNotes
	if p.FastPatterns == nil {
		p.FastPatterns = []string{}
	}
	if p.SlowPatterns == nil {
		p.SlowPatterns = []string{}
	}
	return encodeWithExtras(alias(p), p.Extra)
}

// Patterns returns the list for a pattern type, or nil for an unknown type.
func (p *PerformanceNotes) Patterns(patternType string) *[]string {
	switch patternType {
	case PatternsFast:
		return &p.FastPatterns
	case PatternsSlow:
		return &p.SlowPatterns
	default:
		return nil
	}
}

// FeedbackDoc is the content of feedback.json.
type FeedbackDoc struct {
	ProjectMeta      map[string]any      `json:"project_meta,omitempty"`
	FeedbackLog      []FeedbackEntry     `json:"feedback_log"`
	PerformanceNotes PerformanceNotes    `json:"performance_notes"`
	Insights         map[string][]string `json:"insights"`
	Extra            Extras              `json:"-"`
}

var feedbackKeys = []string{"project_meta", "feedback_log", "performance_notes", "insights"}

// UnmarshalJSON keeps unknown keys in Extra.
func (f *FeedbackDoc) UnmarshalJSON(data []byte) error {
	type alias FeedbackDoc
	var a alias
	extras, err := decodeWithExtras(data, &a, feedbackKeys...)
	if err != nil {
		return err
	}
	*f = FeedbackDoc(a)
	f.Extra = extras
	return nil
}

// MarshalJSON writes Extra back next to the typed fields.
func (f FeedbackDoc) MarshalJSON() ([]byte, error) {
	type alias FeedbackDoc
	if f.FeedbackLog == nil {
		f.FeedbackLog = []FeedbackEntry{}
	}
	if f.Insights == nil {
		f.Insights = map[string][]string{}
	}
	return encodeWithExtras(alias(f), f.Extra)
}

// Touch refreshes project_meta.last_updated.
func (f *FeedbackDoc) Touch(now time.Time) {
	if f.ProjectMeta == nil {
		f.ProjectMeta = make(map[string]any)
	}
	f.ProjectMeta["last_updated"] = Timestamp(now)
}

// AppendEntry appends a log entry and evicts the oldest beyond the cap.
func (f *FeedbackDoc) AppendEntry(entry FeedbackEntry) {
	f.FeedbackLog = AppendCapped(f.FeedbackLog, entry, MaxFeedbackLog)
}

// AddInsight appends text to category unless it is already there.
// It reports whether the list changed.
func (f *FeedbackDoc) AddInsight(category, text string) bool {
	if f.Insights == nil {
		f.Insights = make(map[string][]string)
	}
	list, added := AppendUniqueCapped(f.Insights[category], text, MaxInsights)
	f.Insights[category] = list
	return added
}

// DefaultFeedback is served and mutated when feedback.json does not exist.
func DefaultFeedback() *FeedbackDoc {
	return &FeedbackDoc{
		FeedbackLog: []FeedbackEntry{},
		PerformanceNotes: PerformanceNotes{
			FastPatterns: []string{},
			SlowPatterns: []string{},
		},
		Insights: map[string][]string{
			CategorySuccessfulPatterns:  {},
			CategoryAreasForImprovement: {},
		},
	}
}

// Theme names.
const (
	ThemeDefault    = "default"
	ThemeZen        = "zen_mode"
	ThemePaperWhite = "paper_white"
	ThemeDark       = "dark_mode"
)

// UXConfig is the content of ux_config.json, polled by the viewer page.
type UXConfig struct {
	Theme       string            `json:"theme"`
	Colors      map[string]string `json:"colors"`
	Features    map[string]bool   `json:"features"`
	LastUpdated *string           `json:"last_updated"`
	Extra       Extras            `json:"-"`
}

var uxKeys = []string{"theme", "colors", "features", "last_updated"}

// UnmarshalJSON keeps unknown keys in Extra.
func (u *UXConfig) UnmarshalJSON(data []byte) error {
	type alias UXConfig
	var a alias
	extras, err := decodeWithExtras(data, &a, uxKeys...)
	if err != nil {
		return err
	}
	*u = UXConfig(a)
	u.Extra = extras
	return nil
}

// MarshalJSON writes Extra back next to the typed fields.
func (u UXConfig) MarshalJSON() ([]byte, error) {
	type alias UXConfig
	if u.Colors == nil {
		u.Colors = map[string]string{}
	}
	if u.Features == nil {
		u.Features = map[string]bool{}
	}
	return encodeWithExtras(alias(u), u.Extra)
}

// DefaultUXConfig is served and mutated when ux_config.json does not exist.
func DefaultUXConfig() *UXConfig {
	return &UXConfig{
		Theme:    ThemeDefault,
		Colors:   map[string]string{},
		Features: map[string]bool{},
	}
}
