package models

import (
	"fmt"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackDoc_KeepsUnknownKeys(t *testing.T) {
	input := `{
		"project_meta": {"name": "viewer", "last_updated": "old"},
		"feedback_log": [],
		"performance_notes": {"fast_patterns": [], "slow_patterns": [], "build_times": ["3s"]},
		"insights": {"successful_patterns": ["a"]},
		"session_notes": {"owner": "ops"}
	}`

	var doc FeedbackDoc
	require.NoError(t, json.Unmarshal([]byte(input), &doc))
	assert.Contains(t, doc.Extra, "session_notes")
	assert.Contains(t, doc.PerformanceNotes.Extra, "build_times")

	doc.Touch(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	out, err := json.Marshal(doc)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, map[string]any{"owner": "ops"}, generic["session_notes"])

	meta := generic["project_meta"].(map[string]any)
	assert.Equal(t, "viewer", meta["name"])
	assert.Equal(t, "2026-01-02T03:04:05.000Z", meta["last_updated"])

	notes := generic["performance_notes"].(map[string]any)
	assert.Equal(t, []any{"3s"}, notes["build_times"])
}

func TestContextState_DefaultShape(t *testing.T) {
	out, err := json.Marshal(DefaultContext())
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))

	current := generic["current_context"].(map[string]any)
	assert.Equal(t, "Context file not found", current["active_focus"])
	assert.Equal(t, map[string]any{"completed": float64(0), "in_progress": float64(0), "pending": float64(0)}, generic["todo_status"])
	assert.NotContains(t, generic, "recent_completions")
}

func TestContextState_AddCompletionNewestFirst(t *testing.T) {
	var state ContextState
	for i := 1; i <= 7; i++ {
		state.AddCompletion(Completion{Task: fmt.Sprintf("task %d", i)})
	}

	require.Len(t, state.RecentCompletions, MaxRecentCompletions)
	assert.Equal(t, "task 7", state.RecentCompletions[0].Task)
	assert.Equal(t, "task 3", state.RecentCompletions[4].Task)
}

func TestIdentityQuery_Identity(t *testing.T) {
	q := IdentityQuery{
		Timestamp:       "2026-01-02T03:04:05.000Z",
		FeedbackContent: "make the theme calmer please, it is too loud",
	}
	assert.Equal(t, "2026-01-02T03:04:05.000Z_make the theme calme", q.Identity())

	short := IdentityQuery{Timestamp: "t", FeedbackContent: "héllo"}
	assert.Equal(t, "t_héllo", short.Identity())
}

func TestFeedbackDoc_AddInsightDedupAndCap(t *testing.T) {
	doc := DefaultFeedback()

	assert.True(t, doc.AddInsight(CategoryGeneralFeedback, "same"))
	assert.False(t, doc.AddInsight(CategoryGeneralFeedback, "same"))
	assert.Len(t, doc.Insights[CategoryGeneralFeedback], 1)

	for i := 0; i < MaxInsights; i++ {
		doc.AddInsight(CategoryGeneralFeedback, fmt.Sprintf("insight %d", i))
	}
	list := doc.Insights[CategoryGeneralFeedback]
	require.Len(t, list, MaxInsights)
	assert.Equal(t, "insight 0", list[0])
	assert.Equal(t, fmt.Sprintf("insight %d", MaxInsights-1), list[MaxInsights-1])
	assert.NotContains(t, list, "same")
}

func TestFeedbackDoc_AppendEntryCap(t *testing.T) {
	doc := DefaultFeedback()
	for i := 0; i < MaxFeedbackLog+3; i++ {
		doc.AppendEntry(FeedbackEntry{Note: fmt.Sprintf("note %d", i)})
	}
	require.Len(t, doc.FeedbackLog, MaxFeedbackLog)
	assert.Equal(t, "note 3", doc.FeedbackLog[0].Note)
	assert.Equal(t, fmt.Sprintf("note %d", MaxFeedbackLog+2), doc.FeedbackLog[MaxFeedbackLog-1].Note)
}

func TestUXConfig_Merge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		updates map[string]any
		check   func(t *testing.T, cfg *UXConfig)
	}{
		{
			name: "theme flag selects theme",
			updates: map[string]any{
				"zen_mode":         true,
				"background_color": "#0a0f0a",
			},
			check: func(t *testing.T, cfg *UXConfig) {
				assert.Equal(t, ThemeZen, cfg.Theme)
				assert.Equal(t, "#0a0f0a", cfg.Colors["background_color"])
			},
		},
		{
			name:    "explicit theme key",
			updates: map[string]any{"theme": ThemePaperWhite},
			check: func(t *testing.T, cfg *UXConfig) {
				assert.Equal(t, ThemePaperWhite, cfg.Theme)
			},
		},
		{
			name:    "feature prefixes",
			updates: map[string]any{"show_settings": true, "fix_header_metrics": true},
			check: func(t *testing.T, cfg *UXConfig) {
				assert.Equal(t, map[string]bool{"show_settings": true, "fix_header_metrics": true}, cfg.Features)
				assert.Equal(t, ThemeDefault, cfg.Theme)
			},
		},
		{
			name:    "unknown keys pass through",
			updates: map[string]any{"font_size": 14},
			check: func(t *testing.T, cfg *UXConfig) {
				assert.JSONEq(t, "14", string(cfg.Extra["font_size"]))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultUXConfig()
			require.NoError(t, cfg.Merge(tt.updates, now))
			require.NotNil(t, cfg.LastUpdated)
			assert.Equal(t, "2026-05-01T12:00:00.000Z", *cfg.LastUpdated)
			tt.check(t, cfg)
		})
	}
}

func TestUXConfig_MergeRejectsNonBoolFeature(t *testing.T) {
	cfg := DefaultUXConfig()
	err := cfg.Merge(map[string]any{"show_settings": "yes"}, time.Now())
	assert.Error(t, err)
}

func TestContextState_KeepsNestedUnknownKeys(t *testing.T) {
	input := `{
		"current_context": {"active_focus": "api", "progress_status": "wip", "next_priority": "tests", "session_id": "s-42"},
		"recent_completions": [{"task": "draft", "completed_at": "t0", "files": ["a.go"]}],
		"todo_status": {"completed": "3 of 5", "items": [{"id": 1}]}
	}`

	var state ContextState
	require.NoError(t, json.Unmarshal([]byte(input), &state))
	state.AddCompletion(Completion{Task: "ship", CompletedAt: "t1"})
	state.CurrentContext.ActiveFocus = "viewer"

	out, err := json.Marshal(state)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))

	current := generic["current_context"].(map[string]any)
	assert.Equal(t, "viewer", current["active_focus"])
	assert.Equal(t, "s-42", current["session_id"])

	completions := generic["recent_completions"].([]any)
	require.Len(t, completions, 2)
	assert.Equal(t, "ship", completions[0].(map[string]any)["task"])
	assert.Equal(t, []any{"a.go"}, completions[1].(map[string]any)["files"])

	todo := generic["todo_status"].(map[string]any)
	assert.Equal(t, "3 of 5", todo["completed"])
	assert.Equal(t, []any{map[string]any{"id": float64(1)}}, todo["items"])
}

func TestFeedbackEntry_KeepsUnknownKeys(t *testing.T) {
	input := `{"feedback_log": [{"timestamp": "t", "note": "hi", "client_timestamp": 1700000000}], "insights": {}}`

	var doc FeedbackDoc
	require.NoError(t, json.Unmarshal([]byte(input), &doc))
	doc.AddInsight(CategoryGeneralFeedback, "hi")

	out, err := json.Marshal(doc)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	entry := generic["feedback_log"].([]any)[0].(map[string]any)
	assert.Equal(t, "hi", entry["note"])
	assert.Equal(t, float64(1700000000), entry["client_timestamp"])
}

func TestIdentityQuery_KeepsUnknownKeys(t *testing.T) {
	var q IdentityQuery
	require.NoError(t, json.Unmarshal([]byte(`{"status": "pending", "priority": "high"}`), &q))
	q.Status = QueryStatusProcessed

	out, err := json.Marshal(q)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"priority":"high"`)
	assert.Contains(t, string(out), `"status":"processed"`)
}
