package classifier

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/thebtf/ctxview/pkg/models"
)

// Theme is a colour scheme selected by keywords.
type Theme struct {
	Name     string
	Keywords []string
	Colors   map[string]string
}

// Feature is a UX flag switched on by keywords.
type Feature struct {
	Flag     string
	Keywords []string
}

// Vocabulary is the keyword table driving classification.
// Themes are checked in order and are mutually exclusive.
type Vocabulary struct {
	Themes      []Theme
	Features    []Feature
	UI          []string
	Performance []string
	Slow        []string
	Issue       []string
	Positive    []string
	Focus       []string
}

// DefaultVocabulary returns the built-in keyword table.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Themes: []Theme{
			{
				Name:     models.ThemeZen,
				Keywords: []string{"zen", "calm", "peaceful", "soothing"},
				Colors: map[string]string{
					"background_color": "#0a0f0a",
					"panel_color":      "#1a251a",
					"text_color":       "#d0e0d0",
					"accent_color":     "#6b9a6b",
					"border_color":     "#2a4a2a",
				},
			},
			{
				Name:     models.ThemePaperWhite,
				Keywords: []string{"paper", "white", "light", "bright"},
				Colors: map[string]string{
					"background_color": "#fefefe",
					"panel_color":      "#f8f8f8",
					"text_color":       "#2a2a2a",
					"accent_color":     "#4a9eff",
					"border_color":     "#e0e0e0",
				},
			},
			{
				Name:     models.ThemeDark,
				Keywords: []string{"dark", "darker", "black"},
				Colors: map[string]string{
					"background_color": "#000000",
					"panel_color":      "#111111",
					"text_color":       "#ffffff",
				},
			},
		},
		Features: []Feature{
			{Flag: "show_settings", Keywords: []string{"settings", "customize", "config"}},
			{Flag: "fix_header_metrics", Keywords: []string{"tti", "uptime", "header"}},
			{Flag: "fix_enter_key", Keywords: []string{"enter", "key", "feedback", "entry"}},
		},
		UI:          []string{"ui", "design", "look", "appearance", "visual"},
		Performance: []string{"slow", "fast", "performance", "speed", "lag"},
		Slow:        []string{"slow", "lag", "stuck"},
		Issue:       []string{"bug", "issue", "problem", "broken", "not working"},
		Positive:    []string{"good", "great", "works", "like", "love", "perfect"},
		Focus:       []string{"focus", "working on", "next", "priority"},
	}
}

// Clone returns a deep copy.
func (v *Vocabulary) Clone() *Vocabulary {
	out := &Vocabulary{
		UI:          slices.Clone(v.UI),
		Performance: slices.Clone(v.Performance),
		Slow:        slices.Clone(v.Slow),
		Issue:       slices.Clone(v.Issue),
		Positive:    slices.Clone(v.Positive),
		Focus:       slices.Clone(v.Focus),
	}
	for _, t := range v.Themes {
		out.Themes = append(out.Themes, Theme{Name: t.Name, Keywords: slices.Clone(t.Keywords), Colors: maps.Clone(t.Colors)})
	}
	for _, f := range v.Features {
		out.Features = append(out.Features, Feature{Flag: f.Flag, Keywords: slices.Clone(f.Keywords)})
	}
	return out
}

// WithOverrides returns a copy of v with keyword sets replaced by name.
//
// Names are ui, performance, slow, issue, positive, focus, theme.<name> and
// feature.<flag>. Keywords are lower-cased. Unknown names are an error.
func (v *Vocabulary) WithOverrides(overrides map[string][]string) (*Vocabulary, error) {
	out := v.Clone()

	for name, words := range overrides {
		words = normalize(words)

		switch name {
		case "ui":
			out.UI = words
		case "performance":
			out.Performance = words
		case "slow":
			out.Slow = words
		case "issue":
			out.Issue = words
		case "positive":
			out.Positive = words
		case "focus":
			out.Focus = words
		default:
			if !out.overrideNamed(name, words) {
				return nil, fmt.Errorf("unknown keyword set %q", name)
			}
		}
	}
	return out, nil
}

func (v *Vocabulary) overrideNamed(name string, words []string) bool {
	if theme, ok := strings.CutPrefix(name, "theme."); ok {
		for i := range v.Themes {
			if v.Themes[i].Name == theme {
				v.Themes[i].Keywords = words
				return true
			}
		}
		return false
	}
	if flag, ok := strings.CutPrefix(name, "feature."); ok {
		for i := range v.Features {
			if v.Features[i].Flag == flag {
				v.Features[i].Keywords = words
				return true
			}
		}
	}
	return false
}

func normalize(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}
