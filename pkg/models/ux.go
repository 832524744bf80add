package models

import (
	"fmt"
	"strings"
	"time"
)

// themeFlags are update keys that select a theme by their own name.
var themeFlags = map[string]bool{
	ThemeZen:        true,
	ThemeDark:       true,
	ThemePaperWhite: true,
}

// Merge applies updates to the config and refreshes last_updated.
//
// Routing: "theme" sets the theme; a theme flag key (zen_mode, dark_mode,
// paper_white) sets the theme to the key; keys ending in _color go to
// Colors; keys starting with show_ or fix_ go to Features; anything else is
// kept as a top-level key.
func (u *UXConfig) Merge(updates map[string]any, now time.Time) error {
	if u.Colors == nil {
		u.Colors = make(map[string]string)
	}
	if u.Features == nil {
		u.Features = make(map[string]bool)
	}

	for key, value := range updates {
		switch {
		case key == "theme":
			u.Theme = fmt.Sprint(value)
		case themeFlags[key]:
			if on, ok := value.(bool); !ok || on {
				u.Theme = key
			}
		case strings.HasSuffix(key, "_color"):
			u.Colors[key] = fmt.Sprint(value)
		case strings.HasPrefix(key, "show_"), strings.HasPrefix(key, "fix_"):
			on, ok := value.(bool)
			if !ok {
				return fmt.Errorf("feature %s: expected bool, got %T", key, value)
			}
			u.Features[key] = on
		default:
			if err := u.Extra.Set(key, value); err != nil {
				return fmt.Errorf("ux key %s: %w", key, err)
			}
		}
	}

	stamp := Timestamp(now)
	u.LastUpdated = &stamp
	return nil
}
