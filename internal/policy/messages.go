package policy

import (
	"fmt"

	"github.com/goodtune/scrollcap/internal/presenter"
)

func describeScope(scope Scope, app string) string {
	if scope.IsGlobal() {
		return "across your tracked apps"
	}
	return "in " + app
}

// intervention builds the overlay content for a soft or hard action.
func intervention(level Level, scope Scope, app string, usage, limit float64) presenter.Intervention {
	where := describeScope(scope, app)

	if level == LevelHard {
		title := "Scroll limit reached"
		if scope.IsGlobal() {
			title = "Daily scroll limit reached"
		}
		return presenter.Intervention{
			Kind:        presenter.KindHard,
			Title:       title,
			Message:     fmt.Sprintf("You have scrolled %.1f m of your %.0f m limit %s today.", usage, limit, where),
			ButtonLabel: "Go home",
		}
	}

	return presenter.Intervention{
		Kind:        presenter.KindSoft,
		Title:       "Halfway there",
		Message:     fmt.Sprintf("You have scrolled %.1f m of your %.0f m limit %s today. Time for a break?", usage, limit, where),
		ButtonLabel: "Continue",
	}
}

func notice(scope Scope, app string, usage, limit float64) presenter.Notice {
	return presenter.Notice{
		Title:   "A quarter of your scroll limit",
		Message: fmt.Sprintf("You have scrolled %.1f m of your %.0f m limit %s today.", usage, limit, describeScope(scope, app)),
	}
}
