package watch

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

const (
	activityWindow = 10 * time.Second
	activityDots   = 5
)

// newPulse is the header spinner. It only advances while the UI loop runs.
func newPulse(theme Theme) spinner.Model {
	return spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(theme.Highlight),
	)
}

// activity counts hub events seen within activityWindow.
type activity struct {
	seen []time.Time
	last time.Time
}

func (a *activity) record(at time.Time) {
	a.seen = append(a.seen, at)
	a.last = at
	if len(a.seen) > activityDots {
		a.seen = a.seen[len(a.seen)-activityDots:]
	}
}

func (a *activity) prune(now time.Time) {
	keep := a.seen[:0]
	for _, t := range a.seen {
		if now.Sub(t) <= activityWindow {
			keep = append(keep, t)
		}
	}
	a.seen = keep
}

func (a activity) render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < len(a.seen) {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}
