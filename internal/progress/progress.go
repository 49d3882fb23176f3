// Package progress renders percentage progress bars for long catalog operations.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
)

// Reporter receives progress updates
type Reporter interface {
	Report(current, total int64)
}

// Nop is a Reporter that discards updates
type Nop struct{}

// Report implements Reporter
func (Nop) Report(int64, int64) {}

// Func adapts a function to the Reporter interface
type Func func(current, total int64)

// Report implements Reporter
func (f Func) Report(current, total int64) { f(current, total) }

// Steps returns a Reporter that logs one info line each time progress crosses
// another tenth of the total. It suits output that is not a terminal.
func Steps(label string) Reporter {
	var mu sync.Mutex
	last := -1
	return Func(func(current, total int64) {
		step := int(Percent(current, total) / 10)
		mu.Lock()
		defer mu.Unlock()
		if step <= last {
			return
		}
		last = step
		logrus.WithFields(logrus.Fields{
			"stage":   label,
			"current": current,
			"total":   total,
		}).Infof("%s %d%%", label, step*10)
	})
}

// Bar draws a single-line progress bar, redrawn in place with a carriage return
type Bar struct {
	out    io.Writer
	label  string
	width  int
	filled lipgloss.Style
	empty  lipgloss.Style
	mu     sync.Mutex
	done   bool
}

// NewBar creates a progress bar writing to out
func NewBar(out io.Writer, label string, width int) *Bar {
	if width <= 0 {
		width = 40
	}
	r := lipgloss.NewRenderer(out)
	return &Bar{
		out:    out,
		label:  label,
		width:  width,
		filled: r.NewStyle().Foreground(lipgloss.Color("#7C3AED")),
		empty:  r.NewStyle().Foreground(lipgloss.Color("#585B70")),
	}
}

// Report implements Reporter. The bar ends its line once current reaches total.
func (b *Bar) Report(current, total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return
	}
	_, _ = fmt.Fprint(b.out, "\r"+b.render(current, total))
	if total > 0 && current >= total {
		_, _ = fmt.Fprintln(b.out)
		b.done = true
	}
}

func (b *Bar) render(current, total int64) string {
	percent := Percent(current, total)
	filled := int(percent / 100 * float64(b.width))
	if filled > b.width {
		filled = b.width
	}

	bar := b.filled.Render(strings.Repeat("█", filled)) +
		b.empty.Render(strings.Repeat("░", b.width-filled))

	line := fmt.Sprintf("[%s] %5.1f%% (%d/%d)", bar, percent, current, total)
	if b.label != "" {
		line = b.label + " " + line
	}
	return line
}

// Percent returns current/total as a percentage clamped to [0, 100]. A zero
// total counts as complete.
func Percent(current, total int64) float64 {
	if total <= 0 {
		return 100
	}
	p := float64(current) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
