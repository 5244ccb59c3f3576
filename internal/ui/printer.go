// Package ui renders todo lists for the terminal and runs interactive
// prompts.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/mschirtzinger/todosync/internal/model"
)

// ColorMode selects when output is colored.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

const (
	boxChecked   = "☑"
	boxUnchecked = "☐"
	activeMarker = "▸"
)

// IsTerminal reports whether v (an *os.File, typically) is an interactive
// terminal.
func IsTerminal(v interface{}) bool {
	f, ok := v.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// Printer writes styled output.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	title    lipgloss.Style
	success  lipgloss.Style
	pending  lipgloss.Style
	muted    lipgloss.Style
	errStyle lipgloss.Style
	done     lipgloss.Style
	box      lipgloss.Style
	renderer *lipgloss.Renderer
}

// NewPrinter creates a printer for out. Errors go to errOut.
func NewPrinter(out, errOut io.Writer, mode ColorMode) *Printer {
	r := lipgloss.NewRenderer(out)
	r.SetColorProfile(colorProfile(out, mode))

	return &Printer{
		out:      out,
		errOut:   errOut,
		now:      time.Now,
		title:    r.NewStyle().Bold(true),
		success:  r.NewStyle().Foreground(lipgloss.Color("42")),
		pending:  r.NewStyle().Foreground(lipgloss.Color("214")),
		muted:    r.NewStyle().Faint(true),
		errStyle: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		done:     r.NewStyle().Faint(true).Strikethrough(true),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1),
		renderer: r,
	}
}

func colorProfile(out io.Writer, mode ColorMode) termenv.Profile {
	switch mode {
	case ColorNever:
		return termenv.Ascii
	case ColorAlways:
		return termenv.TrueColor
	}
	if !IsTerminal(out) {
		return termenv.Ascii
	}
	return termenv.NewOutput(out).EnvColorProfile()
}

// OK prints a success line.
func (p *Printer) OK(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.success.Render("✔ "+fmt.Sprintf(format, args...)))
}

// Fail prints an error line to the error stream.
func (p *Printer) Fail(format string, args ...interface{}) {
	fmt.Fprintln(p.errOut, p.errStyle.Render("✖ "+fmt.Sprintf(format, args...)))
}

// Muted prints a faint line.
func (p *Printer) Muted(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.muted.Render(fmt.Sprintf(format, args...)))
}

// Panel prints lines inside a rounded border.
func (p *Printer) Panel(lines []string) {
	fmt.Fprintln(p.out, p.box.Render(strings.Join(lines, "\n")))
}

// Swatch renders a block in the category color.
func (p *Printer) Swatch(color string) string {
	if color == "" {
		return " "
	}
	return p.renderer.NewStyle().Foreground(lipgloss.Color(color)).Render("●")
}

// CategoryHeading renders a category name with its color and progress.
func (p *Printer) CategoryHeading(cat model.Category, active bool) string {
	marker := " "
	if active {
		marker = activeMarker
	}
	total := len(cat.TodoItems)
	doneCount := total - cat.Pending()
	return fmt.Sprintf("%s %s %s %s",
		marker,
		p.Swatch(cat.Color),
		p.title.Render(cat.Title),
		p.muted.Render(fmt.Sprintf("(%d/%d done)", doneCount, total)))
}

// Categories prints one line per category, numbered from 1.
func (p *Printer) Categories(cats []model.Category, active int) {
	if len(cats) == 0 {
		p.Muted("No categories.")
		return
	}
	for n, cat := range cats {
		fmt.Fprintf(p.out, "%2d %s %s\n", n+1, p.CategoryHeading(cat, n == active), p.muted.Render(cat.ID))
	}
}

// Category prints a category heading followed by its numbered items.
func (p *Printer) Category(cat model.Category, active bool) {
	fmt.Fprintln(p.out, p.CategoryHeading(cat, active))
	if len(cat.TodoItems) == 0 {
		fmt.Fprintln(p.out, "    "+p.muted.Render("nothing to do"))
		return
	}
	for n, item := range cat.TodoItems {
		fmt.Fprintf(p.out, "  %2d. %s\n", n+1, p.item(item))
	}
}

func (p *Printer) item(item model.Item) string {
	label := item.Label()
	box, text := p.pending.Render(boxUnchecked), label
	switch {
	case label == "":
		text = p.muted.Render("(untitled)")
		if item.Completed {
			box = p.success.Render(boxChecked)
		}
	case item.Completed:
		box, text = p.success.Render(boxChecked), p.done.Render(label)
	}
	line := box + " " + text
	if item.Due != nil {
		due := "due " + item.Due.Local().Format("Mon Jan 2 15:04")
		if !item.Completed && item.Due.Before(p.now()) {
			line += " " + p.errStyle.Render(due+" (overdue)")
		} else {
			line += " " + p.muted.Render(due)
		}
	}
	return line
}

// ProgressBar renders done/total as a fixed-width bar.
func ProgressBar(done, total, width int) string {
	if total == 0 {
		total = 1
	}
	if width <= 0 {
		width = 28
	}
	filled := int(float64(done) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + fmt.Sprintf("] %d/%d", done, total)
}
