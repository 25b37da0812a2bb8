// Package output renders CLI results: styled status lines on a
// terminal, plain text when piped, and JSON on request.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette, single accent color.
const (
	colorAccent = "39"  // blue
	colorGray   = "245" // labels, secondary text
	colorRed    = "196" // errors
	colorYellow = "220" // warnings
	colorGreen  = "77"  // success
)

// Styles holds the text styles used by the writer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
}

// DefaultStyles returns the colored styles for terminal output.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Dim:     lipgloss.NewStyle().Faint(true),
	}
}

// PlainStyles returns unstyled text for pipes and NO_COLOR.
func PlainStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
	}
}

// Writer renders CLI output to one stream.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a writer that colors its output only when out is a
// terminal and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	styles := PlainStyles()
	if f, ok := out.(*os.File); ok && os.Getenv("NO_COLOR") == "" {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			styles = DefaultStyles()
		}
	}
	return &Writer{out: out, styles: styles}
}

// NewPlain creates a writer that never colors.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out, styles: PlainStyles()}
}

// Write errors are ignored throughout: console output is best-effort.

// Headerf prints a bold section header.
func (w *Writer) Headerf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(fmt.Sprintf(format, args...)))
}

// Successf prints a success line.
func (w *Writer) Successf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.styles.Success.Render(fmt.Sprintf(format, args...)))
}

// Warningf prints a warning line.
func (w *Writer) Warningf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.styles.Warning.Render("warning: "+fmt.Sprintf(format, args...)))
}

// Errorf prints an error line.
func (w *Writer) Errorf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.styles.Error.Render("error: "+fmt.Sprintf(format, args...)))
}

// Printf prints an unstyled line.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

// Field prints an aligned label/value pair.
func (w *Writer) Field(label string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.styles.Label.Render(fmt.Sprintf("%-14s", label+":")), value)
}

// Dimf prints secondary text.
func (w *Writer) Dimf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render(fmt.Sprintf(format, args...)))
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
