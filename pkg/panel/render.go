package panel

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/devbridge/pkg/fx"
)

var (
	salmonPink = lipgloss.Color("#FFB3BA")
	mintGreen  = lipgloss.Color("#A8E6CF")
	mutedGray  = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().Foreground(salmonPink).Bold(true)
	infoStyle   = lipgloss.NewStyle().Foreground(mutedGray).Italic(true)
	inputStyle  = lipgloss.NewStyle().Foreground(salmonPink)
	resultStyle = lipgloss.NewStyle().Foreground(mintGreen)
	errorStyle  = lipgloss.NewStyle().Foreground(salmonPink).Bold(true)
	sourceStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedGray).
			Padding(0, 1)
)

// RenderOptions control rendering.
type RenderOptions struct {
	// Formatter is a chroma formatter name; "noop" disables colors.
	Formatter string
	Style     string
	Lexer     string
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.Formatter == "" {
		o.Formatter = "terminal256"
	}
	if o.Style == "" {
		o.Style = "monokai"
	}
	if o.Lexer == "" {
		o.Lexer = "javascript"
	}
	return o
}

// Highlight colors source for a terminal.
func Highlight(source string, opts RenderOptions) (string, error) {
	opts = opts.withDefaults()

	lexer := lexers.Get(opts.Lexer)
	if lexer == nil {
		lexer = lexers.Analyse(source)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	formatter := formatters.Get(opts.Formatter)
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style := styles.Get(opts.Style)
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return "", fmt.Errorf("tokenise source: %w", err)
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return "", fmt.Errorf("format source: %w", err)
	}
	return buf.String(), nil
}

// Render draws the panel: script header, highlighted source and console.
func Render(s fx.State, opts RenderOptions) (string, error) {
	var b strings.Builder

	if script, ok := Script(s); ok {
		title := script.Name
		if title == "" {
			title = script.ID
		}
		b.WriteString(headerStyle.Render(title))
		if len(script.Matches) > 0 {
			b.WriteString(" " + infoStyle.Render(strings.Join(script.Matches, ", ")))
		}
		b.WriteString("\n")

		source, err := Highlight(script.Source, opts)
		if err != nil {
			return "", err
		}
		b.WriteString(sourceStyle.Render(strings.TrimRight(source, "\n")))
		b.WriteString("\n")
	} else {
		b.WriteString(infoStyle.Render("no script open"))
		b.WriteString("\n")
	}

	for _, e := range Log(s) {
		b.WriteString(renderEntry(e))
		b.WriteString("\n")
	}
	if Pending(s) != "" {
		b.WriteString(infoStyle.Render("… evaluating"))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func renderEntry(e Entry) string {
	switch e.Kind {
	case KindInput:
		return inputStyle.Render("> " + e.Text)
	case KindResult:
		return resultStyle.Render("< " + e.Text)
	case KindError:
		return errorStyle.Render("! " + e.Text)
	}
	return infoStyle.Render(e.Text)
}
