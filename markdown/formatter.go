// ABOUTME: Formatters turn markdown into presentation output: sanitized HTML via goldmark and
// ABOUTME: bluemonday, or ANSI terminal text via glamour. Each also supplies its structure-free fallback.
package markdown

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldhtml "github.com/yuin/goldmark/renderer/html"
)

// Formatter converts markdown source into display output.
type Formatter interface {
	// Format renders src with full markdown structure.
	Format(src string) (string, error)
	// Fallback renders src without structural parsing. It must not fail.
	Fallback(src string) string
}

// HTMLFormatter renders GitHub-flavored markdown to HTML. Raw HTML in the
// source is never passed through: goldmark runs without its unsafe option,
// and its output is filtered again through a bluemonday UGC policy.
type HTMLFormatter struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

var languageClass = regexp.MustCompile(`^language-[\w.+#-]+$`)

// NewHTMLFormatter returns an HTMLFormatter with tables, strikethrough,
// autolinks, task lists, and hard line breaks enabled.
func NewHTMLFormatter() *HTMLFormatter {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(goldhtml.WithHardWraps()),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(languageClass).OnElements("code")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return &HTMLFormatter{md: md, policy: policy}
}

// Format converts src to sanitized HTML.
func (f *HTMLFormatter) Format(src string) (string, error) {
	var buf bytes.Buffer
	if err := f.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return f.policy.Sanitize(buf.String()), nil
}

// Fallback escapes src and turns line feeds into <br> elements.
func (f *HTMLFormatter) Fallback(src string) string {
	return strings.ReplaceAll(html.EscapeString(src), "\n", "<br>")
}

// TerminalFormatter renders markdown as styled ANSI text.
type TerminalFormatter struct {
	renderer *glamour.TermRenderer
}

// NewTerminalFormatter builds a glamour renderer. An empty style picks one
// from the terminal background; "notty" produces plain text.
func NewTerminalFormatter(style string, width int) (*TerminalFormatter, error) {
	opts := []glamour.TermRendererOption{glamour.WithEmoji()}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create terminal renderer: %w", err)
	}
	return &TerminalFormatter{renderer: r}, nil
}

// Format renders src for the terminal. Control sequences in src are
// stripped first so only the renderer's own styling reaches the terminal.
func (f *TerminalFormatter) Format(src string) (string, error) {
	out, err := f.renderer.Render(StripControl(src))
	if err != nil {
		return "", fmt.Errorf("render terminal markdown: %w", err)
	}
	return out, nil
}

// Fallback returns src without control sequences; the terminal already
// preserves line breaks.
func (f *TerminalFormatter) Fallback(src string) string {
	return StripControl(src)
}
