// ABOUTME: Renderer produces best-effort output for streaming markdown and one clean final render.
// ABOUTME: Formatter failures and panics fall back to a structure-free transform instead of propagating.
package markdown

import (
	"fmt"
	"log/slog"
)

// Renderer renders accumulated markdown text through a Formatter.
// It holds no per-stream state and may be shared across surfaces.
type Renderer struct {
	formatter Formatter
	cache     *Cache
	logger    *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithCache memoizes formatter output in c.
func WithCache(c *Cache) Option {
	return func(r *Renderer) {
		r.cache = c
	}
}

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRenderer creates a Renderer over f.
func NewRenderer(f Formatter, opts ...Option) *Renderer {
	r := &Renderer{
		formatter: f,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderPartial renders text that may still be growing. An unterminated
// fence is closed and a dangling table row dropped in a working copy only.
func (r *Renderer) RenderPartial(text string) string {
	return r.render("partial", PartialSource(text), text)
}

// RenderFinal renders the complete text exactly as received.
func (r *Renderer) RenderFinal(text string) string {
	return r.render("final", text, text)
}

// render formats working, falling back to the raw text on failure.
func (r *Renderer) render(kind, working, raw string) string {
	var (
		out string
		err error
	)
	if r.cache != nil {
		out, err = r.cache.Render(kind, working, r.safeFormat)
	} else {
		out, err = r.safeFormat(working)
	}
	if err != nil {
		r.logger.Warn("markdown render failed, using plain fallback",
			"component", "markdown.renderer", "kind", kind, "err", err)
		return r.formatter.Fallback(raw)
	}
	return out
}

// safeFormat converts a formatter panic into an error.
func (r *Renderer) safeFormat(src string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("formatter panic: %v", p)
		}
	}()
	return r.formatter.Format(src)
}
