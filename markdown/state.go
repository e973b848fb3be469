// ABOUTME: State tracks one surface's render progress: the last raw text seen and the output shown.
// ABOUTME: Partial updates may repeat; the final render happens once and is authoritative.
package markdown

import "sync"

// State is the render state of a single content surface. Surfaces must not
// share a State.
type State struct {
	renderer *Renderer

	mu    sync.Mutex
	raw   string
	html  string
	final bool
}

// NewState creates an empty State rendering through r.
func NewState(r *Renderer) *State {
	return &State{renderer: r}
}

// Update renders the accumulated text as a partial view and records it.
// After Finalize it returns the final output unchanged.
func (s *State) Update(accumulated string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return s.html
	}
	s.raw = accumulated
	s.html = s.renderer.RenderPartial(accumulated)
	return s.html
}

// Finalize renders the complete text once, replacing any partial output.
// Later calls return the same output.
func (s *State) Finalize(accumulated string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return s.html
	}
	s.raw = accumulated
	s.html = s.renderer.RenderFinal(accumulated)
	s.final = true
	return s.html
}

// Raw returns the last accumulated text passed in.
func (s *State) Raw() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw
}

// Output returns the last rendered output.
func (s *State) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

// Final reports whether Finalize has run.
func (s *State) Final() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}
