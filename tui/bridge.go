// ABOUTME: Bridge connecting a dashboard panel to the Bubble Tea message loop.
// ABOUTME: chanSurface turns surface calls into messages; WaitForUpdateCmd feeds them to the program.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/markdown"
)

// updateBuffer bounds how many surface messages can queue before partial
// renders start being dropped.
const updateBuffer = 64

// chanSurface implements dashboard.Surface by sending messages on ch.
// Partial renders are dropped when the buffer is full since each one
// supersedes the last; terminal messages always go through unless ctx ends.
type chanSurface struct {
	ctx context.Context
	ch  chan<- tea.Msg
}

var _ dashboard.Surface = chanSurface{}

func (s chanSurface) Start() {
	s.deliver(StreamStartMsg{})
}

func (s chanSurface) Replace(output string) {
	select {
	case s.ch <- StreamRenderMsg{Output: output}:
	default:
	}
}

func (s chanSurface) Finish(output string, incomplete bool) {
	s.deliver(StreamFinishMsg{Output: output, Incomplete: incomplete})
}

func (s chanSurface) Fail(message string) {
	s.deliver(StreamFailMsg{Message: markdown.StripControl(message)})
}

func (s chanSurface) deliver(msg tea.Msg) {
	select {
	case s.ch <- msg:
	case <-s.ctx.Done():
	}
}

// WaitForUpdateCmd returns a tea.Cmd that blocks until the next surface
// message arrives.
func WaitForUpdateCmd(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// ChatCmd returns a tea.Cmd that runs one chat request on panel and reports
// the result as a ChatDoneMsg.
func ChatCmd(ctx context.Context, panel *dashboard.Panel, message string, surf dashboard.Surface) tea.Cmd {
	return func() tea.Msg {
		res, err := panel.Chat(ctx, message, surf)
		return ChatDoneMsg{Result: res, Err: err}
	}
}
