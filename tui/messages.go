// ABOUTME: Bubble Tea message types used in the chat TUI message loop.
// ABOUTME: Stream messages carry panel surface updates; ChatDoneMsg carries the finished request.
package tui

import "github.com/2389-research/overwatch/dashboard"

// StreamStartMsg signals that a reply has started streaming.
type StreamStartMsg struct{}

// StreamRenderMsg carries the latest partial render of the reply.
type StreamRenderMsg struct {
	Output string
}

// StreamFinishMsg carries the final render of the reply.
type StreamFinishMsg struct {
	Output     string
	Incomplete bool
}

// StreamFailMsg carries the message shown when the reply failed.
type StreamFailMsg struct {
	Message string
}

// ChatDoneMsg signals that the chat request has returned.
type ChatDoneMsg struct {
	Result dashboard.ChatResult
	Err    error
}
