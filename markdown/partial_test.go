// ABOUTME: Tests for streaming working-copy preparation: fence auto-close and dangling row removal.
package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartialSource(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text unchanged", "hello **world**", "hello **world**"},
		{"empty", "", ""},
		{"unclosed fence gets closed", "```code\nfn f()", "```code\nfn f()\n```"},
		{"unclosed fence ending in newline", "```go\nx := 1\n", "```go\nx := 1\n```"},
		{"closed fence unchanged", "```code\nfn f()\n```", "```code\nfn f()\n```"},
		{"second fence open", "```\na\n```\ntext\n```py\nb", "```\na\n```\ntext\n```py\nb\n```"},
		{"longer opening fence", "````\n```\nstill code", "````\n```\nstill code\n````"},
		{"tilde fence", "~~~\ncode", "~~~\ncode\n~~~"},
		{"tilde does not close backtick", "```\n~~~\ncode", "```\n~~~\ncode\n```"},
		{"info string line does not close", "```\ncode\n```js", "```\ncode\n```js\n```"},
		{"indented four spaces is not a fence", "    ```\ncode", "    ```\ncode"},
		{"inline backticks are not a fence", "use ``x`` here", "use ``x`` here"},
		{"lone fence", "```", "```\n```"},
		{"dangling row dropped", "Summary\n| a | b", "Summary"},
		{"only a dangling row", "| a | b", ""},
		{"complete row kept", "| a | b |\n|---|---|\n| 1 | 2 |", "| a | b |\n|---|---|\n| 1 | 2 |"},
		{"complete row with trailing space kept", "| a | b |  ", "| a | b |  "},
		{"dangling row after table", "| a | b |\n|---|---|\n| 1 | 2 |\n| 3", "| a | b |\n|---|---|\n| 1 | 2 |"},
		{"trailing newline means no dangling row", "| a | b\n", "| a | b\n"},
		{"pipe inside open fence dropped then fence closed", "```sh\nls | gr", "```sh\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PartialSource(tt.in))
		})
	}
}

func TestPartialSourceDoesNotMutateInput(t *testing.T) {
	stored := "```code\nfn f()"
	working := PartialSource(stored)
	assert.Equal(t, "```code\nfn f()", stored)
	assert.NotEqual(t, stored, working)
}
