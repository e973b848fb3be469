// ABOUTME: Working-copy preparation for rendering markdown that is still streaming in.
// ABOUTME: Drops a dangling table row and closes an unterminated code fence without touching the stored text.
package markdown

import "strings"

// PartialSource returns the text to render while more content may still
// arrive. The input is never modified; the result is a separate working copy.
func PartialSource(text string) string {
	working := dropDanglingRow(text)
	return closeOpenFence(working)
}

// dropDanglingRow removes the last line when it looks like a table row that
// has started but not yet reached its closing column separator.
func dropDanglingRow(text string) string {
	idx := strings.LastIndexByte(text, '\n')
	last := text[idx+1:]
	if last == "" || !strings.Contains(last, "|") {
		return text
	}
	if strings.HasSuffix(strings.TrimSpace(last), "|") {
		return text
	}
	if idx < 0 {
		return ""
	}
	return text[:idx]
}

// fence describes an open fenced code block.
type fence struct {
	char   byte
	length int
}

// closeOpenFence appends a closing fence when the text ends inside a fenced
// code block.
func closeOpenFence(text string) string {
	open, ok := openFence(text)
	if !ok {
		return text
	}
	closing := strings.Repeat(string(open.char), open.length)
	if text == "" || strings.HasSuffix(text, "\n") {
		return text + closing
	}
	return text + "\n" + closing
}

// openFence scans the text line by line and reports the fence that is still
// open at the end, if any.
func openFence(text string) (fence, bool) {
	var current fence
	inside := false
	for line := range strings.SplitSeq(text, "\n") {
		f, info, ok := parseFence(line)
		if !ok {
			continue
		}
		switch {
		case !inside:
			current = f
			inside = true
		case f.char == current.char && f.length >= current.length && strings.TrimSpace(info) == "":
			inside = false
		}
	}
	return current, inside
}

// parseFence recognizes a fence line: up to three spaces of indentation and
// a run of at least three backticks or tildes. It returns the remaining info
// string after the run.
func parseFence(line string) (fence, string, bool) {
	line = strings.TrimSuffix(line, "\r")
	indent := 0
	for indent < len(line) && line[indent] == ' ' {
		indent++
	}
	if indent > 3 || indent >= len(line) {
		return fence{}, "", false
	}
	rest := line[indent:]
	ch := rest[0]
	if ch != '`' && ch != '~' {
		return fence{}, "", false
	}
	n := 0
	for n < len(rest) && rest[n] == ch {
		n++
	}
	if n < 3 {
		return fence{}, "", false
	}
	info := rest[n:]
	if ch == '`' && strings.Contains(info, "`") {
		// Backtick fences may not carry backticks in their info string.
		return fence{}, "", false
	}
	return fence{char: ch, length: n}, info, true
}
