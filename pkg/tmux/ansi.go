package tmux

import "regexp"

// ansiRe matches CSI/OSC escape sequences plus stray control bytes that
// capture-pane -e leaves in the text.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-_]|[\x00-\x08\x0b\x0c\x0e-\x1f]`)

// StripANSI removes terminal escape sequences from captured pane text so
// pattern matching sees what the user sees.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
