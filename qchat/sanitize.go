package qchat

import (
	"regexp"
	"strings"
)

// Terminal control sequences emitted by q chat. The CSI pattern covers cursor
// movement and color; the OSC pattern covers title-setting sequences
// terminated by BEL or ST.
var (
	csiRegex = regexp.MustCompile(`\x1B\[[0-9;?]*[ -/]*[@-~]`)
	oscRegex = regexp.MustCompile(`\x1B\][^\x07\x1B]*(?:\x07|\x1B\\)`)
)

// StripTerminalControl removes CSI sequences, OSC sequences, and the ESC 7 /
// ESC 8 save/restore-cursor pair from text. Unrecognized escape sequences are
// left as-is. The function is pure and idempotent, and never fails on
// malformed input.
func StripTerminalControl(text string) string {
	if text == "" {
		return text
	}
	s := csiRegex.ReplaceAllString(text, "")
	s = oscRegex.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\x1B7", "")
	s = strings.ReplaceAll(s, "\x1B8", "")
	return s
}

// q chat renders its "working" indicator by repeatedly redrawing a spinner
// glyph plus a "Thinking..." token. Without a terminal to interpret the
// redraws, every frame arrives as literal text and has to be filtered out.
var (
	// A run of spinner+Thinking frames, optionally followed by a redrawn
	// prompt arrow. Matches mid-line so partial redraw frames are removed
	// without discarding real content on the same line.
	inlineThinkingRegex = regexp.MustCompile(`(?:(?:[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]\s*)?[Tt]hinking(?:\.{1,3}|…)?\s*)+(?:>\s+)?`)

	// A whole line of repeated Thinking tokens, optionally interleaved with
	// bullets and punctuation.
	thinkingLineRegex = regexp.MustCompile(`^(?:[•●○◦*·.…\s]*[Tt]hinking(?:\.{1,3}|…)?[•●○◦*·.…\s]*)+$`)

	// A short fragment left behind by a partial redraw: letters drawn only
	// from the word "thinking", with trailing punctuation.
	thinkingFragmentRegex = regexp.MustCompile(`^[thinkgTHINKG]{1,10}[.…,!]*$`)

	// A line that is nothing but spinner glyphs, bullets, punctuation, and
	// the prompt arrow.
	glyphLineRegex = regexp.MustCompile(`^[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏•●○◦*·.…>\-\s]+$`)

	blankRunRegex = regexp.MustCompile(`\n{3,}`)
)

// FilterTransientStatus removes transient "thinking"/spinner noise from text:
// whole lines that are only status-indicator redraws, inline spinner+Thinking
// runs embedded in otherwise meaningful lines, and runs of three or more
// blank lines (collapsed to exactly one). Only deletes, never reorders.
func FilterTransientStatus(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && isTransientLine(trimmed) {
			continue
		}
		cleaned := inlineThinkingRegex.ReplaceAllString(line, "")
		if cleaned != line && strings.TrimSpace(cleaned) == "" {
			// The whole line was status redraw frames.
			continue
		}
		kept = append(kept, cleaned)
	}

	return blankRunRegex.ReplaceAllString(strings.Join(kept, "\n"), "\n\n")
}

// isTransientLine reports whether a trimmed line is pure status noise.
func isTransientLine(trimmed string) bool {
	if thinkingLineRegex.MatchString(trimmed) {
		return true
	}
	if thinkingFragmentRegex.MatchString(trimmed) {
		return true
	}
	return glyphLineRegex.MatchString(trimmed)
}
