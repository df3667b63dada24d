package qchat

import (
	"regexp"
	"strings"
)

// The child is ready for input when it prints a line that is nothing but one
// of its two prompt spellings. Depending on environment the prompt renders as
// "Amazon Q>" or a bare ">".
var promptRegex = regexp.MustCompile(`(?m)^[ \t]*(?:Amazon Q>|>)[ \t]*\r?$`)

// promptPrefixes are the prompt spellings as they appear when the child
// echoes input back on the same line.
var promptPrefixes = []string{"Amazon Q> ", "> "}

// findPrompt returns the offset of the first idle-prompt line in text, or -1.
func findPrompt(text string) int {
	loc := promptRegex.FindStringIndex(text)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// Two confirmation idioms reach stdout from different tool-use paths in the
// child: a bracketed "[y/n]:" / "[y/n/t]:" form and a narrative
// "Allow this action? ... Use 't' to trust" form. Both must be recognized.
var (
	bracketedPermissionRegex = regexp.MustCompile(`(?i)\[y/n(?:/t)?\]\s*:`)
	narrativePermissionRegex = regexp.MustCompile(`(?is)Allow this action\?.*?Use 't' to trust`)
)

// findPermissionPrompt returns the offset of the earliest permission-prompt
// match in text, or -1 if neither idiom matches. When both idioms match, the
// smaller start offset wins.
func findPermissionPrompt(text string) int {
	offset := -1
	if loc := narrativePermissionRegex.FindStringIndex(text); loc != nil {
		offset = loc[0]
	}
	if loc := bracketedPermissionRegex.FindStringIndex(text); loc != nil {
		if offset == -1 || loc[0] < offset {
			offset = loc[0]
		}
	}
	return offset
}

// removeInputEchoOnce strips a single echoed copy of the just-sent message
// from text. The echo may appear bare, with LF or CRLF, or prefixed by either
// prompt spelling. Candidates are tried most-specific first so a prompt
// prefix is removed together with the echo rather than being left behind.
func removeInputEchoOnce(text, sent string) string {
	if text == "" || sent == "" {
		return text
	}
	var candidates []string
	for _, prefix := range promptPrefixes {
		candidates = append(candidates, prefix+sent+"\r\n", prefix+sent+"\n")
	}
	candidates = append(candidates, sent+"\r\n", sent+"\n", sent)
	for _, c := range candidates {
		if strings.Contains(text, c) {
			return strings.Replace(text, c, "", 1)
		}
	}
	return text
}
