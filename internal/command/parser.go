// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import "strings"

// ParsedCommand represents a prefixed command found in message content.
type ParsedCommand struct {
	Name string   // first token with the prefix removed
	Args []string // remaining whitespace-separated tokens
	Raw  string   // original content
}

// Parse splits content into whitespace-separated tokens and reports whether
// the first token is prefix followed by a non-empty command name. Matching is
// case-sensitive; arguments are not otherwise interpreted.
func Parse(prefix, content string) (*ParsedCommand, bool) {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil, false
	}

	name, ok := strings.CutPrefix(words[0], prefix)
	if !ok || name == "" {
		return nil, false
	}

	return &ParsedCommand{
		Name: name,
		Args: words[1:],
		Raw:  content,
	}, true
}
