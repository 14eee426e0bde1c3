// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// MaxNameLength is the maximum length, in runes, of a command or alias name.
const MaxNameLength = 32

// ValidateName checks that name can be invoked: non-empty, at most
// MaxNameLength runes, and free of whitespace and control characters, since
// the parser splits content on whitespace.
func ValidateName(name string) error {
	if name == "" {
		return oops.Code(CodeInvalidName).Errorf("command name cannot be empty")
	}

	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return oops.Code(CodeInvalidName).
			With("name", name).
			With("length", n).
			With("max", MaxNameLength).
			Errorf("command name exceeds maximum length of %d", MaxNameLength)
	}

	if i := strings.IndexFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}); i >= 0 {
		return oops.Code(CodeInvalidName).
			With("name", name).
			With("position", i).
			Errorf("command name %q contains whitespace or control characters", name)
	}

	return nil
}
