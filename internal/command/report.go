// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"crypto/sha1" //nolint:gosec // fingerprint, not a security boundary
	"encoding/hex"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/botcmd/pkg/errutil"
)

// TraceChecksum fingerprints a failure: the SHA-1 of its message and, for
// oops errors, its stack trace. Repeats of the same failure share a checksum,
// so it can be used to group reports.
func TraceChecksum(err error) string {
	var b strings.Builder
	b.WriteString(err.Error())
	if oopsErr, ok := oops.AsOops(err); ok {
		b.WriteByte('\n')
		b.WriteString(oopsErr.Stacktrace())
	}
	sum := sha1.Sum([]byte(b.String())) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// report logs the default diagnostic for a failed invocation.
func (d *Dispatcher) report(ctx context.Context, err error, command string, args []string, author Author) {
	errutil.LogError(ctx, d.logger, "command failed", err,
		"component", command,
		"args", strings.Join(args, ", "),
		"occurred_at", d.now().UTC().Format(time.RFC3339),
		"checksum", TraceChecksum(err),
		"caused_by", author.Username,
		"user_id", author.ID,
	)
}
