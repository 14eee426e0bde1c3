// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"

	"github.com/samber/oops"
)

// Hook stages, reported in the "stage" context of a handler failure.
const (
	StagePreHook  = "pre_hook"
	StageHandler  = "handler"
	StagePostHook = "post_hook"
)

// RunChain runs cmd's pre-hooks, its handler, and its post-hooks in order.
// The first error stops the chain: a failing pre-hook skips the handler and
// post-hooks, a failing handler skips the post-hooks. Errors are returned
// with the stage and hook index attached; panics are recovered into
// HANDLER_FAILED errors.
func RunChain(ctx context.Context, cmd Command, msg Message, args []string) error {
	for i, hook := range cmd.PreHooks() {
		if err := runStage(cmd, StagePreHook, i, func() error { return hook(ctx, msg, args) }); err != nil {
			return err
		}
	}

	if err := runStage(cmd, StageHandler, 0, func() error { return cmd.Run(ctx, msg, args) }); err != nil {
		return err
	}

	for i, hook := range cmd.PostHooks() {
		if err := runStage(cmd, StagePostHook, i, func() error { return hook(ctx, msg, args) }); err != nil {
			return err
		}
	}
	return nil
}

func runStage(cmd Command, stage string, index int, fn func() error) error {
	builder := oops.In("dispatch").
		With("command", cmd.Name()).
		With("stage", stage).
		With("index", index)

	var err error
	if perr := oops.Code(CodeHandlerFailed).
		With("command", cmd.Name()).
		With("stage", stage).
		With("index", index).
		Recover(func() { err = fn() }); perr != nil {
		return perr
	}
	if err != nil {
		return builder.Wrap(err)
	}
	return nil
}
