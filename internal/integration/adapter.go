// Package integration bridges the actor hierarchy's ExecuteStage commands
// to the stage executors in internal/stages, which know nothing of actors.
// This mirrors the teacher's closure-injected AssetProcessingHook: a plain
// function-call boundary rather than an interface, since the stage set is a
// closed sum type (see internal/stages).
package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mattercertis/internal/stages"
	"mattercertis/models"
)

// ExecuteStageCommand is ActorCommand::ExecuteStage from spec §4.10.
type ExecuteStageCommand struct {
	StageID          models.StageID
	Items            []stages.Item
	ConcurrencyLimit int
	TimeoutSecs      int
}

// Adapter holds the collaborators every stage executor needs and the base
// retry/concurrency configuration, overridden per command.
type Adapter struct {
	deps    stages.Deps
	baseCfg stages.Config
}

// New constructs an Adapter.
func New(deps stages.Deps, baseCfg stages.Config) *Adapter {
	return &Adapter{deps: deps, baseCfg: baseCfg}
}

// ExecuteStage runs cmd through the stage dispatch table, applying
// per-command concurrency and timeout overrides. When the context's deadline
// has passed, any result other than Success is replaced by a RecoverableError
// with Context "network_timeout"; a Success result is returned unchanged.
func (a *Adapter) ExecuteStage(ctx context.Context, cmd ExecuteStageCommand) stages.StageResult {
	cfg := a.baseCfg
	if cmd.ConcurrencyLimit > 0 {
		cfg.Concurrency = cmd.ConcurrencyLimit
	}

	runCtx := ctx
	cancel := func() {}
	if cmd.TimeoutSecs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(cmd.TimeoutSecs)*time.Second)
	}
	defer cancel()

	result := stages.Dispatch(runCtx, cmd.StageID, cmd.Items, cfg, a.deps)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && result.Kind != stages.KindSuccess {
		return stages.StageResult{
			Kind:                  stages.KindRecoverableError,
			StageID:               cmd.StageID,
			FailedItems:           result.FailedItems,
			Err:                   fmt.Errorf("integration: stage %s timed out after %ds: %w", cmd.StageID, cmd.TimeoutSecs, runCtx.Err()),
			SuggestedRetryDelayMs: 1500,
			Context:               "network_timeout",
		}
	}
	return result
}
