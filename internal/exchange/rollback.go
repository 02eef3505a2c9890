package exchange

import (
	"context"
	"log/slog"
)

// undoStack collects compensations for collaborator effects that already
// committed. On failure they run newest first.
type undoStack struct {
	log   *slog.Logger
	op    string
	steps []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (e *Engine) undo(op string) *undoStack {
	return &undoStack{log: e.log, op: op}
}

func (u *undoStack) push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// run compensates every recorded step. The caller's context may already be
// cancelled, so compensation runs detached from it.
func (u *undoStack) run(ctx context.Context, attrs ...any) {
	ctx = context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			args := append([]any{"op", u.op, "step", step.name, "err", err}, attrs...)
			u.log.Error("compensation failed", args...)
		}
	}
	u.steps = nil
}
