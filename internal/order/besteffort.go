package order

import (
	"context"
	"fmt"
	"log/slog"
)

// Outcome records what a best-effort step did. A failed outcome is never
// propagated; it exists for logging, metrics and tests.
type Outcome struct {
	Name     string
	Err      error
	Panicked bool
}

// OK reports whether the step completed without error.
func (o Outcome) OK() bool { return o.Err == nil }

// BestEffort runs step and absorbs its failure, panics included. Callers use
// it for work whose failure must not change the result of a run that already
// succeeded.
func BestEffort(ctx context.Context, logger *slog.Logger, name string, step func(ctx context.Context) error) (out Outcome) {
	out.Name = name
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%s panicked: %v", name, r)
			out.Panicked = true
		}
		if out.Err != nil && logger != nil {
			logger.WarnContext(ctx, "best-effort step failed", "step", name, "error", out.Err, "panic", out.Panicked)
		}
	}()
	out.Err = step(ctx)
	return out
}
