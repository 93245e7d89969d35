package engine

import (
	"context"

	"github.com/roach88/recipesync/internal/ir"
)

// Recorder persists the trace of a cascade: every completed action and
// every firing. Implemented by store.Store and MemoryRecorder.
//
// Recorder errors abort the cascade; a trace with holes is worse than a
// failed request.
type Recorder interface {
	RecordAction(ctx context.Context, rec ir.ActionRecord) error
	RecordFiring(ctx context.Context, f ir.Firing) error
}

// Observer receives engine events for metrics. Calls happen on the
// cascade's goroutine and must not block.
type Observer interface {
	ActionCompleted(rec ir.ActionRecord)
	RuleFired(rule string, frames int)
	FramesDropped(rule, stage string, n int)
	CascadeFinished(steps int, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordAction(context.Context, ir.ActionRecord) error { return nil }
func (nopRecorder) RecordFiring(context.Context, ir.Firing) error       { return nil }

type nopObserver struct{}

func (nopObserver) ActionCompleted(ir.ActionRecord)   {}
func (nopObserver) RuleFired(string, int)             {}
func (nopObserver) FramesDropped(string, string, int) {}
func (nopObserver) CascadeFinished(int, error)        {}

// MultiRecorder writes to every recorder in order, stopping at the first error.
func MultiRecorder(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

type multiRecorder []Recorder

func (m multiRecorder) RecordAction(ctx context.Context, rec ir.ActionRecord) error {
	for _, r := range m {
		if err := r.RecordAction(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (m multiRecorder) RecordFiring(ctx context.Context, f ir.Firing) error {
	for _, r := range m {
		if err := r.RecordFiring(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
