package services

import (
	"context"
	"errors"
	"fmt"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// OutcomeKind is the terminal state of one item in a batch
type OutcomeKind string

const (
	OutcomeSatisfied   OutcomeKind = "satisfied"
	OutcomeFetched     OutcomeKind = "fetched"
	OutcomeBuilt       OutcomeKind = "built"
	OutcomeInstalled   OutcomeKind = "installed"
	OutcomeUninstalled OutcomeKind = "uninstalled"
	OutcomeRemoved     OutcomeKind = "removed"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome records what happened to one requested item
type Outcome struct {
	// Subject is the request, archive or name the outcome is about
	Subject string
	Kind    OutcomeKind

	// Entry is the stored archive for satisfied, fetched and built outcomes
	Entry *ports.StoreEntry

	// Source is the upstream descriptor a fetched archive came from
	Source string

	// Output is the server task output for install and uninstall outcomes
	Output string

	// Err is set for failed outcomes. Items never attempted wrap plugin.ErrSkipped.
	Err error
}

// Failed reports whether the outcome is a failure, skipped items included
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailed
}

// Skipped reports whether the item was never attempted
func (o Outcome) Skipped() bool {
	return o.Kind == OutcomeFailed && errors.Is(o.Err, plugin.ErrSkipped)
}

// BatchPolicy decides what happens after a failed item
type BatchPolicy int

const (
	// AbortOnFirstError stops at the first failure and reports the rest as skipped
	AbortOnFirstError BatchPolicy = iota
	// BestEffort attempts every item
	BestEffort
)

func (p BatchPolicy) String() string {
	if p == BestEffort {
		return "best-effort"
	}
	return "abort-on-first-error"
}

// PolicyFor maps a --best-effort flag to a policy
func PolicyFor(bestEffort bool) BatchPolicy {
	if bestEffort {
		return BestEffort
	}
	return AbortOnFirstError
}

// BatchResult is the ordered list of outcomes of a batch
type BatchResult struct {
	Outcomes []Outcome
}

// Failed reports whether any outcome failed. Callers exit non-zero when it does.
func (b BatchResult) Failed() bool {
	for _, o := range b.Outcomes {
		if o.Failed() {
			return true
		}
	}
	return false
}

// Count returns the number of outcomes of kind
func (b BatchResult) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Entries returns the stored archives of the successful outcomes, in order
func (b BatchResult) Entries() []ports.StoreEntry {
	var entries []ports.StoreEntry
	for _, o := range b.Outcomes {
		if !o.Failed() && o.Entry != nil {
			entries = append(entries, *o.Entry)
		}
	}
	return entries
}

// Err summarises a failed batch as a single error
func (b BatchResult) Err() error {
	var nFailed, nSkipped int
	var first error
	for _, o := range b.Outcomes {
		switch {
		case o.Skipped():
			nSkipped++
		case o.Failed():
			nFailed++
			if first == nil {
				first = fmt.Errorf("%s: %w", o.Subject, o.Err)
			}
		}
	}
	switch {
	case first == nil && nSkipped == 0:
		return nil
	case first == nil:
		return fmt.Errorf("%d of %d skipped: %w", nSkipped, len(b.Outcomes), plugin.ErrSkipped)
	case nSkipped > 0:
		return fmt.Errorf("%d of %d failed, %d skipped: %w", nFailed, len(b.Outcomes), nSkipped, first)
	}
	return fmt.Errorf("%d of %d failed: %w", nFailed, len(b.Outcomes), first)
}

// EventStage is a step an item goes through
type EventStage string

const (
	StageChecking     EventStage = "checking"
	StageResolving    EventStage = "resolving"
	StageFetching     EventStage = "fetching"
	StageBuilding     EventStage = "building"
	StageInstalling   EventStage = "installing"
	StageUninstalling EventStage = "uninstalling"
	StageRemoving     EventStage = "removing"
	StageDone         EventStage = "done"
)

// Event reports progress on one item of a batch. Outcome is set when Stage is StageDone.
type Event struct {
	Index   int
	Total   int
	Subject string
	Stage   EventStage
	Outcome *Outcome
}

// EmitFunc receives batch events. It is called synchronously.
type EmitFunc func(Event)

func (f EmitFunc) emit(e Event) {
	if f != nil {
		f(e)
	}
}

// runBatch processes subjects in order with step, applying policy after each failure
func runBatch(ctx context.Context, subjects []string, policy BatchPolicy, emit EmitFunc, step func(ctx context.Context, i int, progress func(EventStage)) Outcome) BatchResult {
	result := BatchResult{Outcomes: make([]Outcome, 0, len(subjects))}
	aborted := false

	for i, subject := range subjects {
		var o Outcome
		if aborted {
			o = Outcome{Subject: subject, Kind: OutcomeFailed, Err: fmt.Errorf("%w: an earlier item failed", plugin.ErrSkipped)}
		} else if err := ctx.Err(); err != nil {
			o = Outcome{Subject: subject, Kind: OutcomeFailed, Err: err}
		} else {
			progress := func(stage EventStage) {
				emit.emit(Event{Index: i, Total: len(subjects), Subject: subject, Stage: stage})
			}
			o = step(ctx, i, progress)
			o.Subject = subject
		}

		result.Outcomes = append(result.Outcomes, o)
		emit.emit(Event{Index: i, Total: len(subjects), Subject: subject, Stage: StageDone, Outcome: &o})

		if o.Failed() && policy == AbortOnFirstError {
			aborted = true
		}
	}
	return result
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}
