// Package executor runs a plan.Plan one action at a time.
//
// Actions run strictly in plan order on the calling goroutine. Each action
// produces exactly one Outcome. A failed required action stops the plan,
// except for best-effort kinds that depend on a live desktop session.
// Cancellation of the context is honoured between actions: the action in
// flight always finishes first.
package executor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/wayup/internal/actions"
	"github.com/atomikpanda/wayup/internal/backup"
	"github.com/atomikpanda/wayup/internal/color"
	werrors "github.com/atomikpanda/wayup/internal/errors"
	"github.com/atomikpanda/wayup/internal/logging"
	"github.com/atomikpanda/wayup/internal/plan"
)

// Status is the result kind of one action.
type Status string

const (
	Succeeded            Status = "succeeded"
	SucceededViaFallback Status = "succeeded-via-fallback"
	Skipped              Status = "skipped"
	Failed               Status = "failed"
	WouldRun             Status = "would-run"
)

// Skip reasons.
const (
	ReasonAlreadyPresent    = "already present"
	ReasonAlreadyUpToDate   = "already up to date"
	ReasonFallbackExhausted = "fallback exhausted"
)

// Attempt is one try of one form of an action. Form 0 is the primary form,
// n >= 1 is Fallbacks[n-1].
type Attempt struct {
	Form        int           `json:"form"`
	Description string        `json:"description"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Outcome is the recorded result of one action.
type Outcome struct {
	Action   plan.Action
	Status   Status
	Fallback int // 1-based fallback index for SucceededViaFallback
	Reason   string
	Detail   string
	Attempts []Attempt
	Aborted  bool // this failure stopped the plan
	Duration time.Duration
	Err      error
}

// RunContext carries the per-run values the executor needs. It replaces any
// process-wide state.
type RunContext struct {
	DryRun  bool
	Backups *backup.Set
}

// Builder turns one form of a plan.Action into an executable primitive.
type Builder interface {
	Build(a plan.Action, backups *backup.Set) (actions.Action, error)
}

// Result is everything the report needs about a run.
type Result struct {
	Outcomes    []Outcome
	Planned     int
	DryRun      bool
	Interrupted bool
	Aborted     bool
	BackupRoot  string
	Backups     []backup.Entry
}

// Err summarises why the run stopped early, or nil.
func (r Result) Err() error {
	switch {
	case r.Interrupted:
		return werrors.Newf(werrors.ErrInterrupted, "interrupted after %d of %d actions", len(r.Outcomes), r.Planned)
	case r.Aborted:
		last := r.Outcomes[len(r.Outcomes)-1]
		return werrors.Wrapf(last.Err, werrors.ErrRequiredFailed, "required action failed: %s", last.Action.Describe())
	}
	return nil
}

// Executor runs plans.
type Executor struct {
	Builder   Builder
	Out       io.Writer // live progress; nil discards
	Logger    zerolog.Logger
	OnOutcome func(Outcome)
	Now       func() time.Time
}

// New returns an Executor logging under the "executor" component.
func New(b Builder, out io.Writer) *Executor {
	return &Executor{
		Builder: b,
		Out:     out,
		Logger:  logging.GetLogger("executor"),
		Now:     time.Now,
	}
}

// Execute runs every action of p in order and returns the outcomes.
func (x *Executor) Execute(ctx context.Context, p *plan.Plan, rc RunContext) Result {
	done := logging.LogOperationStart(x.Logger, "execute plan")
	defer done()

	res := Result{Planned: p.Len(), DryRun: rc.DryRun}
	for i := 0; i < p.Len(); i++ {
		if ctx.Err() != nil {
			x.Logger.Warn().Int("completed", i).Int("planned", p.Len()).Msg("Interrupted; stopping before next action")
			res.Interrupted = true
			break
		}
		a := p.At(i)
		x.progress(i, p.Len(), a, rc.DryRun)

		// The action in flight is never cut short by cancellation.
		o := x.execute(context.WithoutCancel(ctx), a, rc)
		// A terminal interrupt also reaches the child process, so a failure
		// that coincides with cancellation is an interruption, not an abort.
		stopped := o.Status == Failed && ctx.Err() != nil
		if stopped {
			o.Aborted = false
		}
		x.progressDone(o)
		res.Outcomes = append(res.Outcomes, o)
		if x.OnOutcome != nil {
			x.OnOutcome(o)
		}
		if stopped {
			x.Logger.Warn().Str("action", a.Describe()).Msg("Action failed after interrupt; stopping")
			res.Interrupted = true
			break
		}
		if o.Aborted {
			res.Aborted = true
			x.Logger.Error().Str("action", a.Describe()).Str("reason", o.Reason).Msg("Required action failed; aborting plan")
			break
		}
	}
	if rc.Backups != nil {
		res.BackupRoot = rc.Backups.Root()
		res.Backups = rc.Backups.Entries()
	}
	return res
}

func (x *Executor) now() time.Time {
	if x.Now == nil {
		return time.Now()
	}
	return x.Now()
}

func (x *Executor) execute(ctx context.Context, a plan.Action, rc RunContext) (o Outcome) {
	start := x.now()
	o = Outcome{Action: a}
	defer func() { o.Duration = x.now().Sub(start) }()

	if rc.DryRun {
		o.Status = WouldRun
		o.Detail = a.DryRunDescription
		return o
	}

	forms := append([]plan.Action{a}, a.Fallbacks...)
	prims := make([]actions.Action, len(forms))
	buildErrs := make([]error, len(forms))
	for i, f := range forms {
		prims[i], buildErrs[i] = x.Builder.Build(f, rc.Backups)
	}

	if reason, ok := x.applied(ctx, a.Kind, prims); ok {
		o.Status = Skipped
		o.Reason = reason
		return o
	}

	var lastErr error
	for i, prim := range prims {
		if buildErrs[i] != nil {
			o.Attempts = append(o.Attempts, Attempt{Form: i, Description: forms[i].Describe(), Error: buildErrs[i].Error()})
			lastErr = buildErrs[i]
			continue
		}
		t0 := x.now()
		err := prim.Run(ctx)
		at := Attempt{Form: i, Description: prim.Describe(), Duration: x.now().Sub(t0)}
		if err == nil {
			o.Attempts = append(o.Attempts, at)
			if i == 0 {
				o.Status = Succeeded
			} else {
				o.Status = SucceededViaFallback
				o.Fallback = i
			}
			return o
		}
		at.Error = err.Error()
		o.Attempts = append(o.Attempts, at)
		lastErr = err
		x.Logger.Debug().Err(err).Str("form", prim.Describe()).Msg("Attempt failed")
	}

	o.Status = Failed
	o.Detail = lastErr.Error()
	if len(a.Fallbacks) > 0 {
		o.Reason = ReasonFallbackExhausted
		o.Err = werrors.Wrapf(lastErr, werrors.ErrFallbackExhausted, "%s: all %d forms failed", a.Describe(), len(forms)).
			WithDetail("kind", string(a.Kind))
	} else {
		o.Reason = lastErr.Error()
		o.Err = werrors.Wrapf(lastErr, werrors.ErrActionFailed, "%s", a.Describe()).
			WithDetail("kind", string(a.Kind))
	}
	o.Aborted = a.Required && !a.BestEffort()
	return o
}

// applied probes every form that can self-check. A form that is already in
// place satisfies the action.
func (x *Executor) applied(ctx context.Context, kind plan.Kind, prims []actions.Action) (string, bool) {
	for _, prim := range prims {
		if prim == nil {
			continue
		}
		idem, ok := prim.(actions.Idempotent)
		if !ok {
			continue
		}
		done, err := idem.IsApplied(ctx)
		if err != nil {
			x.Logger.Debug().Err(err).Str("form", prim.Describe()).Msg("Idempotency check failed; running action")
			continue
		}
		if done {
			if kind == plan.CopyConfigDir {
				return ReasonAlreadyUpToDate, true
			}
			return ReasonAlreadyPresent, true
		}
	}
	return "", false
}

func (x *Executor) progress(i, n int, a plan.Action, dryRun bool) {
	if x.Out == nil || dryRun {
		return
	}
	fmt.Fprintf(x.Out, "%s %s\n", color.Dim(fmt.Sprintf("[%d/%d]", i+1, n)), a.Describe())
}

func (x *Executor) progressDone(o Outcome) {
	if x.Out == nil || o.Status == WouldRun {
		return
	}
	switch o.Status {
	case Failed:
		fmt.Fprintf(x.Out, "      %s %s\n", color.Red("failed:"), o.Detail)
	case Skipped:
		fmt.Fprintf(x.Out, "      %s\n", color.Dim(o.Reason))
	case SucceededViaFallback:
		fmt.Fprintf(x.Out, "      %s\n", color.Yellow(fmt.Sprintf("ok via fallback %d", o.Fallback)))
	}
}
