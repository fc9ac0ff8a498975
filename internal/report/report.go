// Package report turns an executor.Result into the terminal output of a run:
// per-status counts, an ordered transcript, the backup location and the exit
// code.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/atomikpanda/wayup/internal/backup"
	"github.com/atomikpanda/wayup/internal/color"
	"github.com/atomikpanda/wayup/internal/executor"
)

// Exit codes of a completed run.
const (
	ExitOK          = 0
	ExitAborted     = 1
	ExitInterrupted = 130
)

// Counts is the number of outcomes per status. NotAttempted counts planned
// actions that never ran because the plan stopped early.
type Counts struct {
	Succeeded    int `json:"succeeded"`
	ViaFallback  int `json:"succeeded_via_fallback"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	WouldRun     int `json:"would_run"`
	NotAttempted int `json:"not_attempted"`
}

// Total is the number of recorded outcomes.
func (c Counts) Total() int {
	return c.Succeeded + c.ViaFallback + c.Skipped + c.Failed + c.WouldRun
}

// Report is the final, read-only view of one run.
type Report struct {
	Result executor.Result

	// Notes is markdown shown after the summary.
	Notes string
	// Markdown renders Notes for a terminal. Nil prints them verbatim.
	Markdown func(string) string
}

// Build wraps res. The outcomes are not copied; a Report never modifies them.
func Build(res executor.Result) *Report {
	return &Report{Result: res}
}

// Summary counts outcomes per status.
func (r *Report) Summary() Counts {
	var c Counts
	for _, o := range r.Result.Outcomes {
		switch o.Status {
		case executor.Succeeded:
			c.Succeeded++
		case executor.SucceededViaFallback:
			c.ViaFallback++
		case executor.Skipped:
			c.Skipped++
		case executor.Failed:
			c.Failed++
		case executor.WouldRun:
			c.WouldRun++
		}
	}
	if n := r.Result.Planned - len(r.Result.Outcomes); n > 0 {
		c.NotAttempted = n
	}
	return c
}

// ExitCode is 1 when a required action aborted the plan, 130 when the run
// was interrupted and 0 otherwise. Optional failures never change it.
func (r *Report) ExitCode() int {
	switch {
	case r.Result.Interrupted:
		return ExitInterrupted
	case r.Result.Aborted:
		return ExitAborted
	}
	return ExitOK
}

// Render writes the human-readable transcript to w.
func (r *Report) Render(w io.Writer) error {
	var b strings.Builder
	title := "wayup install report"
	if r.Result.DryRun {
		title = "wayup dry run: nothing was changed"
	}
	fmt.Fprintf(&b, "\n%s\n%s\n", color.Bold(title), color.Dim(strings.Repeat("-", len(title))))

	width := len(fmt.Sprint(len(r.Result.Outcomes)))
	for i, o := range r.Result.Outcomes {
		r.renderOutcome(&b, i+1, width, o)
	}

	c := r.Summary()
	b.WriteString("\n")
	b.WriteString(summaryLine(c))
	b.WriteString("\n")

	switch {
	case r.Result.Interrupted:
		fmt.Fprintf(&b, "%s stopped after %d of %d action(s)\n", color.BoldYellow("interrupted:"), len(r.Result.Outcomes), r.Result.Planned)
	case r.Result.Aborted:
		last := r.Result.Outcomes[len(r.Result.Outcomes)-1]
		fmt.Fprintf(&b, "%s required action failed: %s\n", color.BoldRed("aborted:"), last.Action.Describe())
		fmt.Fprintf(&b, "%d remaining action(s) were not attempted\n", c.NotAttempted)
	}

	if r.Result.BackupRoot != "" {
		fmt.Fprintf(&b, "\nExisting files were backed up to:\n  %s\n", r.Result.BackupRoot)
		for _, e := range r.Result.Backups {
			fmt.Fprintf(&b, "  %s %s\n", color.Dim("from"), e.OriginalPath)
		}
	}

	if notes := strings.TrimSpace(r.Notes); notes != "" && !r.Result.DryRun && r.ExitCode() == ExitOK {
		b.WriteString("\n")
		if r.Markdown != nil {
			b.WriteString(r.Markdown(notes))
		} else {
			b.WriteString(notes)
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Report) renderOutcome(b *strings.Builder, n, width int, o executor.Outcome) {
	desc := o.Action.Describe()
	if o.Status == executor.WouldRun && o.Detail != "" {
		desc = o.Detail
	}
	label := fmt.Sprintf("%-9s", statusLabel(o))
	switch o.Status {
	case executor.Succeeded:
		label = color.Green(label)
	case executor.SucceededViaFallback:
		label = color.Yellow(label)
	case executor.Failed:
		label = color.BoldRed(label)
	case executor.Skipped, executor.WouldRun:
		label = color.Dim(label)
	}
	fmt.Fprintf(b, "%*d. %s %s", width, n, label, desc)

	switch o.Status {
	case executor.Skipped:
		fmt.Fprintf(b, " %s", color.Dim("("+o.Reason+")"))
	case executor.SucceededViaFallback:
		fmt.Fprintf(b, " %s", color.Dim(fmt.Sprintf("(via fallback %d)", o.Fallback)))
	case executor.Failed:
		if o.Action.Required {
			fmt.Fprintf(b, " %s", color.Dim("(required)"))
		}
	}
	b.WriteString("\n")

	if o.Status != executor.Failed && o.Status != executor.SucceededViaFallback {
		return
	}
	pad := strings.Repeat(" ", width+2)
	for _, at := range o.Attempts {
		result := color.Green("ok")
		if at.Error != "" {
			result = color.Red(firstLine(at.Error))
		}
		fmt.Fprintf(b, "%s  %d) %s: %s\n", pad, at.Form+1, at.Description, result)
	}
	if o.Status == executor.Failed && o.Reason != "" && o.Reason != o.Detail {
		fmt.Fprintf(b, "%s  reason: %s\n", pad, o.Reason)
	}
}

func statusLabel(o executor.Outcome) string {
	switch o.Status {
	case executor.Succeeded:
		return "ok"
	case executor.SucceededViaFallback:
		return "fallback"
	case executor.Skipped:
		return "skipped"
	case executor.Failed:
		return "FAILED"
	case executor.WouldRun:
		return "would run"
	}
	return string(o.Status)
}

func summaryLine(c Counts) string {
	parts := []string{
		color.Green(fmt.Sprintf("%d succeeded", c.Succeeded)),
	}
	if c.ViaFallback > 0 {
		parts = append(parts, color.Yellow(fmt.Sprintf("%d via fallback", c.ViaFallback)))
	}
	parts = append(parts, fmt.Sprintf("%d skipped", c.Skipped))
	failed := fmt.Sprintf("%d failed", c.Failed)
	if c.Failed > 0 {
		failed = color.Red(failed)
	}
	parts = append(parts, failed)
	if c.WouldRun > 0 {
		parts = append(parts, fmt.Sprintf("%d would run", c.WouldRun))
	}
	if c.NotAttempted > 0 {
		parts = append(parts, fmt.Sprintf("%d not attempted", c.NotAttempted))
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

type jsonOutcome struct {
	Index       int                `json:"index"`
	Kind        string             `json:"kind"`
	Target      string             `json:"target"`
	Description string             `json:"description"`
	Required    bool               `json:"required"`
	Status      executor.Status    `json:"status"`
	Fallback    int                `json:"fallback,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Detail      string             `json:"detail,omitempty"`
	Attempts    []executor.Attempt `json:"attempts,omitempty"`
	Aborted     bool               `json:"aborted,omitempty"`
	DurationMS  int64              `json:"duration_ms"`
}

type jsonReport struct {
	DryRun      bool           `json:"dry_run"`
	Interrupted bool           `json:"interrupted"`
	Aborted     bool           `json:"aborted"`
	ExitCode    int            `json:"exit_code"`
	Planned     int            `json:"planned"`
	Summary     Counts         `json:"summary"`
	BackupRoot  string         `json:"backup_root,omitempty"`
	Backups     []backup.Entry `json:"backups,omitempty"`
	Outcomes    []jsonOutcome  `json:"outcomes"`
}

// WriteJSON writes the machine-readable form of the report to w.
func (r *Report) WriteJSON(w io.Writer) error {
	out := jsonReport{
		DryRun:      r.Result.DryRun,
		Interrupted: r.Result.Interrupted,
		Aborted:     r.Result.Aborted,
		ExitCode:    r.ExitCode(),
		Planned:     r.Result.Planned,
		Summary:     r.Summary(),
		BackupRoot:  r.Result.BackupRoot,
		Backups:     r.Result.Backups,
		Outcomes:    make([]jsonOutcome, len(r.Result.Outcomes)),
	}
	for i, o := range r.Result.Outcomes {
		out.Outcomes[i] = jsonOutcome{
			Index:       i + 1,
			Kind:        string(o.Action.Kind),
			Target:      o.Action.Target,
			Description: o.Action.Describe(),
			Required:    o.Action.Required,
			Status:      o.Status,
			Fallback:    o.Fallback,
			Reason:      o.Reason,
			Detail:      o.Detail,
			Attempts:    o.Attempts,
			Aborted:     o.Aborted,
			DurationMS:  o.Duration.Milliseconds(),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
