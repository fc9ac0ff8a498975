// Package runner wires one wayup run together: preflight checks, manifest,
// extras selection, plan resolution, execution and the report.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/wayup/internal/actions"
	"github.com/atomikpanda/wayup/internal/audit"
	"github.com/atomikpanda/wayup/internal/backup"
	"github.com/atomikpanda/wayup/internal/color"
	"github.com/atomikpanda/wayup/internal/config"
	werrors "github.com/atomikpanda/wayup/internal/errors"
	"github.com/atomikpanda/wayup/internal/executor"
	"github.com/atomikpanda/wayup/internal/logging"
	"github.com/atomikpanda/wayup/internal/manifest"
	"github.com/atomikpanda/wayup/internal/plan"
	"github.com/atomikpanda/wayup/internal/platform"
	"github.com/atomikpanda/wayup/internal/preflight"
	"github.com/atomikpanda/wayup/internal/report"
	"github.com/atomikpanda/wayup/internal/selection"
	"github.com/atomikpanda/wayup/internal/shell"
	"github.com/atomikpanda/wayup/internal/template"
)

// Runner orchestrates a run on the current machine.
type Runner struct {
	Config *config.Config
	DryRun bool
	Out    io.Writer

	// Shell runs external commands. Nil uses a shell.Exec bounded by the
	// configured command timeout, attached to the terminal.
	Shell shell.Runner
	// Prompt asks for extras; nil accepts the flags and saved selection.
	Prompt selection.Prompter
	// Euid is passed to preflight; nil means os.Geteuid.
	Euid func() int

	SelectionPath string // "" disables the saved selection
	HistoryPath   string // "" disables the audit log

	Home   string
	User   string
	Now    func() time.Time
	Logger zerolog.Logger
}

// New creates a Runner for the current user.
func New(cfg *config.Config, dryRun bool) *Runner {
	home, _ := os.UserHomeDir()
	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return &Runner{
		Config:        cfg,
		DryRun:        dryRun,
		Out:           os.Stdout,
		SelectionPath: selection.Path(),
		HistoryPath:   audit.Path(),
		Home:          home,
		User:          name,
		Now:           time.Now,
		Logger:        logging.GetLogger("runner"),
	}
}

// Prepared is everything known before the first action runs.
type Prepared struct {
	Manifest *manifest.Manifest
	Release  platform.Release
	Family   string
	Extras   []string
	Plan     *plan.Plan
}

// Prepare runs every check and resolves the plan. Nothing on disk changes.
func (r *Runner) Prepare() (*Prepared, error) {
	cfg := r.Config
	pre, err := preflight.Run(preflight.Checks{
		Templates: cfg.Templates,
		Scripts:   cfg.Scripts,
		OSRelease: cfg.OSRelease,
		Euid:      r.Euid,
	})
	if err != nil {
		return nil, err
	}
	r.Logger.Info().Str("family", pre.Family).Str("release", pre.Release.Name).Msg("Detected platform")

	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return nil, err
	}

	var saved *selection.Saved
	if r.SelectionPath != "" {
		if saved, err = selection.Load(r.SelectionPath); err != nil {
			return nil, werrors.Wrap(err, werrors.ErrConfig, "saved extras selection")
		}
	}
	extras, err := selection.Resolve(m, selection.Request{
		With:    cfg.Extras.With,
		Without: cfg.Extras.Without,
		Saved:   saved,
		Prompt:  r.Prompt,
	})
	if err != nil {
		return nil, err
	}

	p, err := plan.Resolve(m, plan.Inputs{
		Family: pre.Family,
		Extras: extras,
		Vars: template.Vars{
			Home:       r.Home,
			ConfigRoot: cfg.ConfigRoot,
			Family:     pre.Family,
			User:       r.User,
			Templates:  cfg.Templates,
			Scripts:    cfg.Scripts,
		},
		Env: environ(os.Environ()),
	})
	if err != nil {
		return nil, err
	}
	for _, o := range p.Omitted() {
		r.Logger.Debug().Str("entry", o).Msg("Omitted from plan")
	}
	r.Logger.Info().Int("actions", p.Len()).Strs("extras", extras).Msg("Plan resolved")

	return &Prepared{Manifest: m, Release: pre.Release, Family: pre.Family, Extras: extras, Plan: p}, nil
}

// Apply executes the prepared plan and returns its report. A real run
// records every outcome in the history and remembers the extras selection.
func (r *Runner) Apply(ctx context.Context, prep *Prepared) *report.Report {
	env := actions.NewEnv(r.Config.Templates, r.Config.Scripts, r.shell())
	env.AgeKey = r.Config.AgeKey()

	backups := backup.New(r.Config.ConfigRoot, r.Home, r.Now)
	backups.Prefix = r.Config.BackupPrefix

	x := executor.New(env, r.Out)
	if !r.DryRun && r.HistoryPath != "" {
		x.OnOutcome = audit.New(r.HistoryPath).Record
	}
	res := x.Execute(ctx, prep.Plan, executor.RunContext{DryRun: r.DryRun, Backups: backups})
	if err := res.Err(); err != nil {
		r.Logger.Warn().Err(err).Msg("Run stopped early")
	}

	if !r.DryRun && r.SelectionPath != "" && len(res.Outcomes) > 0 {
		saved := &selection.Saved{Extras: prep.Extras, UpdatedAt: r.Now().UTC()}
		if err := selection.Save(r.SelectionPath, saved); err != nil {
			r.Logger.Warn().Err(err).Msg("Could not save extras selection")
		}
	}

	rep := report.Build(res)
	rep.Notes = prep.Manifest.Notes
	return rep
}

func environ(kv []string) map[string]string {
	env := make(map[string]string, len(kv))
	for _, e := range kv {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}
	return env
}

func (r *Runner) shell() shell.Runner {
	if r.Shell != nil {
		return r.Shell
	}
	x := shell.NewExec(r.Config.CommandTimeout)
	x.Stdin = os.Stdin
	x.Stdout = r.Out
	x.Stderr = os.Stderr
	return x
}

// WritePlan prints p grouped by phase.
func WritePlan(w io.Writer, p *plan.Plan) {
	var phase plan.Phase
	for i, a := range p.Actions() {
		if a.Phase != phase {
			phase = a.Phase
			fmt.Fprintf(w, "\n==> %s\n", color.Bold(phase.String()))
		}
		req := ""
		if a.Required {
			req = color.Dim(" [required]")
		}
		fmt.Fprintf(w, "  %3d  %s%s\n", i+1, a.DryRunDescription, req)
	}
	if omitted := p.Omitted(); len(omitted) > 0 {
		fmt.Fprintf(w, "\n%s\n", color.Dim(fmt.Sprintf("%d manifest entries skipped: not applicable to %s", len(omitted), p.Family())))
	}
}
