// Package actions implements one primitive per plan.Kind. Primitives perform
// the side effect of a single plan.Action form; choosing between a primary
// form and its fallbacks, dry-run and abort handling belong to the executor.
package actions

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/wayup/internal/ageutil"
	"github.com/atomikpanda/wayup/internal/backup"
	"github.com/atomikpanda/wayup/internal/logging"
	"github.com/atomikpanda/wayup/internal/plan"
	"github.com/atomikpanda/wayup/internal/shell"
)

// Action is the executable form of a plan.Action.
type Action interface {
	// Describe returns a human-readable summary of the action.
	Describe() string
	// Run performs the side effect.
	Run(ctx context.Context) error
}

// Idempotent is optionally implemented by actions that can self-check whether
// they have already been applied. The executor uses this to record skips.
//
// Idempotency contracts per action type:
//   - PackageAction: queries the package database (rpm, pacman, dpkg,
//     flatpak). Side-effect free. cargo and pipx are never reported applied.
//   - CopyDirAction: the live directory already matches the staged template.
//   - BlockAction: the fenced marker (or the exact content) is in the file.
//   - EnvAction (file scope): the file already assigns the same value.
//   - CreateDirAction: the directory exists.
//   - ServiceAction: systemctl is-enabled succeeds.
//   - RepositoryAction, RunAction, ScriptAction: not idempotent.
type Idempotent interface {
	// IsApplied returns true when the action's desired state is already in
	// place and the action can safely be skipped.
	IsApplied(ctx context.Context) (bool, error)
}

// Env is everything the primitives need from the outside world.
type Env struct {
	Templates string // config template directory
	Scripts   string // helper script directory
	Runner    shell.Runner
	AgeKey    *ageutil.Key
	Logger    zerolog.Logger
}

// NewEnv returns an Env logging under the "actions" component.
func NewEnv(templates, scripts string, runner shell.Runner) *Env {
	return &Env{
		Templates: templates,
		Scripts:   scripts,
		Runner:    runner,
		Logger:    logging.GetLogger("actions"),
	}
}

// Build turns one form of a plan.Action into its primitive. backups receives
// anything the primitive moves or copies aside.
func (e *Env) Build(a plan.Action, backups *backup.Set) (Action, error) {
	switch a.Kind {
	case plan.InstallPackage:
		return &PackageAction{Package: a.Target, Manager: a.Manager, Copr: a.Repository, Runner: e.Runner}, nil
	case plan.EnableRepository:
		return &RepositoryAction{Name: a.Target, Manager: a.Manager, URL: a.URL, Runner: e.Runner}, nil
	case plan.CreateDir:
		return &CreateDirAction{Path: a.Target}, nil
	case plan.CopyConfigDir:
		return &CopyDirAction{
			Source:      filepath.Join(e.Templates, a.Source),
			Destination: a.Target,
			Backups:     backups,
			AgeKey:      e.AgeKey,
			Logger:      e.Logger,
		}, nil
	case plan.MergeTextBlock:
		return &BlockAction{
			Path:    a.Target,
			Content: a.Content,
			Marker:  a.Marker,
			Comment: a.Comment,
			Backups: backups,
		}, nil
	case plan.SetEnvVar:
		return &EnvAction{
			Name:    a.Target,
			Value:   a.Value,
			File:    a.Destination,
			Session: a.Scope == plan.ScopeSession,
			Backups: backups,
			Runner:  e.Runner,
		}, nil
	case plan.RunCommand:
		if a.Source != "" {
			return &ScriptAction{Script: a.Source, Dir: e.Scripts, Args: a.Args, Runner: e.Runner}, nil
		}
		return &RunAction{Command: a.Content, Runner: e.Runner}, nil
	case plan.EnableService:
		return &ServiceAction{Unit: a.Target, User: a.Scope == plan.ScopeUser, Runner: e.Runner}, nil
	default:
		return nil, fmt.Errorf("no primitive for action kind %q", a.Kind)
	}
}
