package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atomikpanda/wayup/internal/shell"
)

// ScriptAction runs a helper script from the scripts directory, typically a
// build-from-source fallback.
type ScriptAction struct {
	Script string // relative to Dir
	Dir    string
	Args   []string
	Runner shell.Runner
}

func (a *ScriptAction) Describe() string {
	if len(a.Args) > 0 {
		return fmt.Sprintf("run helper %s %s", a.Script, strings.Join(a.Args, " "))
	}
	return fmt.Sprintf("run helper %s", a.Script)
}

func (a *ScriptAction) path() (string, error) {
	p := filepath.Join(a.Dir, a.Script)
	rel, err := filepath.Rel(a.Dir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("helper %q is outside the scripts directory", a.Script)
	}
	return p, nil
}

func (a *ScriptAction) Run(ctx context.Context) error {
	p, err := a.path()
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("helper script: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("helper script %s is a directory", p)
	}
	return a.Runner.Run(ctx, "bash", append([]string{p}, a.Args...)...)
}
