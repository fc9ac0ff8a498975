package actions

import (
	"context"
	"fmt"

	"github.com/atomikpanda/wayup/internal/shell"
)

// RunAction executes an inline shell command through sh -c.
//
// Idempotency: RunAction does not implement Idempotent; commands are
// expected to guard themselves.
type RunAction struct {
	Command string
	Runner  shell.Runner
}

func (a *RunAction) Describe() string {
	return fmt.Sprintf("run %q", a.Command)
}

func (a *RunAction) Run(ctx context.Context) error {
	return shell.Sh(ctx, a.Runner, a.Command)
}

// ServiceAction enables and starts a systemd unit.
//
// Idempotency: applied when systemctl is-enabled reports the unit enabled.
type ServiceAction struct {
	Unit   string
	User   bool
	Runner shell.Runner
}

func (a *ServiceAction) Describe() string {
	if a.User {
		return fmt.Sprintf("enable user service %s", a.Unit)
	}
	return fmt.Sprintf("enable system service %s", a.Unit)
}

func (a *ServiceAction) systemctl(args ...string) []string {
	if a.User {
		return append([]string{"systemctl", "--user"}, args...)
	}
	return append([]string{"sudo", "systemctl"}, args...)
}

func (a *ServiceAction) IsApplied(ctx context.Context) (bool, error) {
	args := []string{"systemctl", "is-enabled", "--quiet", a.Unit}
	if a.User {
		args = []string{"systemctl", "--user", "is-enabled", "--quiet", a.Unit}
	}
	return shell.Probe(ctx, a.Runner, args[0], args[1:]...)
}

func (a *ServiceAction) Run(ctx context.Context) error {
	args := a.systemctl("enable", "--now", a.Unit)
	return a.Runner.Run(ctx, args[0], args[1:]...)
}
