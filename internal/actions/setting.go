package actions

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/atomikpanda/wayup/internal/backup"
	"github.com/atomikpanda/wayup/internal/fsutil"
	"github.com/atomikpanda/wayup/internal/shell"
)

// EnvAction makes an environment variable available to the desktop session.
//
// File scope writes NAME=VALUE into an environment.d(5) file, replacing an
// earlier assignment of the same name. Session scope pushes the variable into
// the running systemd user manager, which only works inside a graphical login.
//
// Idempotency: file scope is applied when the file already assigns Value.
// Session scope is never reported applied.
type EnvAction struct {
	Name    string
	Value   string
	File    string
	Session bool
	Backups *backup.Set
	Runner  shell.Runner
}

func (a *EnvAction) Describe() string {
	if a.Session {
		return fmt.Sprintf("set %s=%s in the session environment", a.Name, a.Value)
	}
	return fmt.Sprintf("set %s=%s in %s", a.Name, a.Value, a.File)
}

func (a *EnvAction) line() string {
	return a.Name + "=" + quoteEnv(a.Value)
}

func (a *EnvAction) IsApplied(ctx context.Context) (bool, error) {
	if a.Session {
		return false, nil
	}
	data, err := readOptional(a.File)
	if err != nil || data == nil {
		return false, err
	}
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) == a.line() {
			return true, nil
		}
	}
	vals, err := godotenv.Read(a.File)
	if err != nil {
		// Unparseable files are rewritten by Run.
		return false, nil
	}
	v, ok := vals[a.Name]
	return ok && v == a.Value, nil
}

func (a *EnvAction) Run(ctx context.Context) error {
	if a.Session {
		return a.Runner.Run(ctx, "systemctl", "--user", "set-environment", a.Name+"="+a.Value)
	}

	data, err := readOptional(a.File)
	if err != nil {
		return err
	}
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(a.File); err == nil {
		perm = info.Mode().Perm()
		if a.Backups == nil {
			return fmt.Errorf("%s exists and no backup set is available", a.File)
		}
		if _, err := a.Backups.CopyAside(a.File); err != nil {
			return err
		}
	}
	return fsutil.WriteFileAtomic(a.File, []byte(a.assign(string(data))), perm)
}

// assign returns existing with every assignment of Name replaced by the new
// line, or the line appended when there was none.
func (a *EnvAction) assign(existing string) string {
	var out []string
	replaced := false
	lines := strings.Split(strings.TrimSuffix(existing, "\n"), "\n")
	if existing == "" {
		lines = nil
	}
	for _, l := range lines {
		if assigns(l, a.Name) {
			if !replaced {
				out = append(out, a.line())
				replaced = true
			}
			continue
		}
		out = append(out, l)
	}
	if !replaced {
		out = append(out, a.line())
	}
	return strings.Join(out, "\n") + "\n"
}

func assigns(line, name string) bool {
	l := strings.TrimSpace(line)
	l = strings.TrimPrefix(l, "export ")
	key, _, ok := strings.Cut(l, "=")
	return ok && strings.TrimSpace(key) == name
}

// quoteEnv double-quotes values that contain whitespace or quoting
// characters.
func quoteEnv(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\"'\\#") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
