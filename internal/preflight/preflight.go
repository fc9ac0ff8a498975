// Package preflight verifies everything that must hold before a plan is
// resolved. Every failure is an ErrPrecondition error and nothing here
// touches the filesystem beyond reading.
package preflight

import (
	"os"

	werrors "github.com/atomikpanda/wayup/internal/errors"
	"github.com/atomikpanda/wayup/internal/platform"
)

// Checks describes one preflight run. Zero values fall back to the live
// system.
type Checks struct {
	Templates string
	Scripts   string
	OSRelease string     // default platform.DefaultOSRelease
	Euid      func() int // default os.Geteuid
}

// Result is what the checks learned about the machine.
type Result struct {
	Release platform.Release
	Family  string
}

// Run performs the checks in order: privilege level, collaborator
// directories, OS family. It stops at the first failure.
func Run(c Checks) (Result, error) {
	euid := c.Euid
	if euid == nil {
		euid = os.Geteuid
	}
	if euid() == 0 {
		return Result{}, werrors.New(werrors.ErrPrecondition,
			"refusing to run as root: files in your home directory would end up owned by root; run as your normal user, wayup calls sudo where needed").
			WithDetail("check", "privilege")
	}

	if err := requireDir("templates", c.Templates); err != nil {
		return Result{}, err
	}
	if err := requireDir("scripts", c.Scripts); err != nil {
		return Result{}, err
	}

	path := c.OSRelease
	if path == "" {
		path = platform.DefaultOSRelease
	}
	rel, err := platform.ReadOSRelease(path)
	if err != nil {
		return Result{}, werrors.Wrap(err, werrors.ErrPrecondition, "cannot identify the operating system").
			WithDetail("check", "os-release").
			WithDetail("path", path)
	}
	family := rel.Family()
	if family == "" {
		name := rel.Name
		if name == "" {
			name = rel.ID
		}
		return Result{}, werrors.Newf(werrors.ErrPrecondition,
			"unsupported distribution %q: wayup supports the %s, %s, %s and %s families",
			name, platform.Fedora, platform.Arch, platform.Debian, platform.Suse).
			WithDetail("check", "os-release").
			WithDetail("id", rel.ID)
	}
	return Result{Release: rel, Family: family}, nil
}

func requireDir(what, path string) error {
	if path == "" {
		return werrors.Newf(werrors.ErrPrecondition, "no %s directory configured", what).
			WithDetail("check", what)
	}
	info, err := os.Stat(path)
	if err != nil {
		return werrors.Wrapf(err, werrors.ErrPrecondition, "%s directory %s not found", what, path).
			WithDetail("check", what).
			WithDetail("path", path)
	}
	if !info.IsDir() {
		return werrors.Newf(werrors.ErrPrecondition, "%s path %s is not a directory", what, path).
			WithDetail("check", what).
			WithDetail("path", path)
	}
	return nil
}
