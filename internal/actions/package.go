package actions

import (
	"context"
	"fmt"

	"github.com/atomikpanda/wayup/internal/shell"
)

// PackageAction installs a package via the specified package manager. When
// Copr is set the COPR repository is enabled first and dnf installs from it.
type PackageAction struct {
	Package string
	Manager string // e.g. "dnf", "pacman", "apt"
	Copr    string // owner/project
	Runner  shell.Runner
}

func (a *PackageAction) Describe() string {
	if a.Copr != "" {
		return fmt.Sprintf("install package %q from copr %s", a.Package, a.Copr)
	}
	return fmt.Sprintf("install package %q via %s", a.Package, a.Manager)
}

// IsApplied queries the package database without side effects.
func (a *PackageAction) IsApplied(ctx context.Context) (bool, error) {
	args := checkArgs(a.Manager, a.Package)
	if args == nil {
		return false, nil
	}
	return shell.Probe(ctx, a.Runner, args[0], args[1:]...)
}

func (a *PackageAction) Run(ctx context.Context) error {
	if a.Copr != "" {
		if err := a.Runner.Run(ctx, "sudo", "dnf", "copr", "enable", "-y", a.Copr); err != nil {
			return fmt.Errorf("enable copr %s: %w", a.Copr, err)
		}
	}
	args, err := installArgs(a.Manager, a.Package)
	if err != nil {
		return err
	}
	return a.Runner.Run(ctx, args[0], args[1:]...)
}

// installArgs returns the command + arguments needed to install pkg with the given manager.
func installArgs(manager, pkg string) ([]string, error) {
	switch manager {
	case "dnf":
		return []string{"sudo", "dnf", "install", "-y", pkg}, nil
	case "pacman":
		return []string{"sudo", "pacman", "-S", "--needed", "--noconfirm", pkg}, nil
	case "yay", "paru":
		return []string{manager, "-S", "--needed", "--noconfirm", pkg}, nil
	case "apt":
		return []string{"sudo", "apt-get", "install", "-y", pkg}, nil
	case "zypper":
		return []string{"sudo", "zypper", "--non-interactive", "install", pkg}, nil
	case "flatpak":
		return []string{"flatpak", "install", "--user", "-y", "--noninteractive", "flathub", pkg}, nil
	case "cargo":
		return []string{"cargo", "install", "--locked", pkg}, nil
	case "pipx":
		return []string{"pipx", "install", pkg}, nil
	default:
		return nil, fmt.Errorf("unknown package manager: %q", manager)
	}
}

// checkArgs returns the query that exits 0 when pkg is installed, or nil when
// the manager has no reliable query.
func checkArgs(manager, pkg string) []string {
	switch manager {
	case "dnf", "zypper":
		return []string{"rpm", "-q", "--whatprovides", pkg}
	case "pacman", "yay", "paru":
		return []string{"pacman", "-Q", pkg}
	case "apt":
		return []string{"dpkg", "-s", pkg}
	case "flatpak":
		return []string{"flatpak", "info", pkg}
	default:
		return nil
	}
}

// RepositoryAction enables a package source.
type RepositoryAction struct {
	Name    string
	Manager string // copr | ppa | rpm | zypper | flatpak
	URL     string
	Runner  shell.Runner
}

func (a *RepositoryAction) Describe() string {
	return fmt.Sprintf("enable %s repository %s", a.Manager, a.Name)
}

func (a *RepositoryAction) Run(ctx context.Context) error {
	args, err := repoArgs(a.Manager, a.Name, a.URL)
	if err != nil {
		return err
	}
	for _, cmd := range args {
		if err := a.Runner.Run(ctx, cmd[0], cmd[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func repoArgs(manager, name, url string) ([][]string, error) {
	switch manager {
	case "copr":
		return [][]string{{"sudo", "dnf", "copr", "enable", "-y", name}}, nil
	case "ppa":
		return [][]string{
			{"sudo", "add-apt-repository", "-y", "ppa:" + name},
			{"sudo", "apt-get", "update"},
		}, nil
	case "rpm":
		return [][]string{{"sudo", "dnf", "install", "-y", url}}, nil
	case "zypper":
		return [][]string{
			{"sudo", "zypper", "--non-interactive", "addrepo", "--refresh", url, name},
			{"sudo", "zypper", "--non-interactive", "--gpg-auto-import-keys", "refresh"},
		}, nil
	case "flatpak":
		return [][]string{{"flatpak", "remote-add", "--user", "--if-not-exists", name, url}}, nil
	default:
		return nil, fmt.Errorf("unknown repository manager: %q", manager)
	}
}
