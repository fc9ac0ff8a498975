// Package platform identifies the Linux distribution family and maps package
// managers to the family that ships them.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Supported distribution families.
const (
	Fedora = "fedora"
	Arch   = "arch"
	Debian = "debian"
	Suse   = "suse"
)

// DefaultOSRelease is the identification file read by Detect.
const DefaultOSRelease = "/etc/os-release"

// Release is the subset of os-release(5) fields wayup cares about.
type Release struct {
	ID        string
	IDLike    []string
	Name      string
	VersionID string
}

// ReadOSRelease parses an os-release file.
func ReadOSRelease(path string) (Release, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return Release{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Release{
		ID:        strings.ToLower(vals["ID"]),
		IDLike:    strings.Fields(strings.ToLower(vals["ID_LIKE"])),
		Name:      vals["PRETTY_NAME"],
		VersionID: vals["VERSION_ID"],
	}, nil
}

// Family returns the supported family this release belongs to, or "" when
// neither ID nor ID_LIKE names a supported distribution.
func (r Release) Family() string {
	for _, id := range append([]string{r.ID}, r.IDLike...) {
		if f := familyOf(id); f != "" {
			return f
		}
	}
	return ""
}

func familyOf(id string) string {
	switch {
	case id == "fedora", id == "rhel", id == "centos", id == "nobara", id == "ultramarine":
		return Fedora
	case id == "arch", id == "endeavouros", id == "manjaro", id == "cachyos", id == "garuda":
		return Arch
	case id == "debian", id == "ubuntu", id == "pop", id == "linuxmint", id == "elementary":
		return Debian
	case id == "suse", strings.HasPrefix(id, "opensuse"):
		return Suse
	default:
		return ""
	}
}

// NativeManager returns the package manager used when a manifest entry does
// not name one.
func NativeManager(family string) string {
	switch family {
	case Fedora:
		return "dnf"
	case Arch:
		return "pacman"
	case Debian:
		return "apt"
	case Suse:
		return "zypper"
	default:
		return ""
	}
}

// ManagerFamily maps a package manager to the family it runs on.
// Returns "" when the manager is not family-specific.
func ManagerFamily(manager string) string {
	switch manager {
	case "dnf", "copr", "rpm":
		return Fedora
	case "pacman", "yay", "paru":
		return Arch
	case "apt", "ppa":
		return Debian
	case "zypper":
		return Suse
	default:
		return ""
	}
}

// KnownManager reports whether manager is one wayup knows how to drive.
func KnownManager(manager string) bool {
	switch manager {
	case "dnf", "pacman", "yay", "paru", "apt", "zypper", "flatpak", "cargo", "pipx":
		return true
	}
	return false
}

// ExpandPath expands a leading "~/" and environment variables in path.
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPathIn is ExpandPath with an explicit home directory and variable
// lookup. It reads nothing from the process.
func ExpandPathIn(home, path string, getenv func(string) string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(home, path[2:])
	}
	return os.Expand(path, getenv)
}
