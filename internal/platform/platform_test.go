package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRelease(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "os-release")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadOSReleaseFedora(t *testing.T) {
	path := writeRelease(t, `NAME="Fedora Linux"
VERSION_ID=40
ID=fedora
PRETTY_NAME="Fedora Linux 40 (Workstation Edition)"
`)
	rel, err := ReadOSRelease(path)
	if err != nil {
		t.Fatal(err)
	}
	if rel.ID != "fedora" {
		t.Errorf("ID = %q", rel.ID)
	}
	if rel.VersionID != "40" {
		t.Errorf("VersionID = %q", rel.VersionID)
	}
	if rel.Family() != Fedora {
		t.Errorf("Family() = %q", rel.Family())
	}
}

func TestReadOSReleaseIDLike(t *testing.T) {
	path := writeRelease(t, `ID=pika
ID_LIKE="ubuntu debian"
`)
	rel, err := ReadOSRelease(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := rel.Family(); got != Debian {
		t.Errorf("Family() = %q, want %q", got, Debian)
	}
}

func TestReadOSReleaseMissing(t *testing.T) {
	if _, err := ReadOSRelease(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFamilyUnsupported(t *testing.T) {
	rel := Release{ID: "gentoo"}
	if got := rel.Family(); got != "" {
		t.Errorf("Family() = %q, want empty", got)
	}
}

func TestFamilyVariants(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"endeavouros", Arch},
		{"opensuse-tumbleweed", Suse},
		{"linuxmint", Debian},
		{"nobara", Fedora},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := (Release{ID: tt.id}).Family(); got != tt.want {
				t.Errorf("Family(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestNativeManager(t *testing.T) {
	tests := map[string]string{
		Fedora: "dnf",
		Arch:   "pacman",
		Debian: "apt",
		Suse:   "zypper",
		"bsd":  "",
	}
	for family, want := range tests {
		if got := NativeManager(family); got != want {
			t.Errorf("NativeManager(%q) = %q, want %q", family, got, want)
		}
	}
}

func TestManagerFamily(t *testing.T) {
	tests := []struct {
		manager string
		want    string
	}{
		{"dnf", Fedora},
		{"copr", Fedora},
		{"yay", Arch},
		{"apt", Debian},
		{"zypper", Suse},
		{"flatpak", ""},
		{"cargo", ""},
	}
	for _, tt := range tests {
		if got := ManagerFamily(tt.manager); got != tt.want {
			t.Errorf("ManagerFamily(%q) = %q, want %q", tt.manager, got, tt.want)
		}
	}
}

func TestExpandPathTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	got := ExpandPath("~/Documents")
	want := filepath.Join(home, "Documents")
	if got != want {
		t.Errorf("ExpandPath(~/Documents) = %q, want %q", got, want)
	}
}

func TestExpandPathIn(t *testing.T) {
	t.Setenv("WAYUP_TEST_VAR", "/from-process")
	env := map[string]string{"WAYUP_TEST_VAR": "/custom"}
	getenv := func(k string) string { return env[k] }

	if got := ExpandPathIn("/home/u", "~/.bashrc", getenv); got != "/home/u/.bashrc" {
		t.Errorf("got %q", got)
	}
	if got := ExpandPathIn("/home/u", "~", getenv); got != "/home/u" {
		t.Errorf("got %q", got)
	}
	if got := ExpandPathIn("/home/u", "$WAYUP_TEST_VAR/sub", getenv); got != "/custom/sub" {
		t.Errorf("got %q, want the lookup's value rather than the process environment", got)
	}
	if got := ExpandPathIn("/home/u", "$UNSET_VAR/sub", getenv); got != "/sub" {
		t.Errorf("got %q", got)
	}
}
