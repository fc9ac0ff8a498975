package actions

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atomikpanda/wayup/internal/ageutil"
	"github.com/atomikpanda/wayup/internal/backup"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newBackups(configRoot, home string) *backup.Set {
	return backup.New(configRoot, home, func() time.Time {
		return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	})
}

func TestCreateDirAction(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	a := &CreateDirAction{Path: dir}
	ctx := context.Background()

	if applied, _ := a.IsApplied(ctx); applied {
		t.Error("expected IsApplied=false before Run")
	}
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if applied, _ := a.IsApplied(ctx); !applied {
		t.Error("expected IsApplied=true after Run")
	}
}

// The kitty scenario: an existing kitty directory is moved into the backup
// root and replaced by the template's version.
func TestCopyDirActionBacksUpExisting(t *testing.T) {
	home := t.TempDir()
	configRoot := filepath.Join(home, ".config")
	templates := filepath.Join(home, "wayup", "configs")

	writeFile(t, filepath.Join(configRoot, "kitty", "kitty.conf"), "foo")
	writeFile(t, filepath.Join(templates, "kitty", "kitty.conf"), "font_family JetBrains Mono\n")
	writeFile(t, filepath.Join(templates, "kitty", "themes", "dark.conf"), "background #000\n")

	backups := newBackups(configRoot, home)
	a := &CopyDirAction{
		Source:      filepath.Join(templates, "kitty"),
		Destination: filepath.Join(configRoot, "kitty"),
		Backups:     backups,
	}
	ctx := context.Background()

	if applied, _ := a.IsApplied(ctx); applied {
		t.Fatal("expected IsApplied=false for differing trees")
	}
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}

	root := backups.Root()
	if root != filepath.Join(configRoot, "wayup-backup-20261017-090000") {
		t.Errorf("backup root = %q", root)
	}
	if got := readFile(t, filepath.Join(root, "kitty", "kitty.conf")); got != "foo" {
		t.Errorf("backed up kitty.conf = %q, want foo", got)
	}
	if got := readFile(t, filepath.Join(configRoot, "kitty", "kitty.conf")); got != "font_family JetBrains Mono\n" {
		t.Errorf("live kitty.conf = %q", got)
	}
	if got := readFile(t, filepath.Join(configRoot, "kitty", "themes", "dark.conf")); got != "background #000\n" {
		t.Errorf("live themes/dark.conf = %q", got)
	}
	if applied, _ := a.IsApplied(ctx); !applied {
		t.Error("expected IsApplied=true after Run")
	}

	entries, _ := os.ReadDir(configRoot)
	for _, e := range entries {
		if strings.Contains(e.Name(), "wayup-stage") {
			t.Errorf("staging directory left behind: %s", e.Name())
		}
	}
}

func TestCopyDirActionFreshInstallNoBackup(t *testing.T) {
	home := t.TempDir()
	configRoot := filepath.Join(home, ".config")
	writeFile(t, filepath.Join(home, "configs", "waybar", "config.jsonc"), "{}")

	backups := newBackups(configRoot, home)
	a := &CopyDirAction{
		Source:      filepath.Join(home, "configs", "waybar"),
		Destination: filepath.Join(configRoot, "waybar"),
		Backups:     backups,
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if backups.Root() != "" {
		t.Errorf("backup root created without an overwrite: %s", backups.Root())
	}
	if got := readFile(t, filepath.Join(configRoot, "waybar", "config.jsonc")); got != "{}" {
		t.Errorf("config.jsonc = %q", got)
	}
}

func TestCopyDirActionMissingTemplate(t *testing.T) {
	home := t.TempDir()
	dest := filepath.Join(home, ".config", "kitty")
	writeFile(t, filepath.Join(dest, "kitty.conf"), "foo")

	a := &CopyDirAction{
		Source:      filepath.Join(home, "nope"),
		Destination: dest,
		Backups:     newBackups(filepath.Join(home, ".config"), home),
	}
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := readFile(t, filepath.Join(dest, "kitty.conf")); got != "foo" {
		t.Errorf("existing config touched: %q", got)
	}
}

func TestCopyDirActionDecryptsSecrets(t *testing.T) {
	home := t.TempDir()
	configRoot := filepath.Join(home, ".config")
	tmpl := filepath.Join(home, "configs", "gh")
	key := &ageutil.Key{Passphrase: "correct horse"}

	writeFile(t, filepath.Join(tmpl, "config.yml"), "git_protocol: ssh\n")
	ct, err := key.Encrypt([]byte("oauth_token: abc\n"))
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(tmpl, "hosts.yml.age"), string(ct))

	a := &CopyDirAction{
		Source:      tmpl,
		Destination: filepath.Join(configRoot, "gh"),
		Backups:     newBackups(configRoot, home),
		AgeKey:      key,
	}
	ctx := context.Background()
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(configRoot, "gh", "hosts.yml")); got != "oauth_token: abc\n" {
		t.Errorf("hosts.yml = %q", got)
	}
	if _, err := os.Stat(filepath.Join(configRoot, "gh", "hosts.yml.age")); !os.IsNotExist(err) {
		t.Error("ciphertext copied into the live config")
	}
	if applied, err := a.IsApplied(ctx); err != nil || !applied {
		t.Errorf("IsApplied = %v, %v; want true", applied, err)
	}
}

func TestCopyDirActionEncryptedWithoutKey(t *testing.T) {
	home := t.TempDir()
	tmpl := filepath.Join(home, "configs", "gh")
	writeFile(t, filepath.Join(tmpl, "hosts.yml.age"), "ciphertext")

	a := &CopyDirAction{Source: tmpl, Destination: filepath.Join(home, ".config", "gh")}
	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no age key") {
		t.Errorf("err = %v", err)
	}
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	if !dirExists(dir) {
		t.Error("expected true for existing dir")
	}

	f := filepath.Join(dir, "file.txt")
	writeFile(t, f, "x")
	if dirExists(f) {
		t.Error("expected false for file (not dir)")
	}

	if dirExists(filepath.Join(dir, "nope")) {
		t.Error("expected false for non-existent")
	}
}
