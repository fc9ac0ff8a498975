package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC)

func clock() time.Time { return fixed }

func setup(t *testing.T) (home, configRoot string) {
	t.Helper()
	home = t.TempDir()
	configRoot = filepath.Join(home, ".config")
	require.NoError(t, os.MkdirAll(configRoot, 0o755))
	return home, configRoot
}

func TestRootIsLazy(t *testing.T) {
	home, configRoot := setup(t)
	s := New(configRoot, home, clock)

	assert.Empty(t, s.Root())
	entries, err := os.ReadDir(configRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "no backup root before the first backup")
}

func TestMoveAsideDirectory(t *testing.T) {
	home, configRoot := setup(t)
	kitty := filepath.Join(configRoot, "kitty")
	require.NoError(t, os.MkdirAll(kitty, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(kitty, "kitty.conf"), []byte("foo"), 0o644))

	s := New(configRoot, home, clock)
	e, err := s.MoveAside(kitty)
	require.NoError(t, err)

	wantRoot := filepath.Join(configRoot, "wayup-backup-20261017-153000")
	assert.Equal(t, wantRoot, s.Root())
	assert.Equal(t, filepath.Join(wantRoot, "kitty"), e.BackupPath)
	assert.Equal(t, kitty, e.OriginalPath)
	assert.Equal(t, fixed, e.Timestamp)

	_, err = os.Stat(kitty)
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(wantRoot, "kitty", "kitty.conf"))
	require.NoError(t, err)
	assert.Equal(t, "foo", string(data))
}

func TestCopyAsideHomeFile(t *testing.T) {
	home, configRoot := setup(t)
	bashrc := filepath.Join(home, ".bashrc")
	require.NoError(t, os.WriteFile(bashrc, []byte("alias ll='ls -l'\n"), 0o644))

	s := New(configRoot, home, clock)
	e, err := s.CopyAside(bashrc)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(s.Root(), "home", ".bashrc"), e.BackupPath)
	_, err = os.Stat(bashrc)
	assert.NoError(t, err, "CopyAside leaves the original in place")
}

func TestSecondBackupKeepsPreRunState(t *testing.T) {
	home, configRoot := setup(t)
	bashrc := filepath.Join(home, ".bashrc")
	require.NoError(t, os.WriteFile(bashrc, []byte("v1"), 0o644))

	s := New(configRoot, home, clock)
	first, err := s.CopyAside(bashrc)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(bashrc, []byte("v2"), 0o644))
	second, err := s.CopyAside(bashrc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	data, err := os.ReadFile(first.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.Len(t, s.Entries(), 1)
}

func TestSingleRootPerRun(t *testing.T) {
	home, configRoot := setup(t)
	for _, name := range []string{"kitty", "waybar"} {
		dir := filepath.Join(configRoot, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	s := New(configRoot, home, clock)
	a, err := s.MoveAside(filepath.Join(configRoot, "kitty"))
	require.NoError(t, err)
	b, err := s.MoveAside(filepath.Join(configRoot, "waybar"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(a.BackupPath), filepath.Dir(b.BackupPath))
	assert.Equal(t, a.Timestamp, b.Timestamp)
}

func TestRootCollisionGetsSuffix(t *testing.T) {
	home, configRoot := setup(t)
	require.NoError(t, os.Mkdir(filepath.Join(configRoot, "wayup-backup-20261017-153000"), 0o700))
	dir := filepath.Join(configRoot, "hypr")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	s := New(configRoot, home, clock)
	_, err := s.MoveAside(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(configRoot, "wayup-backup-20261017-153000-1"), s.Root())
}

func TestOutsideHomeGoesUnderRoot(t *testing.T) {
	home, configRoot := setup(t)
	other := filepath.Join(t.TempDir(), "profile")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	s := New(configRoot, home, clock)
	e, err := s.CopyAside(other)
	require.NoError(t, err)
	assert.Contains(t, e.BackupPath, filepath.Join(s.Root(), "root"))
}

func TestRestore(t *testing.T) {
	home, configRoot := setup(t)
	dir := filepath.Join(configRoot, "nvim")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte("x"), 0o644))

	s := New(configRoot, home, clock)
	e, err := s.MoveAside(dir)
	require.NoError(t, err)
	require.NoError(t, s.Restore(e))

	data, err := os.ReadFile(filepath.Join(dir, "init.lua"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}
