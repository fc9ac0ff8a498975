package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/wayup/internal/ageutil"
	"github.com/atomikpanda/wayup/internal/backup"
	"github.com/atomikpanda/wayup/internal/fsutil"
)

// CreateDirAction makes a directory and any missing parents.
type CreateDirAction struct {
	Path string
}

func (a *CreateDirAction) Describe() string {
	return fmt.Sprintf("create directory %s", a.Path)
}

func (a *CreateDirAction) IsApplied(ctx context.Context) (bool, error) {
	return dirExists(a.Path), nil
}

func (a *CreateDirAction) Run(ctx context.Context) error {
	return os.MkdirAll(a.Path, 0o755)
}

// CopyDirAction installs a config template directory at Destination.
//
// The template is first copied into a hidden sibling of Destination, with
// *.age files decrypted in the copy. Only then is an existing Destination
// moved into the backup set and the staged copy renamed into place, so a
// half-copied tree is never visible under the final name.
//
// Idempotency: applied when Destination already holds exactly the content
// the template would produce.
type CopyDirAction struct {
	Source      string // template directory
	Destination string
	Backups     *backup.Set
	AgeKey      *ageutil.Key
	Logger      zerolog.Logger
}

func (a *CopyDirAction) Describe() string {
	return fmt.Sprintf("copy config %s -> %s", a.Source, a.Destination)
}

func (a *CopyDirAction) IsApplied(ctx context.Context) (bool, error) {
	if !dirExists(a.Destination) {
		return false, nil
	}
	if !ageutil.HasEncrypted(a.Source) {
		return fsutil.TreesEqual(a.Source, a.Destination)
	}
	if !a.AgeKey.Configured() {
		return false, nil
	}
	tmp, err := os.MkdirTemp("", "wayup-cmp-*")
	if err != nil {
		return false, err
	}
	defer os.RemoveAll(tmp)
	stage := filepath.Join(tmp, filepath.Base(a.Destination))
	if err := a.stageInto(stage); err != nil {
		return false, err
	}
	return fsutil.TreesEqual(stage, a.Destination)
}

func (a *CopyDirAction) Run(ctx context.Context) error {
	info, err := os.Stat(a.Source)
	if err != nil {
		return fmt.Errorf("config template: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config template %s is not a directory", a.Source)
	}

	parent := filepath.Dir(a.Destination)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	stage, err := os.MkdirTemp(parent, "."+filepath.Base(a.Destination)+".wayup-stage-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	if err := a.stageInto(stage); err != nil {
		return err
	}
	if err := os.Chmod(stage, info.Mode().Perm()|0o700); err != nil {
		return err
	}

	var moved *backup.Entry
	if fsutil.Exists(a.Destination) {
		if a.Backups == nil {
			return fmt.Errorf("%s exists and no backup set is available", a.Destination)
		}
		e, err := a.Backups.MoveAside(a.Destination)
		if err != nil {
			return err
		}
		moved = &e
		a.Logger.Debug().Str("original", e.OriginalPath).Str("backup", e.BackupPath).Msg("moved existing config aside")
	}

	if err := os.Rename(stage, a.Destination); err != nil {
		if moved != nil {
			if rerr := a.Backups.Restore(*moved); rerr != nil {
				return fmt.Errorf("install %s: %w (restore failed: %v)", a.Destination, err, rerr)
			}
		}
		return fmt.Errorf("install %s: %w", a.Destination, err)
	}
	return nil
}

// stageInto copies the template into dst and decrypts any *.age files there.
func (a *CopyDirAction) stageInto(dst string) error {
	if err := fsutil.CopyTree(a.Source, dst); err != nil {
		return fmt.Errorf("stage %s: %w", a.Source, err)
	}
	if !ageutil.HasEncrypted(dst) {
		return nil
	}
	if !a.AgeKey.Configured() {
		return fmt.Errorf("%s contains encrypted files but no age key is configured (set age.identity or age.passphrase)", a.Source)
	}
	n, err := a.AgeKey.DecryptTree(dst)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", a.Source, err)
	}
	a.Logger.Debug().Int("files", n).Str("template", a.Source).Msg("decrypted template files")
	return nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
