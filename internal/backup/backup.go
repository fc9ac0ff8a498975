// Package backup moves or copies pre-existing user files aside before they
// are overwritten. All entries of one run share a single timestamp-named
// root directory, created only when the first backup is taken. Nothing in
// this package ever deletes a backup.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/atomikpanda/wayup/internal/fsutil"
)

// DefaultPrefix names backup roots: <parent>/wayup-backup-20261017-153000.
const DefaultPrefix = "wayup-backup-"

const stampLayout = "20060102-150405"

// Entry records one file or directory moved or copied aside.
type Entry struct {
	OriginalPath string    `json:"original_path"`
	BackupPath   string    `json:"backup_path"`
	Timestamp    time.Time `json:"timestamp"`
}

// Set is the BackupSet of a single run.
type Set struct {
	Parent string // directory that will contain the backup root
	Home   string // used to lay out backups of files outside Parent
	Prefix string

	stamp   time.Time
	root    string
	entries []Entry
	byPath  map[string]int
}

// New returns a Set whose timestamp is fixed to now().
func New(parent, home string, now func() time.Time) *Set {
	if now == nil {
		now = time.Now
	}
	return &Set{
		Parent: parent,
		Home:   home,
		Prefix: DefaultPrefix,
		stamp:  now(),
		byPath: make(map[string]int),
	}
}

// Root returns the backup root, or "" when no backup has been taken.
func (s *Set) Root() string {
	return s.root
}

// Timestamp is the shared timestamp of every entry in this run.
func (s *Set) Timestamp() time.Time {
	return s.stamp
}

// Entries returns a copy of the recorded entries in the order they were taken.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lookup returns the entry recorded for path, if any.
func (s *Set) Lookup(path string) (Entry, bool) {
	i, ok := s.byPath[filepath.Clean(path)]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// MoveAside moves path into the backup root. path no longer exists afterwards.
// If path was already backed up in this run, the earlier copy is kept (it
// holds the pre-run state) and path is removed instead.
func (s *Set) MoveAside(path string) (Entry, error) {
	path = filepath.Clean(path)
	if e, ok := s.Lookup(path); ok {
		if err := os.RemoveAll(path); err != nil {
			return Entry{}, fmt.Errorf("remove %s: %w", path, err)
		}
		return e, nil
	}
	dst, err := s.reserve(path)
	if err != nil {
		return Entry{}, err
	}
	if err := fsutil.Move(path, dst); err != nil {
		return Entry{}, fmt.Errorf("back up %s: %w", path, err)
	}
	return s.record(path, dst), nil
}

// CopyAside copies path into the backup root, leaving path in place.
// Repeated calls for the same path within a run are no-ops.
func (s *Set) CopyAside(path string) (Entry, error) {
	path = filepath.Clean(path)
	if e, ok := s.Lookup(path); ok {
		return e, nil
	}
	info, err := os.Lstat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("back up %s: %w", path, err)
	}
	dst, err := s.reserve(path)
	if err != nil {
		return Entry{}, err
	}
	if info.IsDir() {
		err = fsutil.CopyTree(path, dst)
	} else {
		err = fsutil.CopyFile(path, dst, info.Mode().Perm())
	}
	if err != nil {
		return Entry{}, fmt.Errorf("back up %s: %w", path, err)
	}
	return s.record(path, dst), nil
}

// Restore moves a backed-up entry back to its original location. It is used
// when an overwrite fails after the original was moved aside.
func (s *Set) Restore(e Entry) error {
	if fsutil.Exists(e.OriginalPath) {
		return fmt.Errorf("restore %s: destination exists", e.OriginalPath)
	}
	return fsutil.Move(e.BackupPath, e.OriginalPath)
}

func (s *Set) record(original, backupPath string) Entry {
	e := Entry{OriginalPath: original, BackupPath: backupPath, Timestamp: s.stamp}
	s.byPath[original] = len(s.entries)
	s.entries = append(s.entries, e)
	return e
}

// reserve returns the path inside the backup root that will hold original,
// creating the root on first use.
func (s *Set) reserve(original string) (string, error) {
	if err := s.ensureRoot(); err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, s.layout(original))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	return dst, nil
}

func (s *Set) ensureRoot() error {
	if s.root != "" {
		return nil
	}
	if err := os.MkdirAll(s.Parent, 0o755); err != nil {
		return fmt.Errorf("create backup parent: %w", err)
	}
	base := filepath.Join(s.Parent, s.Prefix+s.stamp.Format(stampLayout))
	candidate := base
	for i := 1; ; i++ {
		err := os.Mkdir(candidate, 0o700)
		if err == nil {
			s.root = candidate
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create backup root: %w", err)
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

// layout maps an original path to its relative location inside the root:
// paths under Parent keep their relative path, paths under Home go below
// "home/", anything else below "root/".
func (s *Set) layout(original string) string {
	if rel, ok := within(s.Parent, original); ok {
		return rel
	}
	if s.Home != "" {
		if rel, ok := within(s.Home, original); ok {
			return filepath.Join("home", rel)
		}
	}
	return filepath.Join("root", strings.TrimPrefix(original, string(filepath.Separator)))
}

func within(base, path string) (string, bool) {
	if base == "" {
		return "", false
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
