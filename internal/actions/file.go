package actions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/atomikpanda/wayup/internal/backup"
	"github.com/atomikpanda/wayup/internal/fsutil"
)

// BlockAction merges a block of text into a file such as ~/.bashrc.
//
// With a Marker the block is fenced:
//
//	# >>> wayup:local-bin-path >>>
//	export PATH="$HOME/.local/bin:$PATH"
//	# <<< wayup:local-bin-path <<<
//
// and a fenced block whose body differs is replaced in place. Without a
// Marker the exact content is searched for and appended when absent.
//
// Idempotency: applied when the fenced block (or the exact content) is
// already in the file.
type BlockAction struct {
	Path    string
	Content string
	Marker  string
	Comment string // comment leader for the fence lines, default "#"
	Backups *backup.Set
}

func (a *BlockAction) Describe() string {
	if a.Marker != "" {
		return fmt.Sprintf("merge block %q into %s", a.Marker, a.Path)
	}
	return fmt.Sprintf("merge block into %s", a.Path)
}

func (a *BlockAction) begin() string {
	return fmt.Sprintf("%s >>> wayup:%s >>>", a.leader(), a.Marker)
}

func (a *BlockAction) end() string {
	return fmt.Sprintf("%s <<< wayup:%s <<<", a.leader(), a.Marker)
}

func (a *BlockAction) leader() string {
	if a.Comment == "" {
		return "#"
	}
	return a.Comment
}

func (a *BlockAction) body() string {
	return strings.TrimRight(a.Content, "\n")
}

// block is the exact text this action contributes, including the trailing
// newline.
func (a *BlockAction) block() string {
	if a.Marker == "" {
		return a.body() + "\n"
	}
	return a.begin() + "\n" + a.body() + "\n" + a.end() + "\n"
}

func (a *BlockAction) IsApplied(ctx context.Context) (bool, error) {
	data, err := readOptional(a.Path)
	if err != nil {
		return false, err
	}
	if a.Marker == "" {
		return containsLines(string(data), a.body()), nil
	}
	lines := strings.Split(string(data), "\n")
	start, stop, ok := a.fence(lines)
	if !ok {
		return false, nil
	}
	return strings.Join(lines[start+1:stop], "\n") == a.body(), nil
}

func (a *BlockAction) Run(ctx context.Context) error {
	data, err := readOptional(a.Path)
	if err != nil {
		return err
	}
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(a.Path); err == nil {
		perm = info.Mode().Perm()
		if a.Backups == nil {
			return fmt.Errorf("%s exists and no backup set is available", a.Path)
		}
		if _, err := a.Backups.CopyAside(a.Path); err != nil {
			return err
		}
	}
	return fsutil.WriteFileAtomic(a.Path, []byte(a.merge(string(data))), perm)
}

// merge returns existing with the block applied.
func (a *BlockAction) merge(existing string) string {
	if a.Marker != "" {
		lines := strings.Split(existing, "\n")
		if start, stop, ok := a.fence(lines); ok {
			replaced := append([]string{}, lines[:start]...)
			replaced = append(replaced, strings.Split(strings.TrimSuffix(a.block(), "\n"), "\n")...)
			replaced = append(replaced, lines[stop+1:]...)
			return strings.Join(replaced, "\n")
		}
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return existing + a.block()
}

// fence locates the begin and end lines of this action's marker.
func (a *BlockAction) fence(lines []string) (start, stop int, ok bool) {
	begin, end := a.begin(), a.end()
	start = -1
	for i, l := range lines {
		switch strings.TrimSpace(l) {
		case begin:
			if start < 0 {
				start = i
			}
		case end:
			if start >= 0 {
				return start, i, true
			}
		}
	}
	return 0, 0, false
}

// containsLines reports whether block occurs in text on whole lines.
func containsLines(text, block string) bool {
	text = "\n" + text + "\n"
	return strings.Contains(text, "\n"+block+"\n")
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}
