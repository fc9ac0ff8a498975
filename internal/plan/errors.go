package plan

import (
	"fmt"
	"strings"

	werrors "github.com/atomikpanda/wayup/internal/errors"
)

// Problem is one malformed manifest entry.
type Problem struct {
	Entry  string // e.g. "packages[2] (hyprland)"
	Reason string
}

func (p Problem) String() string {
	return p.Entry + ": " + p.Reason
}

// ManifestError lists every malformed entry found while resolving.
type ManifestError struct {
	Problems []Problem
}

func (e *ManifestError) Error() string {
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = "  " + p.String()
	}
	noun := "entry"
	if len(e.Problems) != 1 {
		noun = "entries"
	}
	return fmt.Sprintf("%d malformed manifest %s:\n%s", len(e.Problems), noun, strings.Join(lines, "\n"))
}

func manifestError(problems []Problem) error {
	return werrors.Wrap(&ManifestError{Problems: problems}, werrors.ErrManifest, "invalid manifest")
}
