// Package selection decides which optional extras of a manifest are
// installed. The answer is settled here, before the plan is resolved, from
// command-line flags, the previously saved choice and an optional prompt.
package selection

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/huh"
	"gopkg.in/yaml.v3"

	werrors "github.com/atomikpanda/wayup/internal/errors"
	"github.com/atomikpanda/wayup/internal/manifest"
)

// Saved is the schema of $XDG_CONFIG_HOME/wayup/selection.yaml.
type Saved struct {
	Extras    []string  `yaml:"extras"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// Path returns the location of the saved selection.
func Path() string {
	return filepath.Join(xdg.ConfigHome, "wayup", "selection.yaml")
}

// Load reads the saved selection. A missing file yields nil and no error.
func Load(path string) (*Saved, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read selection: %w", err)
	}
	var s Saved
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse selection %s: %w", path, err)
	}
	return &s, nil
}

// Save writes s to path, creating parent directories.
func Save(path string, s *Saved) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create selection dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Prompter asks the user which extras to install. preselected is the answer
// the user gets by accepting the defaults.
type Prompter func(extras []manifest.Extra, preselected []string) ([]string, error)

// Request is everything Resolve takes into account.
type Request struct {
	With    []string
	Without []string
	Saved   *Saved
	// Prompt, when set, is asked last and has the final word.
	Prompt Prompter
}

// Resolve returns the selected extras in manifest order.
//
// The starting point is the saved selection when there is one, otherwise
// every extra marked default. --with adds to it and --without removes from
// it. Naming an extra the manifest does not define is an error.
func Resolve(m *manifest.Manifest, req Request) ([]string, error) {
	for _, name := range append(slices.Clone(req.With), req.Without...) {
		if m.Extra(name) == nil {
			return nil, werrors.Newf(werrors.ErrManifest, "unknown extra %q", name).
				WithDetail("known", names(m.Extras))
		}
	}
	for _, name := range req.With {
		if slices.Contains(req.Without, name) {
			return nil, werrors.Newf(werrors.ErrConfig, "extra %q is both included and excluded", name)
		}
	}

	chosen := map[string]bool{}
	if req.Saved != nil {
		for _, name := range req.Saved.Extras {
			if m.Extra(name) != nil {
				chosen[name] = true
			}
		}
	} else {
		for _, e := range m.Extras {
			if e.Default {
				chosen[e.Name] = true
			}
		}
	}
	for _, name := range req.With {
		chosen[name] = true
	}
	for _, name := range req.Without {
		delete(chosen, name)
	}
	selected := ordered(m, chosen)

	if req.Prompt == nil || len(m.Extras) == 0 {
		return selected, nil
	}
	answer, err := req.Prompt(m.Extras, selected)
	if err != nil {
		return nil, err
	}
	chosen = map[string]bool{}
	for _, name := range answer {
		if m.Extra(name) == nil {
			return nil, werrors.Newf(werrors.ErrManifest, "unknown extra %q", name)
		}
		chosen[name] = true
	}
	return ordered(m, chosen), nil
}

func ordered(m *manifest.Manifest, chosen map[string]bool) []string {
	out := []string{}
	for _, e := range m.Extras {
		if chosen[e.Name] {
			out = append(out, e.Name)
		}
	}
	return out
}

func names(extras []manifest.Extra) []string {
	out := make([]string, len(extras))
	for i, e := range extras {
		out[i] = e.Name
	}
	return out
}

// ErrAborted is returned by HuhPrompt when the user cancels the prompt.
var ErrAborted = errors.New("selection aborted")

// HuhPrompt asks with an interactive multi-select.
func HuhPrompt(extras []manifest.Extra, preselected []string) ([]string, error) {
	opts := make([]huh.Option[string], len(extras))
	for i, e := range extras {
		opts[i] = huh.NewOption(e.Label(), e.Name).Selected(slices.Contains(preselected, e.Name))
	}
	var answer []string
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Optional extras").
			Description("space to toggle, enter to confirm").
			Options(opts...).
			Value(&answer),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("extras prompt: %w", err)
	}
	return answer, nil
}
