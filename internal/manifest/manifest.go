// Package manifest defines the declarative description of a desktop profile:
// what to install, which config directories to copy, which text blocks and
// environment variables to merge, and which optional extras exist.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	werrors "github.com/atomikpanda/wayup/internal/errors"
)

// Manifest is the top-level document.
type Manifest struct {
	Repositories []Repository `yaml:"repositories,omitempty" toml:"repositories,omitempty"`
	Packages     []Package    `yaml:"packages,omitempty" toml:"packages,omitempty"`
	Configs      []Config     `yaml:"configs,omitempty" toml:"configs,omitempty"`
	Directories  []string     `yaml:"directories,omitempty" toml:"directories,omitempty"`
	Blocks       []Block      `yaml:"blocks,omitempty" toml:"blocks,omitempty"`
	Environment  []EnvVar     `yaml:"environment,omitempty" toml:"environment,omitempty"`
	Services     []Service    `yaml:"services,omitempty" toml:"services,omitempty"`
	Commands     []Command    `yaml:"commands,omitempty" toml:"commands,omitempty"`
	Extras       []Extra      `yaml:"extras,omitempty" toml:"extras,omitempty"`
	Notes        string       `yaml:"notes,omitempty" toml:"notes,omitempty"`
}

// Repository is a package source enabled before any package install.
type Repository struct {
	Name     string   `yaml:"name" toml:"name"`
	Manager  string   `yaml:"manager" toml:"manager"` // copr | ppa | rpm | zypper | flatpak
	URL      string   `yaml:"url,omitempty" toml:"url,omitempty"`
	Families []string `yaml:"families,omitempty" toml:"families,omitempty"`
	Required bool     `yaml:"required,omitempty" toml:"required,omitempty"`
	Via      []string `yaml:"via,omitempty" toml:"via,omitempty"` // fallbacks
}

// Package is one desired package. Via lists installation methods in order of
// preference; an empty Via means the family's native package manager.
type Package struct {
	Category string   `yaml:"category,omitempty" toml:"category,omitempty"`
	Name     string   `yaml:"name" toml:"name"`
	Via      []string `yaml:"via,omitempty" toml:"via,omitempty"`
	Families []string `yaml:"families,omitempty" toml:"families,omitempty"`
	Required bool     `yaml:"required,omitempty" toml:"required,omitempty"`
}

// Config is a directory under the templates directory copied into the user's
// config root.
type Config struct {
	Name     string `yaml:"name" toml:"name"`
	Dest     string `yaml:"dest,omitempty" toml:"dest,omitempty"`
	Required bool   `yaml:"required,omitempty" toml:"required,omitempty"`
}

// Block is text merged once into a file such as ~/.bashrc.
type Block struct {
	Target   string `yaml:"target" toml:"target"`
	Marker   string `yaml:"marker,omitempty" toml:"marker,omitempty"`
	Comment  string `yaml:"comment,omitempty" toml:"comment,omitempty"`
	Content  string `yaml:"content" toml:"content"`
	Required bool   `yaml:"required,omitempty" toml:"required,omitempty"`
}

// EnvVar is an environment variable made available to the desktop session.
type EnvVar struct {
	Name     string `yaml:"name" toml:"name"`
	Value    string `yaml:"value" toml:"value"`
	Scope    string `yaml:"scope,omitempty" toml:"scope,omitempty"` // file (default) | session
	File     string `yaml:"file,omitempty" toml:"file,omitempty"`
	Required bool   `yaml:"required,omitempty" toml:"required,omitempty"` // ignored for session scope
}

// Service is a systemd unit enabled after everything else is in place.
type Service struct {
	Name string `yaml:"name" toml:"name"`
	User bool   `yaml:"user,omitempty" toml:"user,omitempty"`
}

// Command is an inline shell command run before packages (pre) or at the
// end (post).
type Command struct {
	Name     string   `yaml:"name" toml:"name"`
	Run      string   `yaml:"run" toml:"run"`
	Phase    string   `yaml:"phase,omitempty" toml:"phase,omitempty"` // pre | post (default)
	Families []string `yaml:"families,omitempty" toml:"families,omitempty"`
	Required bool     `yaml:"required,omitempty" toml:"required,omitempty"`
}

// Extra is an optional bundle the user opts into.
type Extra struct {
	Name     string    `yaml:"name" toml:"name"`
	Prompt   string    `yaml:"prompt,omitempty" toml:"prompt,omitempty"`
	Default  bool      `yaml:"default,omitempty" toml:"default,omitempty"`
	Packages []Package `yaml:"packages,omitempty" toml:"packages,omitempty"`
	Configs  []Config  `yaml:"configs,omitempty" toml:"configs,omitempty"`
}

// Extra returns the named extra, or nil.
func (m *Manifest) Extra(name string) *Extra {
	for i := range m.Extras {
		if m.Extras[i].Name == name {
			return &m.Extras[i]
		}
	}
	return nil
}

// Label is the text shown when asking whether to include the extra.
func (e Extra) Label() string {
	if e.Prompt != "" {
		return e.Prompt
	}
	return e.Name
}

// Load reads a manifest file. Files ending in .toml are decoded as TOML,
// anything else as YAML. Unknown keys are rejected.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.Wrapf(err, werrors.ErrManifest, "read manifest %s", path)
	}
	m, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, werrors.Wrapf(err, werrors.ErrManifest, "parse manifest %s", path)
	}
	return m, nil
}

// Parse decodes manifest bytes.
func Parse(data []byte, isTOML bool) (*Manifest, error) {
	var m Manifest
	if isTOML {
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &m, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return &m, nil
}
