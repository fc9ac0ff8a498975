// Package config loads wayup's runtime settings. Layers are applied in
// order, each overriding the previous one:
//
//  1. embedded defaults (embedded/defaults.toml)
//  2. the user file, $XDG_CONFIG_HOME/wayup/config.toml or --config
//  3. WAYUP_* environment variables
//  4. explicitly set command-line flags
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/atomikpanda/wayup/internal/ageutil"
	werrors "github.com/atomikpanda/wayup/internal/errors"
	"github.com/atomikpanda/wayup/internal/platform"
)

//go:embed embedded/defaults.toml
var defaultConfig []byte

// EnvPrefix marks environment variables read as configuration.
const EnvPrefix = "WAYUP_"

// Config is the merged runtime configuration.
type Config struct {
	Source         string        `koanf:"source"`
	Manifest       string        `koanf:"manifest"`
	Templates      string        `koanf:"templates"`
	Scripts        string        `koanf:"scripts"`
	ConfigRoot     string        `koanf:"config_root"`
	OSRelease      string        `koanf:"os_release"`
	CommandTimeout time.Duration `koanf:"command_timeout"`
	BackupPrefix   string        `koanf:"backup_prefix"`
	Age            Age           `koanf:"age"`
	Extras         Extras        `koanf:"extras"`
}

// Age configures decryption of *.age template files.
type Age struct {
	Identity   string `koanf:"identity"`
	Passphrase string `koanf:"passphrase"`
}

// Extras preselects optional extras.
type Extras struct {
	With    []string `koanf:"with"`
	Without []string `koanf:"without"`
}

// Options controls Load.
type Options struct {
	// File is an explicit config file. It must exist. When empty, UserFile()
	// is read if present.
	File string
	// Overrides are flag values keyed like the config ("extras.with").
	Overrides map[string]any
}

// UserFile is the default location of the user's config file.
func UserFile() string {
	return filepath.Join(xdg.ConfigHome, "wayup", "config.toml")
}

type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

// Load merges every layer and returns the result with derived paths filled
// in. Errors carry ErrConfig.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, werrors.Wrap(err, werrors.ErrConfig, "failed to load defaults")
	}

	path := opts.File
	if path == "" {
		if p := UserFile(); fileExists(p) {
			path = p
		}
	} else if !fileExists(path) {
		return nil, werrors.Newf(werrors.ErrConfig, "config file %s not found", path)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, werrors.Wrapf(err, werrors.ErrConfig, "failed to load config from %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, werrors.Wrap(err, werrors.ErrConfig, "failed to load environment")
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, werrors.Wrap(err, werrors.ErrConfig, "failed to apply flags")
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, werrors.Wrap(err, werrors.ErrConfig, "failed to decode configuration")
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps WAYUP_COMMAND_TIMEOUT to command_timeout and
// WAYUP_AGE_IDENTITY to age.identity.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range []string{"age_", "extras_"} {
		if strings.HasPrefix(key, section) {
			return strings.TrimSuffix(section, "_") + "." + strings.TrimPrefix(key, section)
		}
	}
	return key
}

func (c *Config) resolve() error {
	if c.CommandTimeout < 0 {
		return werrors.Newf(werrors.ErrConfig, "command_timeout must not be negative, got %s", c.CommandTimeout)
	}
	if c.BackupPrefix == "" || strings.ContainsRune(c.BackupPrefix, filepath.Separator) {
		return werrors.Newf(werrors.ErrConfig, "backup_prefix %q must be a plain file name prefix", c.BackupPrefix)
	}

	c.Source = platform.ExpandPath(c.Source)
	if c.Manifest == "" {
		c.Manifest = filepath.Join(c.Source, "wayup.yaml")
		if alt := filepath.Join(c.Source, "wayup.toml"); !fileExists(c.Manifest) && fileExists(alt) {
			c.Manifest = alt
		}
	}
	if c.Templates == "" {
		c.Templates = filepath.Join(c.Source, "configs")
	}
	if c.Scripts == "" {
		c.Scripts = filepath.Join(c.Source, "scripts")
	}
	if c.ConfigRoot == "" {
		c.ConfigRoot = xdg.ConfigHome
	}
	c.Manifest = platform.ExpandPath(c.Manifest)
	c.Templates = platform.ExpandPath(c.Templates)
	c.Scripts = platform.ExpandPath(c.Scripts)
	c.ConfigRoot = platform.ExpandPath(c.ConfigRoot)
	c.Age.Identity = platform.ExpandPath(c.Age.Identity)
	return nil
}

// AgeKey returns the configured decryption key. It is never nil.
func (c *Config) AgeKey() *ageutil.Key {
	return &ageutil.Key{IdentityFile: c.Age.Identity, Passphrase: c.Age.Passphrase}
}

// String renders the effective configuration for `wayup config`-style
// debugging; the passphrase is masked.
func (c *Config) String() string {
	pass := ""
	if c.Age.Passphrase != "" {
		pass = "********"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "source          = %s\n", c.Source)
	fmt.Fprintf(&b, "manifest        = %s\n", c.Manifest)
	fmt.Fprintf(&b, "templates       = %s\n", c.Templates)
	fmt.Fprintf(&b, "scripts         = %s\n", c.Scripts)
	fmt.Fprintf(&b, "config_root     = %s\n", c.ConfigRoot)
	fmt.Fprintf(&b, "os_release      = %s\n", c.OSRelease)
	fmt.Fprintf(&b, "command_timeout = %s\n", c.CommandTimeout)
	fmt.Fprintf(&b, "backup_prefix   = %s\n", c.BackupPrefix)
	fmt.Fprintf(&b, "age.identity    = %s\n", c.Age.Identity)
	fmt.Fprintf(&b, "age.passphrase  = %s\n", pass)
	fmt.Fprintf(&b, "extras.with     = %s\n", strings.Join(c.Extras.With, ","))
	fmt.Fprintf(&b, "extras.without  = %s\n", strings.Join(c.Extras.Without, ","))
	return b.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
