// Package config loads and validates the YAML configuration set:
// packages.yaml (the package specs) and settings.yaml (tool-wide settings).
// The sync engine only ever sees validated specs; it never parses
// configuration text itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/upmirror/upmirror/api"
)

const (
	packagesFile = "packages.yaml"
	settingsFile = "settings.yaml"
)

// Settings are tool-wide knobs from settings.yaml.
type Settings struct {
	// OutputDir receives the generated packages. Relative paths are resolved
	// against the config directory.
	OutputDir string `yaml:"output_dir,omitempty"`
	// StateFile is the sync-state database path. Defaults to state.db in the
	// config directory.
	StateFile string        `yaml:"state_file,omitempty"`
	Defaults  Defaults      `yaml:"defaults,omitempty"`
	Build     BuildSettings `yaml:"build,omitempty"`
	Registry  Registry      `yaml:"registry,omitempty"`
}

// Defaults are fallback values applied to specs that omit them.
type Defaults struct {
	Author string `yaml:"author,omitempty"`
}

// BuildSettings map onto the transformer policy. Pointers so that "unset"
// falls back to the policy default rather than false.
type BuildSettings struct {
	StripProjectFiles *bool `yaml:"strip_project_files,omitempty"`
	NestRuntime       *bool `yaml:"nest_runtime,omitempty"`
	SkipMeta          *bool `yaml:"skip_meta,omitempty"`
}

// Registry configures the publishing target.
type Registry struct {
	// Name selects the registry profile: github, npmjs, or openupm.
	Name  string `yaml:"name,omitempty"`
	Owner string `yaml:"owner,omitempty"`
}

// Config is one loaded configuration set.
type Config struct {
	Packages []*api.PackageSpec
	Settings Settings

	dir string
}

type packagesDoc struct {
	Packages []*api.PackageSpec `yaml:"packages"`
}

// Load reads and validates the configuration set in dir. A missing
// packages.yaml or settings.yaml is not an error; the set is just empty.
func Load(dir string) (*Config, error) {
	cfg := &Config{dir: dir}

	if data, err := os.ReadFile(filepath.Join(dir, packagesFile)); err == nil {
		var doc packagesDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w: %v", packagesFile, api.ErrConfigInvalid, err)
		}
		cfg.Packages = doc.Packages
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", packagesFile, err)
	}

	if data, err := os.ReadFile(filepath.Join(dir, settingsFile)); err == nil {
		if err := yaml.Unmarshal(data, &cfg.Settings); err != nil {
			return nil, fmt.Errorf("parse %s: %w: %v", settingsFile, api.ErrConfigInvalid, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", settingsFile, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for _, spec := range c.Packages {
		if spec == nil {
			continue
		}
		if spec.Version == "" {
			spec.Version = "1.0.0"
		}
		if spec.Source.Ref == "" {
			spec.Source.Ref = "main"
		}
		if spec.ExtractPath == "" {
			spec.ExtractPath = "."
		}
		if spec.Author == "" {
			spec.Author = c.Settings.Defaults.Author
		}
	}
}

// Validate enforces the package-set invariants: non-empty unique names (unique
// case-insensitively too, since output directories may land on
// case-insensitive filesystems), and a usable source locator per package.
func (c *Config) Validate() error {
	seen := map[string]string{}
	for i, spec := range c.Packages {
		if spec == nil || spec.Name == "" {
			return fmt.Errorf("package #%d: missing name: %w", i+1, api.ErrConfigInvalid)
		}
		lower := strings.ToLower(spec.Name)
		if prev, dup := seen[lower]; dup {
			return fmt.Errorf("package %q collides with %q: %w", spec.Name, prev, api.ErrConfigInvalid)
		}
		seen[lower] = spec.Name

		if spec.Source.URL == "" {
			return fmt.Errorf("package %q: missing source url: %w", spec.Name, api.ErrConfigInvalid)
		}
		if strings.HasPrefix(spec.ExtractPath, "/") || strings.Contains(spec.ExtractPath, "..") {
			return fmt.Errorf("package %q: extract_path must be repository-relative: %w",
				spec.Name, api.ErrConfigInvalid)
		}
	}
	return nil
}

// Spec returns the named package spec, or nil.
func (c *Config) Spec(name string) *api.PackageSpec {
	for _, spec := range c.Packages {
		if spec.Name == name {
			return spec
		}
	}
	return nil
}

// Add appends a spec to the set; it fails when the name is taken.
func (c *Config) Add(spec *api.PackageSpec) error {
	if c.Spec(spec.Name) != nil {
		return fmt.Errorf("package %q already configured: %w", spec.Name, api.ErrConfigInvalid)
	}
	c.Packages = append(c.Packages, spec)
	c.applyDefaults()
	return c.Validate()
}

// Remove drops the named spec, reporting whether it existed.
func (c *Config) Remove(name string) bool {
	for i, spec := range c.Packages {
		if spec.Name == name {
			c.Packages = append(c.Packages[:i], c.Packages[i+1:]...)
			return true
		}
	}
	return false
}

// Save writes packages.yaml back to the config directory.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(packagesDoc{Packages: c.Packages})
	if err != nil {
		return fmt.Errorf("encode %s: %w", packagesFile, err)
	}
	if err := os.WriteFile(filepath.Join(c.dir, packagesFile), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", packagesFile, err)
	}
	return nil
}

// OutputDir resolves the output directory against the config directory.
func (c *Config) OutputDir(override string) string {
	dir := override
	if dir == "" {
		dir = c.Settings.OutputDir
	}
	if dir == "" {
		dir = "packages"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.dir, dir)
}

// StatePath resolves the sync-state database path.
func (c *Config) StatePath() string {
	p := c.Settings.StateFile
	if p == "" {
		p = "state.db"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}
