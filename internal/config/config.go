package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/oshokin/extbuild/internal/domain/extension"
)

const (
	// DefaultConfigFilename is looked up in the working directory when no path is given.
	DefaultConfigFilename = "build_config.json"

	// DefaultDirectorySyncMessage is the commit message used after copying when none is configured.
	DefaultDirectorySyncMessage = "sync platform directories"

	// DefaultPackagesMessage is the commit message used after packaging when none is configured.
	DefaultPackagesMessage = "add release packages"

	// DefaultFilePermissions is used for files written by the build.
	DefaultFilePermissions os.FileMode = 0o644

	// DefaultDirPermissions is used for directories created by the build.
	DefaultDirPermissions os.FileMode = 0o755
)

var (
	// ErrNotFound is returned when the configuration file does not exist or cannot be read.
	ErrNotFound = errors.New("build configuration not found")
	// ErrInvalid is returned when the configuration is malformed or fails validation.
	ErrInvalid = errors.New("build configuration is invalid")
)

// GitMessages holds commit messages per publish event.
type GitMessages struct {
	// DirectorySync is used after target directories were synchronized.
	DirectorySync string `json:"directory_sync"`
	// Packages is used after release archives were produced.
	Packages string `json:"packages"`
}

// Descriptor describes the source tree or one build target.
type Descriptor struct {
	// Directory is the working directory of this platform.
	Directory string `json:"directory"`
	// Platform is the browser the directory is built for.
	Platform extension.Platform `json:"platform"`
	// ManifestVersion is the manifest schema version for this platform.
	ManifestVersion int `json:"manifest_version"`
	// Patch lists glob patterns of files that need namespace rewriting.
	Patch []string `json:"patch"`
	// Temp marks the directory as scratch space removed after packaging.
	Temp bool `json:"temp"`

	patterns []glob.Glob
}

// Config is the build configuration for one run.
type Config struct {
	ProjectNameShort      string             `json:"project_name_short"`
	EnforceVersionControl bool               `json:"enforce_version_control"`
	CleanManifest         bool               `json:"clean_manifest"`
	DefaultActions        []extension.Action `json:"default_actions"`
	ReleaseDirectory      string             `json:"release_directory"`
	Source                Descriptor         `json:"source"`
	Targets               []Descriptor       `json:"targets"`
	GitMessages           GitMessages        `json:"git_messages"`
	Debug                 bool               `json:"debug"`
}

// Load reads, schema-checks and validates the configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	cfg, err := Parse(contents, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate applies defaults and checks the fields the schema cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is not set", ErrInvalid)
	}

	if strings.TrimSpace(cfg.ProjectNameShort) == "" {
		return fmt.Errorf("%w: project_name_short is required", ErrInvalid)
	}

	if strings.TrimSpace(cfg.ReleaseDirectory) == "" {
		return fmt.Errorf("%w: release_directory is required", ErrInvalid)
	}

	if err := validateDescriptor(&cfg.Source, "source"); err != nil {
		return err
	}

	if cfg.Source.Directory == "" {
		return fmt.Errorf("%w: source.directory is required", ErrInvalid)
	}

	if cfg.Source.Temp {
		return fmt.Errorf("%w: source cannot be temporary", ErrInvalid)
	}

	if err := validateTargets(cfg); err != nil {
		return err
	}

	if cfg.GitMessages.DirectorySync == "" {
		cfg.GitMessages.DirectorySync = DefaultDirectorySyncMessage
	}

	if cfg.GitMessages.Packages == "" {
		cfg.GitMessages.Packages = DefaultPackagesMessage
	}

	return nil
}

// Actions returns the default action set declared by the configuration.
func (c *Config) Actions() extension.Actions {
	return extension.ActionsFrom(c.DefaultActions)
}

// Platforms returns the target platforms followed by the source platform,
// the order in which they are packaged.
func (c *Config) Platforms() []*Descriptor {
	result := make([]*Descriptor, 0, len(c.Targets)+1)
	for i := range c.Targets {
		result = append(result, &c.Targets[i])
	}

	return append(result, &c.Source)
}

// BuildDirectories returns the directories a build writes to: every target
// directory and the release directory.
func (c *Config) BuildDirectories() []string {
	result := make([]string, 0, len(c.Targets)+1)
	for _, target := range c.Targets {
		result = append(result, target.Directory)
	}

	return append(result, c.ReleaseDirectory)
}

// TargetPlatforms returns the names of the target platforms.
func (c *Config) TargetPlatforms() []string {
	result := make([]string, 0, len(c.Targets))
	for _, target := range c.Targets {
		result = append(result, target.Platform.String())
	}

	return result
}

// NeedsPatch reports whether the file at rel (slash-separated, relative to
// the source directory) must be rewritten for this descriptor.
func (d *Descriptor) NeedsPatch(rel string) bool {
	rel = filepath.ToSlash(rel)

	for _, pattern := range d.patterns {
		if pattern.Match(rel) {
			return true
		}
	}

	return false
}

// WithDirectory returns a copy of d pointing at another directory.
func (d *Descriptor) WithDirectory(dir string) *Descriptor {
	clone := *d
	clone.Directory = dir

	return &clone
}

// validateTargets applies target defaults and rejects targets whose archives
// would collide or whose directories overlap the source, the release
// directory or each other. Temporary targets are removed recursively after
// packaging, so an overlapping directory would take the others with it.
func validateTargets(cfg *Config) error {
	sourceDir, err := absolute(cfg.Source.Directory, "source.directory")
	if err != nil {
		return err
	}

	releaseDir, err := absolute(cfg.ReleaseDirectory, "release_directory")
	if err != nil {
		return err
	}

	if releaseDir == sourceDir {
		return fmt.Errorf("%w: release_directory cannot be the source directory", ErrInvalid)
	}

	var (
		platforms   = map[extension.Platform]string{cfg.Source.Platform: "source"}
		directories = make([]string, 0, len(cfg.Targets))
	)

	for i := range cfg.Targets {
		target := &cfg.Targets[i]
		field := fmt.Sprintf("targets[%d]", i)

		if target.Directory == "" {
			target.Directory = target.Platform.String()
		}

		if err = validateDescriptor(target, field); err != nil {
			return err
		}

		// Archives are named after the platform.
		if other, ok := platforms[target.Platform]; ok {
			return fmt.Errorf("%w: %s.platform %q is already built by %s", ErrInvalid, field, target.Platform, other)
		}

		platforms[target.Platform] = field

		var dir string

		if dir, err = absolute(target.Directory, field+".directory"); err != nil {
			return err
		}

		switch {
		case overlaps(dir, sourceDir):
			return fmt.Errorf("%w: %s.directory %q overlaps the source directory", ErrInvalid, field, target.Directory)
		case overlaps(dir, releaseDir):
			return fmt.Errorf("%w: %s.directory %q overlaps release_directory", ErrInvalid, field, target.Directory)
		}

		for j, other := range directories {
			if overlaps(dir, other) {
				return fmt.Errorf("%w: %s.directory %q overlaps targets[%d]", ErrInvalid, field, target.Directory, j)
			}
		}

		directories = append(directories, dir)
	}

	return nil
}

func absolute(dir, field string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalid, field, err)
	}

	return abs, nil
}

// overlaps reports whether one absolute directory equals or contains the other.
func overlaps(a, b string) bool {
	return within(a, b) || within(b, a)
}

// within reports whether the absolute path dir is parent or lies below it.
func within(dir, parent string) bool {
	rel, err := filepath.Rel(parent, dir)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func validateDescriptor(d *Descriptor, field string) error {
	if !d.Platform.Valid() {
		return fmt.Errorf("%w: %s.platform: %w: %q", ErrInvalid, field, extension.ErrUnknownPlatform, d.Platform)
	}

	if d.ManifestVersion != extension.ManifestV2 && d.ManifestVersion != extension.ManifestV3 {
		return fmt.Errorf("%w: %s.manifest_version must be 2 or 3, got %d", ErrInvalid, field, d.ManifestVersion)
	}

	d.patterns = make([]glob.Glob, 0, len(d.Patch))

	for _, raw := range d.Patch {
		// No separators: "*.js" has to reach scripts in nested directories too.
		pattern, err := glob.Compile(filepath.ToSlash(raw))
		if err != nil {
			return fmt.Errorf("%w: %s.patch %q: %w", ErrInvalid, field, raw, err)
		}

		d.patterns = append(d.patterns, pattern)
	}

	return nil
}
