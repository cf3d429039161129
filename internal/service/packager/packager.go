package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/multierr"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/domain/extension"
	"github.com/oshokin/extbuild/internal/logger"
	"github.com/oshokin/extbuild/internal/repository/manifest"
	"github.com/oshokin/extbuild/internal/service/filesync"
	"github.com/oshokin/extbuild/internal/service/translator"
)

const archiveExtension = ".zip"

// ErrReleaseExists is returned when archives for the current version exist and may not be overwritten.
var ErrReleaseExists = errors.New("will not overwrite existing packages")

// Options are the inputs of a Packager.
type Options struct {
	// Config is the loaded build configuration.
	Config *config.Config
	// Manifest is the source manifest.
	Manifest *extension.Manifest
	// Archiver compresses scratch directories.
	Archiver Archiver
	// Force allows overwriting archives of an already released version.
	Force bool
	// ScratchRoot is where scratch directories are created; defaults to os.TempDir().
	ScratchRoot string
}

// Packager builds the release archives for one run.
type Packager struct {
	cfg         *config.Config
	manifest    *extension.Manifest
	archiver    Archiver
	force       bool
	scratchRoot string
	syncer      *filesync.Synchronizer
}

// New creates a packager.
func New(opts *Options) *Packager {
	scratchRoot := opts.ScratchRoot
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}

	return &Packager{
		cfg:         opts.Config,
		manifest:    opts.Manifest,
		archiver:    opts.Archiver,
		force:       opts.Force,
		scratchRoot: scratchRoot,
		syncer:      filesync.New(&opts.Config.Source, opts.Manifest.SchemaVersion(), opts.Config.BuildDirectories()...),
	}
}

// BaseName returns {project}_v{version}_{platform}.
func (p *Packager) BaseName(platform extension.Platform) string {
	return fmt.Sprintf("%s_v%s_%s", p.cfg.ProjectNameShort, p.manifest.Version(), platform)
}

// ArchivePath returns the release archive location for platform.
func (p *Packager) ArchivePath(platform extension.Platform) string {
	return filepath.Join(p.cfg.ReleaseDirectory, p.BaseName(platform)+archiveExtension)
}

// ReleasePath returns the location of the release description for the current version.
func (p *Packager) ReleasePath() string {
	name := fmt.Sprintf("%s_v%s_release.yaml", p.cfg.ProjectNameShort, p.manifest.Version())

	return filepath.Join(p.cfg.ReleaseDirectory, name)
}

// Check refuses to continue when archives of this version already exist,
// unless forced or version control enforcement is off. It also warns when a
// newer version has already been released.
func (p *Packager) Check(ctx context.Context) error {
	version := p.manifest.Version()

	var existing []string

	for _, descriptor := range p.cfg.Platforms() {
		archivePath := p.ArchivePath(descriptor.Platform)

		if _, err := os.Stat(archivePath); err == nil {
			existing = append(existing, filepath.Base(archivePath))
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", archivePath, err)
		}
	}

	if len(existing) > 0 {
		if p.cfg.EnforceVersionControl && !p.force {
			logger.WarnKV(ctx, "Will not overwrite existing packages", "version", version, "archives", existing)
			return fmt.Errorf("%w for version %s", ErrReleaseExists, version)
		}

		logger.WarnKV(ctx, "Overwriting existing packages", "version", version, "archives", existing)
	}

	p.checkHistory(ctx)

	return nil
}

// checkHistory warns when the release directory holds archives of a newer version.
func (p *Packager) checkHistory(ctx context.Context) {
	current, err := semver.NewVersion(p.manifest.Version())
	if err != nil {
		logger.DebugKV(ctx, "Version is not semantic, skipping release history check",
			"version", p.manifest.Version(), "error", err)

		return
	}

	var latest *semver.Version

	for _, released := range p.releasedVersions() {
		if latest == nil || released.GreaterThan(latest) {
			latest = released
		}
	}

	if latest != nil && current.LessThan(latest) {
		logger.WarnKV(ctx, "A newer version has already been released",
			"version", current.Original(), "released", latest.Original())
	}
}

// releasedVersions parses the versions of the project's archives in the release directory.
func (p *Packager) releasedVersions() []*semver.Version {
	prefix := p.cfg.ProjectNameShort + "_v"

	matches, err := filepath.Glob(filepath.Join(p.cfg.ReleaseDirectory, prefix+"*"+archiveExtension))
	if err != nil {
		return nil
	}

	versions := make([]*semver.Version, 0, len(matches))

	for _, match := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(match), prefix), archiveExtension)

		separator := strings.LastIndex(name, "_")
		if separator <= 0 {
			continue
		}

		if !extension.Platform(name[separator+1:]).Valid() {
			continue
		}

		released, err := semver.NewVersion(name[:separator])
		if err != nil {
			continue
		}

		versions = append(versions, released)
	}

	return versions
}

// Package builds the archive of every target and then of the source, and
// writes the release description.
func (p *Packager) Package(ctx context.Context) (*Release, error) {
	logger.InfoKV(ctx, "Packaging",
		"version", p.manifest.Version(),
		"targets", strings.Join(p.cfg.TargetPlatforms(), ", "),
		"source", p.cfg.Source.Platform)

	if err := os.MkdirAll(p.cfg.ReleaseDirectory, config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create release directory: %w", err)
	}

	release := &Release{
		Project: p.cfg.ProjectNameShort,
		Version: p.manifest.Version(),
		Files:   make(map[string]string, len(p.cfg.Targets)+1),
	}

	for _, descriptor := range p.cfg.Platforms() {
		archivePath, err := p.packOne(ctx, descriptor)
		if err != nil {
			return nil, err
		}

		if err = release.add(archivePath); err != nil {
			return nil, fmt.Errorf("checksum %s: %w", archivePath, err)
		}

		logger.InfoKV(ctx, "Packaged", "version", p.manifest.Version(), "platform", descriptor.Platform)
	}

	if err := release.save(p.ReleasePath()); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Wrote release description", "path", p.ReleasePath())

	return release, nil
}

// packOne fills a scratch directory for one platform, archives it and
// removes the scratch directory and, for temporary targets, the target
// directory. Removal happens on every path.
func (p *Packager) packOne(ctx context.Context, descriptor *config.Descriptor) (archivePath string, err error) {
	var (
		isSource = descriptor == &p.cfg.Source
		scratch  = filepath.Join(p.scratchRoot, p.BaseName(descriptor.Platform))
	)

	ctx = logger.WithKV(ctx, "platform", descriptor.Platform)
	archivePath = p.ArchivePath(descriptor.Platform)

	// Cleanup runs whether or not archiving succeeded.
	defer func() {
		logger.DebugKV(ctx, "Removing scratch directory", "directory", scratch)
		multierr.AppendInto(&err, removeDir(scratch))

		if descriptor.Temp && !isSource {
			logger.InfoKV(ctx, "Removing temporary target directory", "directory", descriptor.Directory)
			multierr.AppendInto(&err, removeDir(descriptor.Directory))
		}
	}()

	// Start from an empty scratch directory.
	if err = os.RemoveAll(scratch); err != nil {
		return "", fmt.Errorf("clear scratch directory: %w", err)
	}

	if err = os.MkdirAll(scratch, config.DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}

	logger.DebugKV(ctx, "Created scratch directory", "directory", scratch)

	// The source is archived as is, targets are translated first.
	if isSource {
		err = p.syncer.CopyTree(ctx, scratch)
	} else {
		err = p.populate(ctx, descriptor.WithDirectory(scratch))
	}

	if err != nil {
		return "", fmt.Errorf("populate %s: %w", descriptor.Platform, err)
	}

	logger.DebugKV(ctx, "Archiving", "from", scratch, "to", archivePath)

	if err = p.archiver.Archive(ctx, scratch, archivePath); err != nil {
		return "", err
	}

	return archivePath, nil
}

// populate writes the translated manifest and the synchronized files of a target into its directory.
func (p *Packager) populate(ctx context.Context, target *config.Descriptor) error {
	translated, err := translator.Translate(ctx, p.manifest, target)
	if err != nil {
		return err
	}

	if err = manifest.NewFileRepository(target.Directory).Save(ctx, translated); err != nil {
		return err
	}

	_, err = p.syncer.Sync(ctx, target)

	return err
}

func removeDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}

	return nil
}
