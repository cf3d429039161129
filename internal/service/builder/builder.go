package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/domain/extension"
	"github.com/oshokin/extbuild/internal/logger"
	"github.com/oshokin/extbuild/internal/repository/manifest"
	"github.com/oshokin/extbuild/internal/service/filesync"
	"github.com/oshokin/extbuild/internal/service/packager"
	"github.com/oshokin/extbuild/internal/service/publisher"
	"github.com/oshokin/extbuild/internal/service/translator"
)

// Options are inputs accepted by the builder entry point.
type Options struct {
	// ConfigPath is the build configuration file; defaults to build_config.json.
	ConfigPath string
	// Actions are the phases requested on the command line; none selects the configured defaults.
	Actions extension.Actions
	// Force allows overwriting archives of an already released version.
	Force bool
	// CleanManifest removes empty fields from the source manifest before building.
	CleanManifest bool
	// Debug enables debug logging regardless of the configuration.
	Debug bool
	// Output receives log entries; defaults to os.Stdout.
	Output io.Writer
	// Archiver overrides the host archiver.
	Archiver packager.Archiver
	// GOOS selects the host archiver; defaults to runtime.GOOS.
	GOOS string
	// RepositoryDir is where the git repository is looked up; defaults to the working directory.
	RepositoryDir string
	// ScratchRoot holds per-platform scratch directories; defaults to os.TempDir().
	ScratchRoot string
}

// runner holds the state of a single build.
type runner struct {
	opts      *Options
	cfg       *config.Config
	source    *extension.Manifest
	actions   extension.Actions
	packager  *packager.Packager
	publisher *publisher.Publisher
}

// Run executes a build.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "extbuild")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.WarnKV(ctx, "Cannot load build configuration", "error", err)
		return err
	}

	// The configured logger replaces the fallback one before any debug output.
	ctx = logger.ToContext(ctx, newLogger(opts, cfg))

	if workDir, err := os.Getwd(); err == nil {
		logger.InfoKV(ctx, "Running extbuild", "directory", workDir)
	}

	r := &runner{
		opts:    opts,
		cfg:     cfg,
		actions: resolveActions(opts.Actions, cfg.Actions()),
	}

	if err = r.loadManifest(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Actions to perform",
		"actions", r.actions.List(),
		"forced", opts.Force,
		"version", r.source.Version())

	if !r.actions.Any() {
		logger.Info(ctx, "No actions requested, nothing to do")
		return nil
	}

	// Refuse early, before any directory is touched.
	if err = r.prepare(ctx); err != nil {
		return err
	}

	return r.Run(ctx)
}

// Run performs the copy, package and git phases.
func (r *runner) Run(ctx context.Context) error {
	// Translate manifests and synchronize target directories.
	if r.actions.Copy {
		if err := r.copyTargets(ctx); err != nil {
			return err
		}

		if err := r.publish(ctx, r.cfg.GitMessages.DirectorySync); err != nil {
			return err
		}
	}

	// Build the release archives.
	if r.actions.Package {
		if _, err := r.packager.Package(ctx); err != nil {
			return fmt.Errorf("package: %w", err)
		}

		if err := r.publish(ctx, r.cfg.GitMessages.Packages); err != nil {
			return err
		}
	}

	return nil
}

// resolveActions prefers the requested actions and falls back to the configured defaults.
func resolveActions(requested, defaults extension.Actions) extension.Actions {
	if requested.Any() {
		return requested
	}

	return defaults
}

func newLogger(opts *Options, cfg *config.Config) *zap.SugaredLogger {
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	return logger.New(output, logger.LevelFor(cfg.Debug || opts.Debug)).Named("extbuild")
}

// loadManifest reads the source manifest and cleans it when asked to.
func (r *runner) loadManifest(ctx context.Context) error {
	repo := manifest.NewFileRepository(r.cfg.Source.Directory)

	source, err := repo.Load(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Cannot read source manifest", "directory", r.cfg.Source.Directory, "error", err)
		return err
	}

	if r.cfg.CleanManifest || r.opts.CleanManifest {
		logger.WarnKV(ctx, "Cleaning source manifest in place", "path", repo.Path())

		if _, err = repo.Clean(ctx, source); err != nil {
			return fmt.Errorf("clean source manifest: %w", err)
		}
	}

	r.source = source

	return nil
}

// prepare runs every check that can refuse the build before anything is written.
func (r *runner) prepare(ctx context.Context) error {
	// Select the host archiver and check the release can be written.
	if r.actions.Package {
		archiver := r.opts.Archiver
		if archiver == nil {
			goos := r.opts.GOOS
			if goos == "" {
				goos = runtime.GOOS
			}

			var err error

			archiver, err = packager.NewArchiver(goos)
			if err != nil {
				logger.WarnKV(ctx, "Platform not supported", "os", goos)
				return err
			}

			logger.DebugKV(ctx, "Selected host archiver", "os", goos, "archiver", archiver)
		}

		r.packager = packager.New(&packager.Options{
			Config:      r.cfg,
			Manifest:    r.source,
			Archiver:    archiver,
			Force:       r.opts.Force,
			ScratchRoot: r.opts.ScratchRoot,
		})

		if err := r.packager.Check(ctx); err != nil {
			return err
		}
	}

	// Make sure there is a repository to publish to.
	if r.actions.Git {
		dir := r.opts.RepositoryDir
		if dir == "" {
			dir = "."
		}

		pub, err := publisher.Open(dir)
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}

		r.publisher = pub
	}

	// Ensure release directory exists.
	if info, err := os.Stat(r.cfg.ReleaseDirectory); err != nil || !info.IsDir() {
		logger.InfoKV(ctx, "Creating release directory", "directory", r.cfg.ReleaseDirectory)

		if err = os.MkdirAll(r.cfg.ReleaseDirectory, config.DefaultDirPermissions); err != nil {
			return fmt.Errorf("create release directory: %w", err)
		}
	}

	return nil
}

// copyTargets writes the translated manifest and synchronizes files for every target.
// Temporary targets are only prepared when packaging follows.
func (r *runner) copyTargets(ctx context.Context) error {
	platforms := strings.Join(r.cfg.TargetPlatforms(), ", ")

	logger.InfoKV(ctx, "Copying files", "from", r.cfg.Source.Platform, "to", platforms)

	syncer := filesync.New(&r.cfg.Source, r.source.SchemaVersion(), r.cfg.BuildDirectories()...)

	for i := range r.cfg.Targets {
		target := &r.cfg.Targets[i]

		if target.Temp && !r.actions.Package {
			logger.DebugKV(ctx, "Skipping temporary target", "directory", target.Directory)
			continue
		}

		translated, err := translator.Translate(ctx, r.source, target)
		if err != nil {
			return err
		}

		if err = manifest.NewFileRepository(target.Directory).Save(ctx, translated); err != nil {
			return fmt.Errorf("write %s manifest: %w", target.Platform, err)
		}

		result, err := syncer.Sync(ctx, target)
		if err != nil {
			return fmt.Errorf("sync %s: %w", target.Platform, err)
		}

		logger.InfoKV(ctx, "Synchronized target",
			"platform", target.Platform,
			"directory", target.Directory,
			"copied", result.Copied,
			"patched", result.Patched)
	}

	logger.InfoKV(ctx, "Copied files", "from", r.cfg.Source.Platform, "to", platforms)

	return nil
}

// publish commits and pushes when the git action was requested.
func (r *runner) publish(ctx context.Context, message string) error {
	if r.publisher == nil {
		return nil
	}

	logger.InfoKV(ctx, "Publishing", "message", message)

	if err := r.publisher.Publish(ctx, message); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}
