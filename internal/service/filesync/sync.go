package filesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/h2non/filetype"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/logger"
	"github.com/oshokin/extbuild/internal/repository/manifest"
)

// ErrUnsupportedPlatform is returned when files of a non-chrome source would need patching.
var ErrUnsupportedPlatform = errors.New("source platform is not supported for directory sync")

const (
	// sniffLength is how many leading bytes are inspected to tell binary files apart.
	sniffLength = 262

	// vcsDirectory is never copied out of the source tree.
	vcsDirectory = ".git"
)

// Result summarizes one synchronization.
type Result struct {
	// Copied is the number of files copied into the target.
	Copied int
	// Patched is the number of copied files rewritten for the target platform.
	Patched int
	// Skipped is the number of files matched by a patch pattern but left alone because they are binary.
	Skipped int
}

// Synchronizer copies one source tree into target directories.
type Synchronizer struct {
	// source describes the source tree.
	source *config.Descriptor
	// sourceVersion is the schema version declared by the source manifest.
	sourceVersion int
	// excluded holds absolute directories never copied out of the source tree.
	excluded map[string]struct{}
}

// New creates a synchronizer for the source tree whose manifest declares
// sourceVersion. Directories in exclude, typically the other build
// directories, are skipped when they lie inside the source tree.
func New(source *config.Descriptor, sourceVersion int, exclude ...string) *Synchronizer {
	excluded := make(map[string]struct{}, len(exclude))

	for _, dir := range exclude {
		if abs, err := filepath.Abs(dir); err == nil {
			excluded[abs] = struct{}{}
		}
	}

	return &Synchronizer{
		source:        source,
		sourceVersion: sourceVersion,
		excluded:      excluded,
	}
}

// Sync copies every source file except manifests into target.Directory and
// patches the files target selects. Directories are walked breadth-first.
func (s *Synchronizer) Sync(ctx context.Context, target *config.Descriptor) (*Result, error) {
	ctx = logger.WithKV(ctx, "platform", target.Platform)

	if err := os.MkdirAll(target.Directory, config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create target directory: %w", err)
	}

	targetAbs, err := filepath.Abs(target.Directory)
	if err != nil {
		return nil, fmt.Errorf("resolve target directory: %w", err)
	}

	replacer, ruleErr := Rules(s.source.Platform, s.sourceVersion, target)

	var (
		result  = new(Result)
		pending = []string{"."}
	)

	for len(pending) > 0 {
		rel := pending[0]
		pending = pending[1:]

		sourcePath := filepath.Join(s.source.Directory, filepath.FromSlash(rel))

		info, err := os.Stat(sourcePath)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", sourcePath, err)
		}

		if info.IsDir() {
			children, err := s.expand(ctx, sourcePath, rel, targetAbs)
			if err != nil {
				return nil, err
			}

			pending = append(pending, children...)

			continue
		}

		if path.Base(rel) == manifest.Filename {
			logger.DebugKV(ctx, "Skipping manifest file", "file", rel)
			continue
		}

		targetPath := filepath.Join(target.Directory, filepath.FromSlash(rel))

		logger.DebugKV(ctx, "Copying file", "file", rel, "to", targetPath)

		if err = copyFile(sourcePath, targetPath, info.Mode().Perm()); err != nil {
			return nil, err
		}

		result.Copied++

		if !target.NeedsPatch(rel) {
			continue
		}

		if ruleErr != nil {
			return nil, fmt.Errorf("patch %s: %w", rel, ruleErr)
		}

		patched, err := patchFile(ctx, targetPath, replacer)
		if err != nil {
			return nil, fmt.Errorf("patch %s: %w", rel, err)
		}

		if patched {
			result.Patched++
		} else {
			result.Skipped++
		}
	}

	logger.DebugKV(ctx, "Finished copying files",
		"from", s.source.Platform, "copied", result.Copied, "patched", result.Patched)

	return result, nil
}

// expand lists a directory and returns the slash-separated paths of its entries.
// The target directory, excluded directories and version control metadata
// are never descended into.
func (s *Synchronizer) expand(ctx context.Context, dir, rel, targetAbs string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	if abs == targetAbs || s.isExcluded(abs) {
		logger.DebugKV(ctx, "Skipping build directory nested in source", "directory", rel)
		return nil, nil
	}

	if rel != "." {
		logger.DebugKV(ctx, "Expanding directory", "directory", rel)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	children := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() && entry.Name() == vcsDirectory {
			continue
		}

		children = append(children, path.Join(rel, entry.Name()))
	}

	return children, nil
}

func (s *Synchronizer) isExcluded(abs string) bool {
	_, ok := s.excluded[abs]
	return ok
}

// patchFile rewrites a copied file in place. Binary files are left untouched
// and reported as not patched.
func patchFile(ctx context.Context, filename string, replacer Replacer) (bool, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return false, err
	}

	contents, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return false, err
	}

	head := contents
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}

	if kind, _ := filetype.Match(head); kind != filetype.Unknown {
		logger.WarnKV(ctx, "Not patching binary file", "file", filename, "type", kind.MIME.Value)
		return false, nil
	}

	logger.DebugKV(ctx, "Processing file", "file", filename)

	rewritten := replacer.Replace(string(contents))

	if err = os.WriteFile(filename, []byte(rewritten), info.Mode().Perm()); err != nil {
		return false, err
	}

	return true, nil
}

func copyFile(source, target string, mode os.FileMode) (err error) {
	if err = os.MkdirAll(filepath.Dir(target), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create directory for %s: %w", target, err)
	}

	in, err := os.Open(filepath.Clean(source))
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", target, closeErr)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", source, err)
	}

	return nil
}

// CopyTree copies the source tree verbatim, manifests included, into target.
// Excluded directories, the target itself and version control metadata are left out.
func (s *Synchronizer) CopyTree(ctx context.Context, target string) error {
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolve target directory: %w", err)
	}

	return filepath.WalkDir(s.source.Directory, func(current string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(s.source.Directory, current)
		if err != nil {
			return err
		}

		destination := filepath.Join(target, rel)

		if entry.IsDir() {
			abs, err := filepath.Abs(current)
			if err != nil {
				return err
			}

			if abs == targetAbs || s.isExcluded(abs) || (rel != "." && entry.Name() == vcsDirectory) {
				logger.DebugKV(ctx, "Skipping directory", "directory", filepath.ToSlash(rel))
				return filepath.SkipDir
			}

			return os.MkdirAll(destination, config.DefaultDirPermissions)
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		return copyFile(current, destination, info.Mode().Perm())
	})
}
