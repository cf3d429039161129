package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/domain/extension"
	"github.com/oshokin/extbuild/internal/logger"
)

// Filename is the manifest name inside an extension directory.
const Filename = "manifest.json"

// FileRepository stores the manifest.json of one extension directory.
type FileRepository struct {
	// path is the location of manifest.json.
	path string
}

var (
	// ErrNotFound is returned when manifest.json does not exist or cannot be read.
	ErrNotFound = errors.New("manifest not found")
	// ErrInvalid is returned when manifest.json cannot be parsed.
	ErrInvalid = errors.New("manifest is unreadable")
)

//nolint:gochecknoglobals // Read-only formatting options.
var prettyOptions = &pretty.Options{
	Width:    0,
	Prefix:   "",
	Indent:   "  ",
	SortKeys: false,
}

// NewFileRepository creates a repository for dir/manifest.json.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{
		path: filepath.Join(filepath.Clean(dir), Filename),
	}
}

// Path returns the manifest file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads and parses the manifest. Comments are tolerated.
func (r *FileRepository) Load(_ context.Context) (*extension.Manifest, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	manifest, err := extension.ParseManifest(jsonc.ToJSON(contents))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, r.path, err)
	}

	return manifest, nil
}

// Save writes the manifest with two-space indentation, replacing any existing file atomically.
func (r *FileRepository) Save(ctx context.Context, manifest *extension.Manifest) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	data := pretty.PrettyOptions(manifest.Bytes(), prettyOptions)

	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("create temporary manifest: %w", err)
	}

	tmpName := tmp.Name()

	// Removing a renamed file fails harmlessly.
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write manifest: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}

	if err = os.Chmod(tmpName, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("chmod manifest: %w", err)
	}

	if err = os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}

	logger.DebugKV(ctx, "Wrote manifest", "path", r.path)

	return nil
}

// Clean removes empty fields from the manifest and writes it back to this
// repository. It returns the names of removed fields. Nothing is written
// when no field is empty.
func (r *FileRepository) Clean(ctx context.Context, manifest *extension.Manifest) ([]string, error) {
	empty := manifest.EmptyFields()
	if len(empty) == 0 {
		logger.Info(ctx, "No empty manifest fields to clean")
		return nil, nil
	}

	for _, name := range empty {
		logger.WarnKV(ctx, "Removing empty manifest field", "field", name)

		if err := manifest.Delete(name); err != nil {
			return nil, err
		}
	}

	if err := r.Save(ctx, manifest); err != nil {
		return nil, err
	}

	logger.WarnKV(ctx, "Rewrote source manifest", "path", r.path, "removed", len(empty))

	return empty, nil
}
