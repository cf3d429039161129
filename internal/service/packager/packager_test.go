package packager

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/domain/extension"
)

var errArchiveFailed = errors.New("archive failed")

// memoryArchiver zips a directory with archive/zip and records what it archived.
type memoryArchiver struct {
	archived []string
}

func (a *memoryArchiver) Archive(_ context.Context, src, dst string) error {
	a.archived = append(a.archived, filepath.Base(dst))

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	writer := zip.NewWriter(out)

	if err = writer.AddFS(os.DirFS(src)); err != nil {
		return err
	}

	return writer.Close()
}

type failingArchiver struct{}

func (failingArchiver) Archive(context.Context, string, string) error {
	return errArchiveFailed
}

type fixture struct {
	cfg      *config.Config
	manifest *extension.Manifest
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	source := filepath.Join(root, "src")

	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "manifest.json"), []byte(manifestJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "background.js"), []byte("chrome.action.setTitle({});\n"), 0o644))

	firefoxDir := filepath.Join(root, "firefox")
	require.NoError(t, os.MkdirAll(firefoxDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(firefoxDir, "stale.js"), []byte("old"), 0o644))

	cfg := &config.Config{
		ProjectNameShort:      "tabby",
		EnforceVersionControl: true,
		ReleaseDirectory:      filepath.Join(root, "releases"),
		Source:                config.Descriptor{Directory: source, Platform: extension.Chrome, ManifestVersion: 3},
		Targets: []config.Descriptor{
			{Directory: firefoxDir, Platform: extension.Firefox, ManifestVersion: 2, Patch: []string{"*.js"}, Temp: true},
			{Directory: filepath.Join(root, "opera"), Platform: extension.Opera, ManifestVersion: 3},
		},
	}
	require.NoError(t, config.Validate(cfg))

	m, err := extension.ParseManifest([]byte(manifestJSON))
	require.NoError(t, err)

	return &fixture{cfg: cfg, manifest: m, root: root}
}

const manifestJSON = `{
  "manifest_version": 3,
  "name": "Tabby",
  "version": "1.4.0",
  "action": {"default_popup": "popup.html"},
  "background": {"service_worker": "background.js"}
}`

func (f *fixture) packager(t *testing.T, archiver Archiver, force bool) *Packager {
	t.Helper()

	return New(&Options{
		Config:      f.cfg,
		Manifest:    f.manifest,
		Archiver:    archiver,
		Force:       force,
		ScratchRoot: filepath.Join(f.root, "scratch"),
	})
}

func readZipEntry(t *testing.T, archivePath, name string) string {
	t.Helper()

	reader, err := zip.OpenReader(archivePath)
	require.NoError(t, err)

	defer reader.Close()

	entry, err := reader.Open(name)
	require.NoError(t, err)

	defer entry.Close()

	contents, err := io.ReadAll(entry)
	require.NoError(t, err)

	return string(contents)
}

// TestNewArchiver selects an archiver per host and rejects unknown hosts.
func TestNewArchiver(t *testing.T) {
	t.Parallel()

	for _, goos := range []string{"windows", "darwin", "linux"} {
		archiver, err := NewArchiver(goos)
		require.NoError(t, err, goos)
		require.NotNil(t, archiver)
	}

	_, err := NewArchiver("plan9")
	require.ErrorIs(t, err, ErrUnsupportedHost)
}

// TestNaming checks archive and release description names.
func TestNaming(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.packager(t, new(memoryArchiver), false)

	require.Equal(t, filepath.Join(f.cfg.ReleaseDirectory, "tabby_v1.4.0_firefox.zip"), p.ArchivePath(extension.Firefox))
	require.Equal(t, filepath.Join(f.cfg.ReleaseDirectory, "tabby_v1.4.0_release.yaml"), p.ReleasePath())
}

// TestCheck refuses to overwrite a released version unless allowed.
func TestCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.packager(t, new(memoryArchiver), false).Check(ctx))

	require.NoError(t, os.MkdirAll(f.cfg.ReleaseDirectory, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.ReleaseDirectory, "tabby_v1.4.0_opera.zip"), nil, 0o644))

	err := f.packager(t, new(memoryArchiver), false).Check(ctx)
	require.ErrorIs(t, err, ErrReleaseExists)
	require.Contains(t, err.Error(), "1.4.0")

	require.NoError(t, f.packager(t, new(memoryArchiver), true).Check(ctx))

	f.cfg.EnforceVersionControl = false
	require.NoError(t, f.packager(t, new(memoryArchiver), false).Check(ctx))
}

// TestReleasedVersions parses versions of earlier archives and ignores foreign files.
func TestReleasedVersions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cfg.ReleaseDirectory, 0o755))

	for _, name := range []string{
		"tabby_v1.2.0_chrome.zip",
		"tabby_v2.0.0_firefox.zip",
		"tabby_vnext_chrome.zip",
		"tabby_v3.0.0_safari.zip",
		"other_v9.0.0_chrome.zip",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(f.cfg.ReleaseDirectory, name), nil, 0o644))
	}

	versions := f.packager(t, new(memoryArchiver), false).releasedVersions()

	originals := make([]string, 0, len(versions))
	for _, v := range versions {
		originals = append(originals, v.Original())
	}

	require.ElementsMatch(t, []string{"1.2.0", "2.0.0"}, originals)
}

// TestPackage builds every archive, removes temporary targets and writes checksums.
func TestPackage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	archiver := new(memoryArchiver)

	release, err := f.packager(t, archiver, false).Package(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{
		"tabby_v1.4.0_firefox.zip",
		"tabby_v1.4.0_opera.zip",
		"tabby_v1.4.0_chrome.zip",
	}, archiver.archived)

	// Temporary target and scratch directories are gone.
	require.NoDirExists(t, f.cfg.Targets[0].Directory)
	require.NoDirExists(t, filepath.Join(f.root, "scratch", "tabby_v1.4.0_firefox"))
	require.NoDirExists(t, filepath.Join(f.root, "scratch", "tabby_v1.4.0_chrome"))
	require.DirExists(t, f.cfg.Source.Directory)

	firefoxArchive := filepath.Join(f.cfg.ReleaseDirectory, "tabby_v1.4.0_firefox.zip")
	require.Contains(t, readZipEntry(t, firefoxArchive, "manifest.json"), `"browser_action"`)
	require.Equal(t, "browser.browserAction.setTitle({});\n", readZipEntry(t, firefoxArchive, "background.js"))

	chromeArchive := filepath.Join(f.cfg.ReleaseDirectory, "tabby_v1.4.0_chrome.zip")
	require.Equal(t, manifestJSON, readZipEntry(t, chromeArchive, "manifest.json"))

	loaded, err := LoadRelease(filepath.Join(f.cfg.ReleaseDirectory, "tabby_v1.4.0_release.yaml"))
	require.NoError(t, err)
	require.Equal(t, release, loaded)
	require.Len(t, loaded.Files, 3)

	checksum, err := GetFileChecksum(chromeArchive)
	require.NoError(t, err)
	require.Equal(t, base64.StdEncoding.EncodeToString(checksum), loaded.Files["tabby_v1.4.0_chrome.zip"])
}

// TestReleaseVerify detects changed and missing archives.
func TestReleaseVerify(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	release, err := f.packager(t, new(memoryArchiver), false).Package(context.Background())
	require.NoError(t, err)
	require.NoError(t, release.Verify(f.cfg.ReleaseDirectory))

	chromeArchive := filepath.Join(f.cfg.ReleaseDirectory, "tabby_v1.4.0_chrome.zip")
	require.NoError(t, os.WriteFile(chromeArchive, []byte("tampered"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(f.cfg.ReleaseDirectory, "tabby_v1.4.0_opera.zip")))

	err = release.Verify(f.cfg.ReleaseDirectory)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.ErrorContains(t, err, "tabby_v1.4.0_chrome.zip, tabby_v1.4.0_opera.zip")
}

// TestPackageCleansUpOnFailure removes the temporary target even when archiving fails.
func TestPackageCleansUpOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.packager(t, failingArchiver{}, false).Package(context.Background())
	require.ErrorIs(t, err, errArchiveFailed)

	require.NoDirExists(t, f.cfg.Targets[0].Directory)
	require.NoDirExists(t, filepath.Join(f.root, "scratch", "tabby_v1.4.0_firefox"))
	require.DirExists(t, f.cfg.Source.Directory)
}

// TestZipArchiver runs the native zip command when it is installed.
func TestZipArchiver(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("zip"); err != nil {
		t.Skip("zip is not installed")
	}

	archiver, err := NewArchiver("linux")
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "icons"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "manifest.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "icons", "a.txt"), []byte("a"), 0o644))

	dst := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, archiver.Archive(context.Background(), src, dst))

	require.Equal(t, `{}`, readZipEntry(t, dst, "manifest.json"))
	require.Equal(t, "a", readZipEntry(t, dst, "icons/a.txt"))
}
