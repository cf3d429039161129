package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/domain/extension"
	"github.com/oshokin/extbuild/internal/service/builder"
)

const buildConfig = `{
  // archives are named tabby_v<version>_<platform>.zip
  "project_name_short": "tabby",
  "enforce_version_control": true,
  "release_directory": "releases",
  "source": {"directory": "src", "platform": "chrome", "manifest_version": 3},
  "targets": [
    {"platform": "firefox", "manifest_version": 2, "patch": ["background.js"]}
  ],
  "git_messages": {"directory_sync": "sync firefox", "packages": "release 1.0.0"}
}`

const sourceManifest = `{
  "manifest_version": 3,
  "name": "Tabby",
  "version": "1.0.0",
  "action": {"default_title": "Tabby"},
  "background": {"service_worker": "bg.js"}
}`

// inProcessArchiver zips with archive/zip so the test does not need host tools.
type inProcessArchiver struct{}

func (inProcessArchiver) Archive(_ context.Context, src, dst string) error {
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

// newProject lays out an extension project in a fresh git repository whose
// origin is a local bare repository, and changes into it.
func newProject(t *testing.T, manifest string) *git.Repository {
	t.Helper()

	var (
		dir     = t.TempDir()
		bareDir = t.TempDir()
	)

	t.Chdir(dir)

	bare, err := git.PlainInit(bareDir, true)
	require.NoError(t, err)

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	cfg, err := repo.Config()
	require.NoError(t, err)

	cfg.User.Name = "Release Bot"
	cfg.User.Email = "release@example.com"
	require.NoError(t, repo.SetConfig(cfg))

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{bareDir}})
	require.NoError(t, err)

	files := map[string]string{
		config.DefaultConfigFilename: buildConfig,
		"src/manifest.json":          manifest,
		"src/bg.js":                  "chrome.runtime.onInstalled.addListener(init);\n",
		"src/background.js":          "chrome.action.setBadgeText({text: 'on'});\nchrome.tabs.query({}, list);\n",
	}

	for name, contents := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, os.WriteFile(name, []byte(contents), 0o644))
	}

	return bare
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

// TestBuild_All copies, packages and publishes a chrome V3 extension with a firefox V2 target.
func TestBuild_All(t *testing.T) {
	bare := newProject(t, sourceManifest)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := builder.Run(ctx, &builder.Options{
		Actions:     extension.Actions{Copy: true, Package: true, Git: true},
		Output:      new(bytes.Buffer),
		Archiver:    inProcessArchiver{},
		ScratchRoot: t.TempDir(),
	})
	require.NoError(t, err)

	// Translated manifest.
	firefoxManifest, err := os.ReadFile(filepath.Join("firefox", "manifest.json"))
	require.NoError(t, err)
	require.Equal(t, "Tabby", gjson.GetBytes(firefoxManifest, "browser_action.default_title").String())
	require.False(t, gjson.GetBytes(firefoxManifest, "action").Exists())
	require.JSONEq(t, `["bg.js"]`, gjson.GetBytes(firefoxManifest, "background.scripts").Raw)
	require.Equal(t, int64(2), gjson.GetBytes(firefoxManifest, "manifest_version").Int())

	// Only files matching the patch list are rewritten.
	background, err := os.ReadFile(filepath.Join("firefox", "background.js"))
	require.NoError(t, err)
	require.Equal(t, "browser.browserAction.setBadgeText({text: 'on'});\nbrowser.tabs.query({}, list);\n", string(background))

	bg, err := os.ReadFile(filepath.Join("firefox", "bg.js"))
	require.NoError(t, err)
	require.Equal(t, "chrome.runtime.onInstalled.addListener(init);\n", string(bg))

	// Archives and release description.
	firefoxArchive := filepath.Join("releases", "tabby_v1.0.0_firefox.zip")
	chromeArchive := filepath.Join("releases", "tabby_v1.0.0_chrome.zip")

	require.FileExists(t, firefoxArchive)
	require.FileExists(t, chromeArchive)
	require.FileExists(t, filepath.Join("releases", "tabby_v1.0.0_release.yaml"))

	require.True(t, gjson.Get(readZipEntry(t, firefoxArchive, "manifest.json"), "browser_action").Exists())
	require.Equal(t, sourceManifest, readZipEntry(t, chromeArchive, "manifest.json"))

	// Two commits were pushed to origin.
	head, err := bare.Head()
	require.NoError(t, err)

	packages, err := bare.CommitObject(head.Hash())
	require.NoError(t, err)
	require.Equal(t, "release 1.0.0", packages.Message)

	sync, err := packages.Parent(0)
	require.NoError(t, err)
	require.Equal(t, "sync firefox", sync.Message)
}

// TestBuild_VersionBump refuses to translate a V2 source for a V3 target.
func TestBuild_VersionBump(t *testing.T) {
	newProject(t, `{"manifest_version": 2, "name": "Tabby", "version": "1.0.0"}`)

	require.NoError(t, os.WriteFile(config.DefaultConfigFilename, []byte(`{
  "project_name_short": "tabby",
  "release_directory": "releases",
  "source": {"directory": "src", "platform": "chrome", "manifest_version": 2},
  "targets": [{"directory": "edge", "platform": "opera", "manifest_version": 3}]
}`), 0o644))

	err := builder.Run(context.Background(), &builder.Options{
		Actions: extension.Actions{Copy: true},
		Output:  new(bytes.Buffer),
	})
	require.ErrorIs(t, err, extension.ErrVersionBump)
	require.NoFileExists(t, filepath.Join("edge", "manifest.json"))
}

// TestBuild_RejectsMissingConfig reports a missing configuration before doing anything.
func TestBuild_RejectsMissingConfig(t *testing.T) {
	newProject(t, sourceManifest)
	require.NoError(t, os.Remove(config.DefaultConfigFilename))

	err := builder.Run(context.Background(), &builder.Options{Output: new(bytes.Buffer)})
	require.ErrorIs(t, err, config.ErrNotFound)
}
