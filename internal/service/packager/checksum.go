package packager

import (
	"bytes"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/extbuild/internal/config"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

// DefaultChecksumFunction is used to fingerprint release archives.
const DefaultChecksumFunction = crypto.SHA512

var (
	// ErrChecksumMismatch is returned when archives are missing or differ from their release description.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	errHashUnavailable = errors.New("hash function unavailable")
)

// Release describes the archives produced for one version.
type Release struct {
	// Project is the short project name.
	Project string `yaml:"project"`
	// Version is the extension version.
	Version string `yaml:"version"`
	// Files maps archive names to their base64-encoded checksums.
	Files map[string]string `yaml:"files"`
}

// GetFileChecksum returns checksum bytes for a file using DefaultChecksumFunction.
func GetFileChecksum(path string) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := DefaultChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// add records the checksum of the archive at path.
func (r *Release) add(path string) error {
	checksum, err := GetFileChecksum(path)
	if err != nil {
		return err
	}

	r.Files[filepath.Base(path)] = base64.StdEncoding.EncodeToString(checksum)

	return nil
}

// save writes the description as YAML.
func (r *Release) save(path string) error {
	contents, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal release description: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), contents, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write release description: %w", err)
	}

	return nil
}

// LoadRelease reads a release description.
func LoadRelease(path string) (*Release, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var release Release
	if err = yaml.Unmarshal(contents, &release); err != nil {
		return nil, fmt.Errorf("unmarshal release description: %w", err)
	}

	return &release, nil
}

// Verify recomputes the checksum of every listed archive found in dir.
func (r *Release) Verify(dir string) error {
	var mismatched []string

	for _, name := range slices.Sorted(maps.Keys(r.Files)) {
		expected, err := base64.StdEncoding.DecodeString(r.Files[name])
		if err != nil {
			return fmt.Errorf("decode checksum of %s: %w", name, err)
		}

		actual, err := GetFileChecksum(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			mismatched = append(mismatched, name)
			continue
		}

		if err != nil {
			return err
		}

		if !bytes.Equal(expected, actual) {
			mismatched = append(mismatched, name)
		}
	}

	if len(mismatched) > 0 {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, strings.Join(mismatched, ", "))
	}

	return nil
}
