package cmd

import (
	"errors"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/repository/manifest"
	"github.com/oshokin/extbuild/internal/service/packager"
)

const (
	// ExitOK is returned after a successful build.
	ExitOK = 0
	// ExitFailure is returned for unsupported translations and failed external commands.
	ExitFailure = 1
	// ExitFatal is returned when the build refuses to start.
	ExitFatal = 99
)

//nolint:gochecknoglobals // Read-only lookup table.
var fatalErrors = []error{
	config.ErrNotFound,
	config.ErrInvalid,
	manifest.ErrNotFound,
	manifest.ErrInvalid,
	packager.ErrReleaseExists,
	packager.ErrUnsupportedHost,
}

// ExitCode maps a build error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	for _, fatal := range fatalErrors {
		if errors.Is(err, fatal) {
			return ExitFatal
		}
	}

	return ExitFailure
}
