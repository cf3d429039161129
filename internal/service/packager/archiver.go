package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnsupportedHost is returned when no archiver exists for the running operating system.
var ErrUnsupportedHost = errors.New("host operating system is not supported for packaging")

// Archiver compresses the contents of a directory into a zip archive.
// An existing archive at dst is updated in place.
type Archiver interface {
	Archive(ctx context.Context, src, dst string) error
}

// commandArchiver runs a native command to build the archive.
type commandArchiver struct {
	// name identifies the archiver in logs and errors.
	name string
	// command builds the invocation for absolute src and dst paths.
	command func(ctx context.Context, src, dst string) *exec.Cmd
}

// NewArchiver selects the archiver for the given GOOS value.
//
//nolint:ireturn // Callers depend on the capability, not the implementation.
func NewArchiver(goos string) (Archiver, error) {
	switch strings.ToLower(goos) {
	case "windows":
		return &commandArchiver{name: "powershell", command: powershellCommand}, nil
	case "darwin", "linux":
		return &commandArchiver{name: "zip", command: zipCommand}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHost, goos)
	}
}

// Archive runs the native command and reports its output on failure.
func (a *commandArchiver) Archive(ctx context.Context, src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	absDst, err := filepath.Abs(dst)
	if err != nil {
		return err
	}

	var output bytes.Buffer

	cmd := a.command(ctx, absSrc, absDst)
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err = cmd.Run(); err != nil {
		return fmt.Errorf("%s archive %s: %w: %s", a.name, filepath.Base(absDst), err, strings.TrimSpace(output.String()))
	}

	return nil
}

func (a *commandArchiver) String() string {
	return a.name
}

// powershellCommand uses Compress-Archive, which updates an existing archive with -Update.
func powershellCommand(ctx context.Context, src, dst string) *exec.Cmd {
	script := fmt.Sprintf("Compress-Archive -Update -Path %s -DestinationPath %s",
		powershellQuote(filepath.Join(src, "*")), powershellQuote(dst))

	return exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
}

// zipCommand archives from inside src so the manifest sits at the archive root.
// -FS also drops entries whose files no longer exist.
func zipCommand(ctx context.Context, src, dst string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "zip", "-q", "-r", "-FS", dst, ".")
	cmd.Dir = src

	return cmd
}

func powershellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
