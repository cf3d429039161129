package version

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return non-empty consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
}

// TestVersionCommand runs the attached subcommand and checks its output.
func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var (
		root = &cobra.Command{Use: "extbuild"}
		out  bytes.Buffer
	)

	AttachCobraVersionCommand(root)
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), Full())
}
