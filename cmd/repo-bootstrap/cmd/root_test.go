package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/repo-bootstrap/internal/service/fetcher"
)

// TestChecksumCommand prints the same digest the fetcher verifies.
func TestChecksumCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, []byte("archive"), 0o600))

	want, err := fetcher.EncodedFileChecksum(path)
	require.NoError(t, err)

	var out bytes.Buffer

	checksumCmd.SetOut(&out)
	t.Cleanup(func() { checksumCmd.SetOut(nil) })

	require.NoError(t, checksumCmd.RunE(checksumCmd, []string{path}))
	require.Equal(t, want+"\n", out.String())
}

// TestRootFlags exposes every override.
func TestRootFlags(t *testing.T) {
	for _, name := range []string{"config", "source-url", "prefix", "dir", "interpreter", "report", "no-lock"} {
		require.NotNil(t, rootCmd.Flags().Lookup(name), name)
	}

	require.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

// TestLogLevelValidation rejects unknown levels before running.
func TestLogLevelValidation(t *testing.T) {
	prev := logLevel
	t.Cleanup(func() { logLevel = prev })

	logLevel = "loud"
	require.Error(t, rootCmd.PersistentPreRunE(rootCmd, nil))

	logLevel = "debug"
	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))

	logLevel = "info"
	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
}
