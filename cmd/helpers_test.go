package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/creative812/Creatives-bot/creatives"
	"github.com/stretchr/testify/require"
)

// isolateEnv clears the environment for the duration of the test,
// restoring it afterward, and resets the shared config.
func isolateEnv(t *testing.T) {
	t.Helper()
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				k, v, _ := strings.Cut(envVar, "=")
				_ = os.Setenv(k, v)
			}
			cfg = creatives.DefaultConfig()
		},
	)
	os.Clearenv()
	cfg = creatives.DefaultConfig()
}

// execute runs the root command with args, returning its output.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	t.Cleanup(
		func() {
			rootCmd.SetOut(nil)
			rootCmd.SetErr(nil)
			rootCmd.SetIn(nil)
			rootCmd.SetArgs(nil)
		},
	)
	rootCmd.SetArgs(append([]string{"--config="}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
