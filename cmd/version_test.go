package cmd

import (
	"fmt"
	"testing"

	"github.com/creative812/Creatives-bot/creatives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	isolateEnv(t)
	originalVersion := creatives.Version
	originalCommitSHA := creatives.CommitSHA
	originalBuildTime := creatives.BuildTime
	t.Cleanup(
		func() {
			creatives.Version = originalVersion
			creatives.CommitSHA = originalCommitSHA
			creatives.BuildTime = originalBuildTime
		},
	)

	creatives.Version = "1.0.0"
	creatives.CommitSHA = "abc123"
	creatives.BuildTime = "2024-10-01T12:00:00Z"

	output, err := execute(t, "", "version")
	require.NoError(t, err)
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		creatives.Version,
		creatives.CommitSHA,
		creatives.BuildTime,
	)
	assert.Equal(t, expected, output)
}
