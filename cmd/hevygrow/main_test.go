package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hevygrow/internal/engine"
)

func TestRootCmd_RequiresExactlyOneMode(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"none", []string{}},
		{"two", []string{"--follow", "--like"}},
		{"auto and single", []string{"--auto", "--unfollow"}},
		{"bad log level", []string{"--follow", "--log-level", "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			assert.Error(t, cmd.Execute())
		})
	}
}

func TestRootCmd_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--like", "--config", t.TempDir() + "/missing.yaml", "--env-file", t.TempDir() + "/none.env"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestEngineName(t *testing.T) {
	assert.Equal(t, engine.NameFollow, (&options{follow: true}).engineName())
	assert.Equal(t, engine.NameUnfollow, (&options{unfollow: true}).engineName())
	assert.Equal(t, engine.NameLike, (&options{like: true}).engineName())
}
