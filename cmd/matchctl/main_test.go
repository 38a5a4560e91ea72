package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd(io.Discard)
	for _, path := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"automatch"},
		{"priority", "recompute"},
		{"priority", "show"},
		{"notifications", "export"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	automatch, _, err := root.Find([]string{"automatch"})
	require.NoError(t, err)
	assert.NotNil(t, automatch.Flags().Lookup("recipient"))
	assert.NotNil(t, automatch.Flags().Lookup("donor"))
	assert.NotNil(t, automatch.Flags().Lookup("include-finalized"))
}

func TestPriorityRecomputeArgs(t *testing.T) {
	_, err := execute("priority", "recompute")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a recipient id or --all is required")

	_, err = execute("priority", "recompute", "r1", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")
}

func TestNotificationsExportValidatesTarget(t *testing.T) {
	_, err := execute("notifications", "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "target" not set`)

	_, err = execute("notifications", "export", "--target", "staff")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target must look like kind:id")
}

func TestMigrateRejectsArgs(t *testing.T) {
	_, err := execute("migrate", "up", "extra")
	require.Error(t, err)
}
