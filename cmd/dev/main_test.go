package main

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"build", "test", "lint", "integration-test"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("verbose"))

	build, _, err := root.Find([]string{"build"})
	require.NoError(t, err)
	assert.Equal(t, runtime.GOOS, build.Flag("os").DefValue)
	assert.Equal(t, runtime.GOARCH, build.Flag("arch").DefValue)
	assert.Equal(t, "latest", build.Flag("version").DefValue)
}
