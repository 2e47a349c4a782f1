package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInfoFormatting(t *testing.T) {
	info := Info{Version: "0.1.0", GoVersion: "go1.23.3"}
	assert.Equal(t, "0.1.0", info.Short())
	assert.Equal(t, "kprove version 0.1.0\n  Go version: go1.23.3\n", info.String())

	info.Commit = "0123456789abcdef"
	info.Dirty = true
	info.CommitTime = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "0.1.0+0123456-dirty", info.Short())
	assert.Equal(t, "kprove version 0.1.0\n"+
		"  Commit:     0123456-dirty\n"+
		"  Built:      2026-03-01 12:30:00 UTC\n"+
		"  Go version: go1.23.3\n", info.String())
}

func TestGetInfoPrefersLinkerValues(t *testing.T) {
	defer func(commit, dirty string) { GitCommit, GitTreeDirty = commit, dirty }(GitCommit, GitTreeDirty)
	GitCommit = "feedface"
	GitTreeDirty = "false"

	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, "feedface", info.Commit)
	assert.False(t, info.Dirty)
	assert.NotEmpty(t, info.GoVersion)
}
