// Package version reports the build of the kprove binary. Values are taken from ldflags when set and from the VCS
// metadata embedded by the Go toolchain otherwise.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// These variables can be set via ldflags at build time, e.g. -X github.com/crytic/kprove/version.Version=0.2.0.
var (
	// Version is the semantic version of the build.
	Version = "0.1.0"
	// GitCommit is the git commit hash.
	GitCommit = ""
	// GitCommitTime is the RFC 3339 timestamp of the git commit.
	GitCommitTime = ""
	// GitTreeDirty is "true" when the tree had uncommitted changes at build time.
	GitTreeDirty = ""
)

// Info describes a build.
type Info struct {
	Version    string
	Commit     string
	CommitTime time.Time
	Dirty      bool
	GoVersion  string
}

// vcsSettings returns the VCS build settings embedded in the binary, keyed by setting name.
func vcsSettings() map[string]string {
	settings := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, setting := range info.Settings {
		if strings.HasPrefix(setting.Key, "vcs.") {
			settings[setting.Key] = setting.Value
		}
	}
	return settings
}

// firstSet returns the first non-empty value.
func firstSet(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// GetInfo returns the information of the running build.
func GetInfo() Info {
	settings := vcsSettings()
	info := Info{
		Version:   Version,
		Commit:    firstSet(GitCommit, settings["vcs.revision"]),
		Dirty:     firstSet(GitTreeDirty, settings["vcs.modified"]) == "true",
		GoVersion: runtime.Version(),
	}
	if commitTime, err := time.Parse(time.RFC3339, firstSet(GitCommitTime, settings["vcs.time"])); err == nil {
		info.CommitTime = commitTime
	}
	return info
}

// revision returns the abbreviated commit, marked when the tree was dirty.
func (i Info) revision() string {
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if i.Dirty {
		commit += "-dirty"
	}
	return commit
}

// Short returns a single-line version such as 0.1.0+abc1234-dirty.
func (i Info) Short() string {
	if i.Commit == "" {
		return i.Version
	}
	return i.Version + "+" + i.revision()
}

// String returns a multi-line description of the build.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "kprove version %s\n", i.Version)
	if i.Commit != "" {
		fmt.Fprintf(&sb, "  Commit:     %s\n", i.revision())
	}
	if !i.CommitTime.IsZero() {
		fmt.Fprintf(&sb, "  Built:      %s\n", i.CommitTime.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(&sb, "  Go version: %s\n", i.GoVersion)
	return sb.String()
}
