// Package version reports the loxctl build.
package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/loxone/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/loxone/internal/version.Commit=abc123"
//
// Unset values are filled from the VCS stamp in the build info, then fall
// back to "dev".
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Version == "" || Commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			Version, Commit = fromSettings(Version, Commit, info.Settings)
		}
	}
	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fromSettings fills empty version and commit values from VCS build
// settings.
func fromSettings(version, commit string, settings []debug.BuildSetting) (string, string) {
	var revision, modified, vcsTime string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}

	if commit == "" && revision != "" {
		commit = revision
		if len(commit) > 7 {
			commit = commit[:7]
		}
		if modified == "true" {
			commit += "-dirty"
		}
	}

	// no tags in build info, so the commit date stands in
	if version == "" && vcsTime != "" {
		if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
			version = "dev-" + t.Format("20060102")
		}
	}
	return version, commit
}

// Full returns the version including the commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// ClientInfo is the client description sent to the Miniserver when a token
// is requested. It shows up in the Miniserver's token list.
func ClientInfo() string {
	return "loxctl " + Version
}
