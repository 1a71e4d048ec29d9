package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFromSettings(t *testing.T) {
	vcs := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
	}
	dirty := append([]debug.BuildSetting{{Key: "vcs.modified", Value: "true"}}, vcs...)

	tests := []struct {
		name        string
		version     string
		commit      string
		settings    []debug.BuildSetting
		wantVersion string
		wantCommit  string
	}{
		{"no vcs", "", "", nil, "", ""},
		{"from vcs", "", "", vcs, "dev-20240501", "0123456"},
		{"dirty tree", "", "", dirty, "dev-20240501", "0123456-dirty"},
		{"ldflags win", "v1.2.3", "abc123", vcs, "v1.2.3", "abc123"},
		{"short revision", "", "", []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}}, "", "abc"},
		{"bad time", "", "", []debug.BuildSetting{{Key: "vcs.time", Value: "yesterday"}}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, c := fromSettings(tt.version, tt.commit, tt.settings)
			if v != tt.wantVersion {
				t.Errorf("version = %q, want %q", v, tt.wantVersion)
			}
			if c != tt.wantCommit {
				t.Errorf("commit = %q, want %q", c, tt.wantCommit)
			}
		})
	}
}

func TestFull(t *testing.T) {
	if !strings.Contains(Full(), Version) || !strings.Contains(Full(), Commit) {
		t.Errorf("Full() = %q, want version and commit", Full())
	}
	if !strings.HasPrefix(ClientInfo(), "loxctl ") {
		t.Errorf("ClientInfo() = %q", ClientInfo())
	}
}
