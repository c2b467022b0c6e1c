package version

import (
	"runtime/debug"
	"testing"
)

// pin sets the ldflags variables and build info for one test.
func pin(t *testing.T, version, commit, buildTime string, info *debug.BuildInfo) {
	t.Helper()
	origVersion, origCommit, origBuildTime, origRead := Version, GitCommit, BuildTime, readBuildInfo
	t.Cleanup(func() {
		Version, GitCommit, BuildTime, readBuildInfo = origVersion, origCommit, origBuildTime, origRead
	})
	Version, GitCommit, BuildTime = version, commit, buildTime
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
}

func TestVersion_Default(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestFull(t *testing.T) {
	vcs := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef"},
	}}

	tests := []struct {
		name      string
		version   string
		commit    string
		buildTime string
		info      *debug.BuildInfo
		want      string
	}{
		{"version only", "1.0.0", "", "", nil, "1.0.0"},
		{"with commit", "1.0.0", "abc1234", "", nil, "1.0.0-abc1234"},
		{"with build time", "1.0.0", "", "2026-01-29T12:00:00Z", nil, "1.0.0 (2026-01-29T12:00:00Z)"},
		{"complete", "1.0.0", "abc1234", "2026-01-29T12:00:00Z", nil, "1.0.0-abc1234 (2026-01-29T12:00:00Z)"},
		{"vcs fallback", "dev", "", "", vcs, "dev-0123456"},
		{"ldflags win over vcs", "1.0.0", "abc1234", "", vcs, "1.0.0-abc1234"},
		{"short revision ignored", "dev", "", "", &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}}}, "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pin(t, tt.version, tt.commit, tt.buildTime, tt.info)
			if got := Full(); got != tt.want {
				t.Errorf("Full() = %q, want %q", got, tt.want)
			}
		})
	}
}
