// Package version provides build-time version information for cachepool.
//
// Version is set at build time using ldflags:
//
//	go build -ldflags "-X github.com/distcache/cachepool/version.Version=1.0.0"
//
// For development builds, the default "dev" version is used.
package version

import "runtime/debug"

// Version is the software version, set at build time via ldflags.
var Version = "dev"

// GitCommit is the git commit hash, set at build time via ldflags.
// Example: go build -ldflags "-X github.com/distcache/cachepool/version.GitCommit=$(git rev-parse --short HEAD)"
var GitCommit = ""

// BuildTime is when the binary was built, set at build time via ldflags.
var BuildTime = ""

// Full returns the full version string including commit and build time if available.
// Without ldflags the VCS revision recorded by the go tool is used.
func Full() string {
	v := Version
	commit := GitCommit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit != "" {
		v += "-" + commit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

var readBuildInfo = debug.ReadBuildInfo

func vcsRevision() string {
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}
