// Package version contains build version information.
package version

// Version is the release version, set at build time via ldflags.
var Version = "0.0.0-dev"

// GitCommit is the git commit hash.
// This value is set at build time via ldflags.
var GitCommit = "unknown"

// BuildDate is the build date.
// This value is set at build time via ldflags.
var BuildDate = "unknown"
