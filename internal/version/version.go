// Package version holds the release version reported by the /version
// endpoint, the CLI and the startup log line.
package version

// Version is the current OpenBridge release.
const Version = "0.3.0"
