// Package contracts pins the constants shared across the services, the CLI
// and the test suites: the build version and the HTTP/WebSocket contract
// revision reported by the health and version endpoints.
package contracts

import (
	"fmt"
	"runtime"
)

const (
	// Version is the build's semantic version, reported by the health and
	// version endpoints and logged at boot.
	Version = "1.0.0"

	// APIVersion names the HTTP and WebSocket contract revision.
	APIVersion = "v1"
)

// Set at build time via -ldflags "-X quantumlic/pkg/contracts.BuildTime=...".
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionInfo is the /api/version response body.
type VersionInfo struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	GitCommit  string `json:"git_commit"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// GetVersionInfo collects the compile-time and runtime version facts.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:    Version,
		APIVersion: APIVersion,
		GitCommit:  GitCommit,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the one-line form used by CLI version output.
func (v VersionInfo) String() string {
	return fmt.Sprintf("QuantumQi trust layer v%s (commit %s, built %s, %s %s)",
		v.Version, v.GitCommit, v.BuildTime, v.GoVersion, v.Platform)
}
