package core

// Build metadata, injected at link time:
//
//	go build -ldflags "-X sdstudio/core.Version=$(git describe --tags --always) \
//	  -X sdstudio/core.GitCommit=$(git rev-parse --short HEAD) \
//	  -X sdstudio/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionInfo formats the build metadata for `sdstudio --version` and the
// health endpoint.
//
//	v1.2.0 (built 2026-01-15T10:30:00Z, commit abc1234)
func VersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
