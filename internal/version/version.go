// Package version reports build information for the replicator.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/market-replica/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/market-replica/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/market-replica/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "runtime"

// Set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build information of the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String formats i for logs and the -version flag.
func (i Info) String() string {
	return i.Version + " (" + i.Commit + ", " + i.GoVersion + ") built " + i.BuildTime
}

// String returns Get().String().
func String() string {
	return Get().String()
}
