// Package buildinfo reports the version of the running binary.
//
// Release builds inject values via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/wamesh-go/internal/infra/buildinfo.Version=v1.0.0"
//
// Without ldflags, Commit and BuildTime fall back to the VCS stamp that
// the Go toolchain records in module builds.
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Build-time variables (set via ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info contains build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

var (
	vcsOnce sync.Once
	vcs     struct{ revision, time string }
)

func readVCS() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			vcs.revision = s.Value
		case "vcs.time":
			vcs.time = s.Value
		}
	}
}

// Get returns the build information.
func Get() Info {
	vcsOnce.Do(readVCS)

	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "unknown" && vcs.revision != "" {
		info.Commit = shortRevision(vcs.revision)
	}
	if info.BuildTime == "unknown" && vcs.time != "" {
		info.BuildTime = vcs.time
	}
	return info
}

// String returns a formatted version string.
func String() string {
	info := Get()
	return info.Version + " (" + info.Commit + ") built at " + info.BuildTime + " with " + info.GoVersion
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
