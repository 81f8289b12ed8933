// Package version reports the version of the ghostrec binaries.
package version

import (
	"fmt"
	"runtime/debug"
)

const (
	Major = 0
	Minor = 1
	Patch = 0
)

// PreRelease is set on non-release builds. May be overridden at link time
// with -ldflags "-X github.com/companyzero/ghostrec/internal/version.PreRelease=".
var PreRelease = "pre"

// vcsRevision returns the short commit recorded in the build info, if any.
func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var vcs, revision string
	var modified bool
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs":
			vcs = bs.Value
		case "vcs.revision":
			revision = bs.Value
		case "vcs.modified":
			modified = bs.Value == "true"
		}
	}
	if vcs == "" || revision == "" {
		return ""
	}
	if vcs == "git" && len(revision) > 9 {
		revision = revision[:9]
	}
	if modified {
		revision += "-dirty"
	}
	return revision
}

// String returns the semver-like version string.
func String() string {
	s := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		s += "-" + PreRelease
	}
	if rev := vcsRevision(); rev != "" {
		s += "+" + rev
	}
	return s
}
