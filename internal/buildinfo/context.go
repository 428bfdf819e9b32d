// Package buildinfo carries build-time metadata that is not user configurable.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Context holds version data injected at link time.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

const unknown = "unknown"

// New fills missing fields from the embedded module build info, so
// `go install` builds still report a version.
func New(version, buildDate string) Context {
	c := Context{Version: version, BuildDate: buildDate}
	if c.Version == "" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			c.Version = bi.Main.Version
		}
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.BuildDate == "" {
		c.BuildDate = unknown
	}
	return c
}

// String is the one-line form shown by --version.
func (c Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.Version, c.BuildDate)
}

// Release is the Sentry release identifier.
func (c Context) Release() string {
	return "turntable-relay@" + c.Version
}
