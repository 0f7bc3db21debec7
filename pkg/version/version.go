package version

import (
	"fmt"
	"runtime/debug"
)

// Name is the program name reported to MCP clients and in CLI output.
const Name = "mcpsales"

var version = "dev"

// Version returns the module version when built from a tagged module, else the
// value set via Set or -ldflags.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Sum != "" {
		return info.Main.Version
	}
	return version
}

// Set assigns the version when ldflags are not provided (e.g. local dev).
func Set(v string) {
	if v != "" {
		version = v
	}
}

// String formats name and version, e.g. "mcpsales dev".
func String() string {
	return fmt.Sprintf("%s %s", Name, Version())
}
