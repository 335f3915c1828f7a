package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected by ldflags
var (
	Version   = "dev"     // Version of the application
	BuildTime = "unknown" // Build timestamp
)

// GetVersionString returns a formatted version string
func GetVersionString() string {
	return Version
}

// GetFullVersionString returns a comprehensive version string
func GetFullVersionString() string {
	return fmt.Sprintf("Tabscope %s\nBuilt: %s\nGo: %s",
		Version, BuildTime, runtime.Version())
}
