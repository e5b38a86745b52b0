package dsa

import (
	"os"
	"strings"
)

// Environment switches. Both are read once when a Registry is constructed;
// flipping them mid-run would leave in-flight generation numbers ambiguous.
const (
	// EnvDisable turns launch tracking off for the whole process when set
	// to a truthy value. Tracking is on by default.
	EnvDisable = "VIGIL_DISABLE"

	// EnvStackTraces additionally captures a host stack trace for every
	// launch. Off by default: symbolization is far more expensive than the
	// launch itself.
	EnvStackTraces = "VIGIL_LAUNCH_STACKTRACES"
)

func envOptOut() bool { return envBool(EnvDisable) }

func envStackTraces() bool { return envBool(EnvStackTraces) }

// envBool treats "1", "true", "yes" and "on" (any case) as true and
// everything else, including unset, as false.
func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
