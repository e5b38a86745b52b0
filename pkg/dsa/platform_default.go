//go:build !cuda

package dsa

import "github.com/samcharles93/vigil/internal/logger"

// DetectPlatform picks the platform for this build. Builds without the
// cuda tag only have host simulation.
func DetectPlatform(logger.Logger) Platform {
	return HostPlatform()
}
