//go:build cuda

package dsa

import (
	"github.com/samcharles93/vigil/internal/cudart"
	"github.com/samcharles93/vigil/internal/logger"
)

var _ Platform = (*cudart.Runtime)(nil)

// DetectPlatform prefers the CUDA runtime and falls back to host simulation
// when it cannot initialize (no devices, missing driver).
func DetectPlatform(log logger.Logger) Platform {
	rt, err := cudart.New()
	if err != nil {
		log.Warn("cuda runtime unavailable, using host platform", "error", err)
		return HostPlatform()
	}
	return rt
}
