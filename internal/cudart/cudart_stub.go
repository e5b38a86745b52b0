//go:build !cuda

package cudart

// Runtime is only functional in builds carrying the cuda tag.
type Runtime struct{}

// New reports that no CUDA runtime is linked into this build.
func New() (*Runtime, error) {
	return nil, ErrUnavailable
}
