package cudart

import "errors"

var (
	// ErrUnavailable is returned by New in builds without the cuda tag.
	ErrUnavailable = errors.New("cuda runtime is not available in this build")

	// ErrNoDevices is returned by New when the runtime loads but reports
	// zero visible devices.
	ErrNoDevices = errors.New("no cuda devices visible")
)
