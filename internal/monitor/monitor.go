// Package monitor polls an assertion registry and raises the alarm the
// first time any device records a failure.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/samcharles93/vigil/internal/logger"
	"github.com/samcharles93/vigil/pkg/dsa"
)

// ErrAssertionFailure is returned by Run when the watched registry reports
// a device-side assertion failure.
var ErrAssertionFailure = errors.New("device-side assertion failure detected")

// DefaultInterval is how often the registry is polled when Config.Interval
// is unset. HasFailed is cheap, so polling can be aggressive.
const DefaultInterval = 250 * time.Millisecond

// Config controls a Monitor.
type Config struct {
	// Interval between polls. Defaults to DefaultInterval.
	Interval time.Duration

	// Logger for detection events. Defaults to logger.Default().
	Logger logger.Logger

	// OnFailure, when set, receives the snapshot taken at the moment the
	// first failure was observed.
	OnFailure func(dsa.Snapshot)
}

// Monitor watches one registry.
type Monitor struct {
	reg       *dsa.Registry
	interval  time.Duration
	log       logger.Logger
	onFailure func(dsa.Snapshot)
}

// New constructs a Monitor over reg.
func New(reg *dsa.Registry, cfg Config) *Monitor {
	m := &Monitor{
		reg:       reg,
		interval:  cfg.Interval,
		log:       cfg.Logger,
		onFailure: cfg.OnFailure,
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.log == nil {
		m.log = logger.Default()
	}
	return m
}

// Run polls the registry until the context ends or a failure is detected.
// On detection it snapshots the registry, logs a summary, invokes the
// OnFailure callback and returns ErrAssertionFailure. The full report stays
// retrievable from the registry; the monitor's job is only to notice.
func (m *Monitor) Run(ctx context.Context) error {
	// Failures that predate the monitor still count.
	if m.reg.HasFailed() {
		return m.report()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.reg.HasFailed() {
				return m.report()
			}
		}
	}
}

func (m *Monitor) report() error {
	snap := m.reg.Snapshot()

	failed := 0
	dropped := int32(0)
	for _, dev := range snap.Devices {
		if dev.Failed() {
			failed++
			dropped += dev.Dropped()
		}
	}
	m.log.Error("device-side assertion failure detected",
		"failed_devices", failed,
		"dropped_records", dropped,
		"launches", snap.Generations)

	if m.onFailure != nil {
		m.onFailure(snap)
	}
	return ErrAssertionFailure
}
