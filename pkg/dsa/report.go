package dsa

import (
	"fmt"
	"strings"
)

// Report renders the registry's current state as human-readable text. It is
// the one-call diagnostic: snapshot under the locks, format outside them.
func (r *Registry) Report() string {
	snap := r.Snapshot()
	return snap.Report()
}

// Report renders the snapshot as text: a short status header, then one
// block per failure joining the device-side assertion with the host-side
// launch that caused it.
func (s *Snapshot) Report() string {
	var b strings.Builder

	b.WriteString("device-side assertion report\n")
	fmt.Fprintf(&b, "tracking: %s, stack traces: %s\n",
		onOff(s.Enabled, "enabled", "disabled"),
		onOff(s.StackTraces, "on", "off"))
	fmt.Fprintf(&b, "launches recorded: %d, log window: %d\n",
		s.Generations, len(s.Launches))

	if !s.HasFailed() {
		b.WriteString("no assertion failures recorded\n")
		return b.String()
	}

	for _, dev := range s.Devices {
		if !dev.Failed() {
			continue
		}
		b.WriteByte('\n')
		fmt.Fprintf(&b, "device %d: %d failure(s), %d recorded",
			dev.Device, dev.Count, len(dev.Records))
		if n := dev.Dropped(); n > 0 {
			fmt.Fprintf(&b, ", %d dropped (buffer capacity %d)",
				n, AssertionCapacity)
		}
		b.WriteByte('\n')

		for i := range dev.Records {
			rec := &dev.Records[i]
			fmt.Fprintf(&b, "  [%d] assertion failed: %s\n", i+1, rec.Message())
			fmt.Fprintf(&b, "      device: %s:%d in %s\n",
				rec.Filename(), rec.Line, rec.FunctionName())
			fmt.Fprintf(&b, "      thread: block (%d,%d,%d), thread (%d,%d,%d)\n",
				rec.Block[0], rec.Block[1], rec.Block[2],
				rec.Thread[0], rec.Thread[1], rec.Thread[2])
			s.writeLaunch(&b, rec.Caller)
		}
	}
	return b.String()
}

func (s *Snapshot) writeLaunch(b *strings.Builder, gen uint64) {
	launch, ok := s.Launch(gen)
	if !ok {
		fmt.Fprintf(b, "      launch: generation %d (record overwritten or never logged)\n", gen)
		return
	}
	fmt.Fprintf(b, "      launch: generation %d, kernel %s, device %d, stream %d\n",
		launch.Generation, launch.Kernel, launch.Device, launch.Stream)
	fmt.Fprintf(b, "      host:   %s:%d in %s\n",
		launch.File, launch.Line, launch.Function)
	if launch.Stack != "" {
		b.WriteString("      stack:\n")
		for _, line := range strings.Split(strings.TrimRight(launch.Stack, "\n"), "\n") {
			b.WriteString("        ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
}

func onOff(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
