package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/vigil/pkg/dsa"
)

const snapshotObject = "vigil.snapshot"

// StatusResponse summarizes the registry without copying its contents.
type StatusResponse struct {
	Object      string `json:"object"`
	Instance    string `json:"instance"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Enabled     bool   `json:"enabled"`
	StackTraces bool   `json:"stack_traces"`
	Failed      bool   `json:"failed"`
	Generations uint64 `json:"generations"`
	LogCapacity int    `json:"log_capacity"`
	Devices     int    `json:"devices"`
}

// ErrorBody is the JSON error payload.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// SnapshotDocument is the wire form of a registry snapshot. It carries
// everything needed to render a report, so a snapshot scraped from a dying
// job can be correlated offline, on another machine, after the process is
// gone.
type SnapshotDocument struct {
	ID          string       `json:"id"`
	Object      string       `json:"object"`
	CapturedAt  int64        `json:"captured_at"`
	Platform    string       `json:"platform"`
	Enabled     bool         `json:"enabled"`
	StackTraces bool         `json:"stack_traces"`
	Generations uint64       `json:"generations"`
	LogCapacity int          `json:"log_capacity"`
	Launches    []LaunchJSON `json:"launches"`
	Devices     []DeviceJSON `json:"devices"`
}

// LaunchJSON is one kernel launch record on the wire.
type LaunchJSON struct {
	Generation uint64 `json:"generation"`
	Kernel     string `json:"kernel"`
	Device     int    `json:"device"`
	Stream     int32  `json:"stream"`
	File       string `json:"file"`
	Function   string `json:"function"`
	Line       uint32 `json:"line"`
	Stack      string `json:"stack,omitempty"`
}

// DeviceJSON is one device's assertion buffer on the wire.
type DeviceJSON struct {
	Device  int          `json:"device"`
	Count   int32        `json:"count"`
	Dropped int32        `json:"dropped"`
	Records []RecordJSON `json:"records"`
}

// RecordJSON is one assertion failure on the wire.
type RecordJSON struct {
	Message  string   `json:"message"`
	File     string   `json:"file"`
	Function string   `json:"function"`
	Line     int32    `json:"line"`
	Block    [3]int32 `json:"block"`
	Thread   [3]int32 `json:"thread"`
	Caller   uint64   `json:"caller"`
}

// NewSnapshotDocument converts a snapshot into its wire form. Only live
// launch log slots travel; empty slots are rebuilt on decode.
func NewSnapshotDocument(snap dsa.Snapshot, platform string, now time.Time) SnapshotDocument {
	doc := SnapshotDocument{
		ID:          "snap_" + uuid.NewString(),
		Object:      snapshotObject,
		CapturedAt:  now.Unix(),
		Platform:    platform,
		Enabled:     snap.Enabled,
		StackTraces: snap.StackTraces,
		Generations: snap.Generations,
		LogCapacity: len(snap.Launches),
	}

	start := uint64(0)
	if window := uint64(len(snap.Launches)); snap.Generations > window {
		start = snap.Generations - window
	}
	for gen := start; gen < snap.Generations; gen++ {
		launch, ok := snap.Launch(gen)
		if !ok {
			continue
		}
		doc.Launches = append(doc.Launches, LaunchJSON{
			Generation: launch.Generation,
			Kernel:     launch.Kernel,
			Device:     launch.Device,
			Stream:     launch.Stream,
			File:       launch.File,
			Function:   launch.Function,
			Line:       launch.Line,
			Stack:      launch.Stack,
		})
	}

	for _, dev := range snap.Devices {
		doc.Devices = append(doc.Devices, deviceJSON(dev))
	}
	return doc
}

func deviceJSON(dev dsa.DeviceAssertions) DeviceJSON {
	dj := DeviceJSON{
		Device:  dev.Device,
		Count:   dev.Count,
		Dropped: dev.Dropped(),
		Records: make([]RecordJSON, 0, len(dev.Records)),
	}
	for i := range dev.Records {
		rec := &dev.Records[i]
		dj.Records = append(dj.Records, RecordJSON{
			Message:  rec.Message(),
			File:     rec.Filename(),
			Function: rec.FunctionName(),
			Line:     rec.Line,
			Block:    rec.Block,
			Thread:   rec.Thread,
			Caller:   rec.Caller,
		})
	}
	return dj
}

// Snapshot rebuilds an in-memory snapshot from the wire form. Correlation
// via Snapshot.Launch works on the result exactly as on the original.
func (d SnapshotDocument) Snapshot() dsa.Snapshot {
	capacity := d.LogCapacity
	if capacity <= 0 {
		capacity = dsa.DefaultLogCapacity
	}
	snap := dsa.Snapshot{
		Enabled:     d.Enabled,
		StackTraces: d.StackTraces,
		Generations: d.Generations,
		Launches:    make([]dsa.LaunchRecord, capacity),
	}
	for _, l := range d.Launches {
		snap.Launches[l.Generation%uint64(capacity)] = dsa.LaunchRecord{
			File:       l.File,
			Function:   l.Function,
			Line:       l.Line,
			Stack:      l.Stack,
			Kernel:     l.Kernel,
			Device:     l.Device,
			Stream:     l.Stream,
			Generation: l.Generation,
		}
	}
	for _, dev := range d.Devices {
		da := dsa.DeviceAssertions{
			Device:  dev.Device,
			Count:   dev.Count,
			Records: make([]dsa.AssertionRecord, 0, len(dev.Records)),
		}
		for _, rec := range dev.Records {
			var r dsa.AssertionRecord
			r.SetMessage(rec.Message)
			r.SetFilename(rec.File)
			r.SetFunctionName(rec.Function)
			r.Line = rec.Line
			r.Block = rec.Block
			r.Thread = rec.Thread
			r.Caller = rec.Caller
			da.Records = append(da.Records, r)
		}
		snap.Devices = append(snap.Devices, da)
	}
	return snap
}
