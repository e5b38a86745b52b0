package api

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// EncodeSnapshot serializes a snapshot document. The output is indented:
// snapshot files get read by humans at least as often as by machines.
func EncodeSnapshot(doc SnapshotDocument) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// maxLogCapacity bounds the log size a decoded document may declare.
// Rebuilding a snapshot allocates the full window up front, so a corrupt or
// hostile capacity field must not dictate the allocation.
const maxLogCapacity = 1 << 20

// DecodeSnapshot parses a snapshot document and checks its object tag and
// declared dimensions, so feeding the wrong or a damaged JSON file to the
// report renderer fails loudly instead of producing an empty report or an
// absurd allocation.
func DecodeSnapshot(b []byte) (SnapshotDocument, error) {
	var doc SnapshotDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return SnapshotDocument{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if doc.Object != snapshotObject {
		return SnapshotDocument{}, fmt.Errorf("not a snapshot document (object %q)", doc.Object)
	}
	if doc.LogCapacity < 1 || doc.LogCapacity > maxLogCapacity {
		return SnapshotDocument{}, fmt.Errorf("snapshot log capacity %d outside [1, %d]",
			doc.LogCapacity, maxLogCapacity)
	}
	if len(doc.Launches) > doc.LogCapacity {
		return SnapshotDocument{}, fmt.Errorf("snapshot carries %d launches for a log of %d slots",
			len(doc.Launches), doc.LogCapacity)
	}
	return doc, nil
}
