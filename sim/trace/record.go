// Package trace carries per-packet trace events from the network to
// external consumers and optionally records them for summary.
// This package has no dependencies on the simulator packages; it stores
// pure data types.
package trace

import "time"

// Kind is the class of a trace event.
type Kind string

const (
	KindTransmit Kind = "transmit"
	KindReceive  Kind = "receive"
	KindDrop     Kind = "drop"
	KindRetry    Kind = "retry"
)

// Kinds lists every kind in a fixed order.
var Kinds = []Kind{KindTransmit, KindReceive, KindDrop, KindRetry}

// IsValidKind reports whether k is a known kind.
func IsValidKind(k Kind) bool {
	for _, v := range Kinds {
		if v == k {
			return true
		}
	}
	return false
}

// Record is a single per-packet event.
type Record struct {
	Kind   Kind
	Time   time.Duration
	Node   int
	Device int    // -1 when the event is above the MAC (routing drops)
	UID    uint64 // network packet uid
	Size   int    // IP packet bytes
	Reason string // drop reason, empty otherwise
	// Attempt is the retransmission number of a retry event.
	Attempt int
}
