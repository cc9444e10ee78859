package channel

// State is the externally observable sync state of a Channel, derived
// from its internal flags. It exists purely for logging/diagnostics; the
// decode pipeline itself only ever branches on the underlying flags.
type State int

const (
	// StateIdle: no SV assigned, channel not started.
	StateIdle State = iota
	// StateUnsynced: assigned and fetching samples, bit sync not yet achieved.
	StateUnsynced
	// StateBitSynced: 50bps nav bit stream recovered, no subframe parsed yet
	// (or the most recent subframe attempt failed parity).
	StateBitSynced
	// StateFrameSynced: the most recent subframe attempt parsed cleanly.
	StateFrameSynced
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUnsynced:
		return "unsynced"
	case StateBitSynced:
		return "bit_synced"
	case StateFrameSynced:
		return "frame_synced"
	default:
		return "unknown"
	}
}
