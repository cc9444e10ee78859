package channel

import "time"

// RecvMS is the size, in 1 ms samples, of one FPGA sample delivery.
const RecvMS = 1000

// NavFrame is the number of nav bits in one subframe.
const NavFrame = 300

// PollInterval is the Service() polling period.
const PollInterval = 250 * time.Millisecond

// Watchdog is the number of consecutive polls without a good subframe
// before Service() gives up on the channel (20s at PollInterval=250ms).
const Watchdog = 80

// BitSyncThresholds gates the phase-histogram decision in BitSync. Two
// sets existed upstream: the production values (15/12/5, the package
// defaults) and a looser set (25/20/10) used only under test harness
// noise conditions. Exposed as a parameter rather than hard-coded so a
// test can swap in the looser set without relinking the package.
type BitSyncThresholds struct {
	Total int // total edge count across all 20 code phases must exceed this
	High  int // edge count at the winning phase must exceed this
	Low   int // edge count at the runner-up phase must be below this
}

// DefaultBitSyncThresholds are the production thresholds.
var DefaultBitSyncThresholds = BitSyncThresholds{Total: 15, High: 12, Low: 5}
