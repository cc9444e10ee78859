// Package channel implements the per-PRN navigation-message decode
// pipeline: sample buffering, bit synchronization, 20:1 majority-vote bit
// sampling, subframe framing, and hand-off of parsed subframes to an
// ephemeris record.
package channel

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samchugit/zynq-gpsnav/ephemeris"
	"github.com/samchugit/zynq-gpsnav/parity"
)

// Channel is one tracked satellite's decode pipeline. It owns its
// sample and nav-bit buffers and its front-end descriptor outright;
// nothing here reaches into module-level state.
//
//	recv_buf
//	|- buf 1 ---------------------|- buf 2 -----------------------|
//	0    1    2    3   ...   999  1000 1001 1002 1003 ...    1999
//	     ^                             ^
//	     bit_head                      bit_tail
type Channel struct {
	sv      uint8
	started bool

	recvBuf   [2 * RecvMS]byte
	bufTail   int
	bitHead   int
	bitTail   int
	bitSyncOK bool

	navBuf      [NavFrame + RecvMS/20]byte
	navTail     int
	frameSyncOK bool

	dataFetchOK bool
	rxStateLast uint32
	haveRxState bool

	thresholds BitSyncThresholds

	front FrontEnd
	eph   *ephemeris.Record

	pollInterval time.Duration
	log          logrus.FieldLogger
}

// New builds an idle, unassigned Channel using the production bit-sync
// thresholds and polling interval.
func New(log logrus.FieldLogger) *Channel {
	c := &Channel{thresholds: DefaultBitSyncThresholds, pollInterval: PollInterval, log: log}
	c.Reset()
	return c
}

// SetThresholds overrides the bit-sync decision thresholds; callers
// outside this package use it to swap in looser test-harness values.
func (c *Channel) SetThresholds(t BitSyncThresholds) {
	c.thresholds = t
}

// SetPollInterval overrides Service's polling period; tests use this to
// avoid waiting out the real 20-second watchdog.
func (c *Channel) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

// bind assigns an SV, front-end descriptor, and backing ephemeris record
// to the channel and resets its pipeline state. Called by Pool.ChanStart.
func (c *Channel) bind(sv uint8, front FrontEnd, eph *ephemeris.Record) {
	c.sv = sv
	c.front = front
	c.eph = eph
	c.started = true
	c.rxStateLast = 0
	c.haveRxState = false
	c.Reset()
}

// SV returns the PRN currently assigned to the channel, or 0 if idle.
func (c *Channel) SV() uint8 {
	return c.sv
}

// State reports the externally observable sync state.
func (c *Channel) State() State {
	switch {
	case c.frameSyncOK:
		return StateFrameSynced
	case c.bitSyncOK:
		return StateBitSynced
	case c.started:
		return StateUnsynced
	default:
		return StateIdle
	}
}

// Reset zeroes both buffers, clears the sync flags, and sets
// bit_tail = RECV_MS. It does not clear sv.
func (c *Channel) Reset() {
	for i := range c.recvBuf {
		c.recvBuf[i] = 0
	}
	c.bufTail = 0
	c.bitHead = 0
	c.bitTail = c.bitHead + RecvMS
	c.bitSyncOK = false

	for i := range c.navBuf {
		c.navBuf[i] = 0
	}
	c.navTail = 0
	c.frameSyncOK = false
}

// DataFetch polls the front end's status register. An unchanged value
// (or an I/O error, per the error taxonomy's "transient — no fresh
// samples") means no new buffer is ready: data_fetch_ok is cleared and
// DataFetch returns without touching recv_buf. On a changed value of 1
// or 2 it reads RECV_MS words from the matching buffer, binarizes each
// word (zero -> 0, else 1), and appends them at buf_tail.
func (c *Channel) DataFetch() {
	c.dataFetchOK = false

	state, err := c.front.Mem.ReadWord(c.front.StatusAddr)
	if err != nil {
		c.log.WithError(err).Debug("status register read failed, treating as no fetch")
		return
	}
	if c.haveRxState && state == c.rxStateLast {
		return
	}
	c.haveRxState = true
	c.rxStateLast = state

	var addr uint32
	switch state {
	case 1:
		addr = c.front.BufAAddr
	case 2:
		addr = c.front.BufBAddr
	default:
		return
	}

	var words [RecvMS]uint32
	if err := c.front.Mem.ReadWords(addr, RecvMS, words[:]); err != nil {
		c.log.WithError(err).Debug("sample buffer read failed, treating as no fetch")
		return
	}

	for _, w := range words {
		var bit byte
		if w != 0 {
			bit = 1
		}
		c.recvBuf[c.bufTail] = bit
		c.bufTail++
	}
	c.dataFetchOK = true
}

// BitSync locates the 20 ms phase within the first RECV_MS samples of
// recv_buf by counting 0<->1 edges per code phase. It is a no-op once
// bit_sync_ok is already true.
func (c *Channel) BitSync() {
	if c.bitSyncOK {
		return
	}

	var edges [20]int
	ip := c.recvBuf[0]
	for i := 0; i < RecvMS; i++ {
		ipLast := ip
		ip = c.recvBuf[i]
		code := i % 20
		if (ip ^ ipLast) == 1 {
			edges[code]++
		}
	}

	var total, max, maxIdx, sec int
	for i, e := range edges {
		total += e
		switch {
		case e > max:
			sec = max
			max, maxIdx = e, i
		case e > sec:
			sec = e
		}
	}

	if bitSyncAccepts(total, max, sec, c.thresholds) {
		c.bitSyncOK = true
		c.bitHead += maxIdx
		c.bitTail += maxIdx
		c.log.WithFields(logrus.Fields{"sv": c.sv, "bit_head": c.bitHead}).Debug("bit sync achieved")
		return
	}

	c.recvReset()
}

// bitSyncAccepts is the phase-lock decision rule: the edge histogram
// must show enough total activity, a clear winning phase, and a
// sufficiently quiet runner-up. All three are strict inequalities.
func bitSyncAccepts(total, max, sec int, t BitSyncThresholds) bool {
	return total > t.Total && max > t.High && sec < t.Low
}

// recvReset discards the accumulated sample buffer after a rejected bit
// sync attempt. nav_buf is necessarily still empty at this point (it
// only fills once bit_sync_ok is true), so this has the same effect as
// Reset but names the narrower operation BitSync actually performs.
func (c *Channel) recvReset() {
	c.Reset()
}

// BitSampling runs once bit_sync_ok is true and at least RECV_MS sample
// bits are available starting at bit_head. It integrates 20-sample
// groups into majority-vote nav bits, drops the consumed batch from
// recv_buf, and clears frame_sync_ok (a freshly shifted nav_buf means
// the most recent FrameSync attempt, if any, is no longer current).
func (c *Channel) BitSampling() {
	if !c.bitSyncOK || c.bufTail < c.bitTail {
		return
	}

	cnt, sum := 0, 0
	for i := c.bitHead; i < c.bitTail; i++ {
		sum += int(c.recvBuf[i])
		cnt++
		if cnt >= 20 {
			if sum > 10 {
				c.navBuf[c.navTail] = 1
			} else {
				c.navBuf[c.navTail] = 0
			}
			c.navTail++
			cnt, sum = 0, 0
		}
	}

	if c.bufTail >= RecvMS {
		c.bufTail -= RecvMS
	} else {
		c.bufTail = 0
	}
	copy(c.recvBuf[:], c.recvBuf[RecvMS:RecvMS+c.bufTail])
	c.frameSyncOK = false
}

// FrameSync repeatedly attempts to parse a subframe out of the front of
// nav_buf until fewer than NavFrame bits remain. A failed preamble match
// drops one bit; a failed word parity drops 30*(k+1) bits (the failed
// word and everything before it); a clean parse hands the 300 bits to
// the bound ephemeris record and drops exactly 300 bits.
func (c *Channel) FrameSync() {
	for c.navTail >= NavFrame {
		pol := parity.DetectPreamble(c.navBuf[:8])
		if pol == parity.NoMatch {
			c.shiftNav(1)
			c.frameSyncOK = false
			continue
		}

		d29, d30 := pol.CarryIn()
		failedAt := -1
		for wi := 0; wi < 10; wi++ {
			word := c.navBuf[wi*30 : wi*30+30]
			if !parity.Check(word, d29, d30) {
				failedAt = wi
				break
			}
			d29, d30 = word[28], word[29]
		}

		if failedAt >= 0 {
			c.shiftNav(30 * (failedAt + 1))
			c.frameSyncOK = false
			continue
		}

		c.eph.Subframe(c.navBuf[:NavFrame])
		c.shiftNav(NavFrame)
		c.frameSyncOK = true
	}
}

func (c *Channel) shiftNav(n int) {
	copy(c.navBuf[:], c.navBuf[n:c.navTail])
	c.navTail -= n
}

// Poll runs one DataFetch -> BitSync -> BitSampling -> FrameSync pass
// and reports whether a subframe parsed cleanly during it. Service
// drives Poll on a timer; tests call it directly to avoid waiting on
// real time.
func (c *Channel) Poll() bool {
	c.DataFetch()
	if c.dataFetchOK {
		c.BitSync()
	}
	parsed := false
	if c.bitSyncOK {
		// frameSyncOK stays latched between deliveries; only a pass in
		// which BitSampling ran can have parsed a new subframe.
		sampled := c.bufTail >= c.bitTail
		c.BitSampling()
		c.FrameSync()
		parsed = sampled && c.frameSyncOK
	}
	return parsed
}

// Service runs Poll on PollInterval until ctx is cancelled or the
// watchdog expires: Watchdog consecutive polls with no clean subframe
// parse. Expiry is treated as loss of signal; the caller may reassign
// the channel afterwards.
func (c *Channel) Service(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	watchdog := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if c.Poll() {
			watchdog = 0
		} else {
			watchdog++
			if watchdog >= Watchdog {
				c.log.WithField("sv", c.sv).Warn("watchdog expired, loss of signal")
				return
			}
		}
	}
}
