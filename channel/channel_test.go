package channel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samchugit/zynq-gpsnav/ephemeris"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestBitSyncAcceptsAtBoundary(t *testing.T) {
	assert.False(t, bitSyncAccepts(15, 12, 5, DefaultBitSyncThresholds))
	assert.True(t, bitSyncAccepts(16, 13, 4, DefaultBitSyncThresholds))
}

// TestBitSyncIdealSignal expands an alternating 50-bit pattern 20x with a 7-bit
// phase offset and expects BitSync to lock onto bit_head=7 and
// BitSampling to recover exactly the 50 original bits.
func TestBitSyncIdealSignal(t *testing.T) {
	pattern := [50]byte{}
	for i := range pattern {
		pattern[i] = byte((i*37 + 11) % 2)
	}
	const offset = 7

	c := New(testLogger())
	for i := 0; i < offset+RecvMS+offset; i++ {
		slot := 0
		if i >= offset {
			slot = ((i - offset) / 20) % 50
		} else {
			slot = 49
		}
		c.recvBuf[i] = pattern[slot]
	}
	c.bufTail = offset + RecvMS + offset

	c.BitSync()
	require.True(t, c.bitSyncOK)
	assert.Equal(t, offset, c.bitHead)
	assert.Equal(t, offset+RecvMS, c.bitTail)

	c.BitSampling()
	require.Equal(t, 50, c.navTail)
	for i := range pattern {
		assert.Equal(t, pattern[i], c.navBuf[i], "nav bit %d", i)
	}
}

// TestBitSyncRejectsFlatSignal feeds a buffer with no edges at all: the
// total-edge threshold cannot be met, so BitSync must reject and reset.
func TestBitSyncRejectsFlatSignal(t *testing.T) {
	c := New(testLogger())
	c.bufTail = RecvMS // recvBuf already all zero from New/Reset

	c.BitSync()
	assert.False(t, c.bitSyncOK)
	assert.Equal(t, 0, c.bufTail, "rejected sync discards the sample buffer")
}

func TestBitSamplingClampsBufTailAtZero(t *testing.T) {
	c := New(testLogger())
	c.bitSyncOK = true
	c.bufTail = c.bitTail // exactly enough for one pass, no leftover

	c.BitSampling()
	assert.Equal(t, 0, c.bufTail)
	assert.False(t, c.frameSyncOK)
}

func TestBitSamplingNoOpWithoutEnoughSamples(t *testing.T) {
	c := New(testLogger())
	c.bitSyncOK = true
	c.bufTail = c.bitTail - 1

	c.BitSampling()
	assert.Equal(t, 0, c.navTail)
}

func TestFrameSyncNoOpBelowSubframeLength(t *testing.T) {
	c := New(testLogger())
	c.navTail = NavFrame - 1
	c.FrameSync()
	assert.Equal(t, NavFrame-1, c.navTail)
}

// wordWithParity mirrors the parity package's own equations to build a
// 30-bit word with correct trailing parity bits for given data and
// carry-in, so tests can assemble multi-word subframes without depending
// on package parity's unexported test helper.
func wordWithParity(data [24]byte, d29, d30 byte) [30]byte {
	var word [30]byte
	copy(word[:24], data[:])

	d := data
	for i := range d {
		d[i] ^= d30
	}
	var p [6]byte
	p[0] = d29 ^ d[0] ^ d[1] ^ d[2] ^ d[4] ^ d[5] ^ d[9] ^ d[10] ^ d[11] ^ d[12] ^ d[13] ^ d[16] ^ d[17] ^ d[19] ^ d[22]
	p[1] = d30 ^ d[1] ^ d[2] ^ d[3] ^ d[5] ^ d[6] ^ d[10] ^ d[11] ^ d[12] ^ d[13] ^ d[14] ^ d[17] ^ d[18] ^ d[20] ^ d[23]
	p[2] = d29 ^ d[0] ^ d[2] ^ d[3] ^ d[4] ^ d[6] ^ d[7] ^ d[11] ^ d[12] ^ d[13] ^ d[14] ^ d[15] ^ d[18] ^ d[19] ^ d[21]
	p[3] = d30 ^ d[1] ^ d[3] ^ d[4] ^ d[5] ^ d[7] ^ d[8] ^ d[12] ^ d[13] ^ d[14] ^ d[15] ^ d[16] ^ d[19] ^ d[20] ^ d[22]
	p[4] = d30 ^ d[0] ^ d[2] ^ d[4] ^ d[5] ^ d[6] ^ d[8] ^ d[9] ^ d[13] ^ d[14] ^ d[15] ^ d[16] ^ d[17] ^ d[20] ^ d[21] ^ d[23]
	p[5] = d29 ^ d[2] ^ d[4] ^ d[5] ^ d[7] ^ d[8] ^ d[9] ^ d[10] ^ d[12] ^ d[14] ^ d[18] ^ d[21] ^ d[22] ^ d[23]
	copy(word[24:], p[:])
	return word
}

// TestFrameSyncDropsThroughFailedWord builds an upright-preamble subframe
// of ten valid words, then corrupts the sixth transmitted word's (0-indexed
// 5) first parity bit, and checks the shift-and-retry amount matches
// the documented boundary: 180 bits dropped, 120 retained.
func TestFrameSyncDropsThroughFailedWord(t *testing.T) {
	c := New(testLogger())
	c.eph = &ephemeris.Record{}

	var data [24]byte
	copy(data[:8], []byte{1, 0, 0, 0, 1, 0, 1, 1}) // preamble as word 0's data

	d29, d30 := byte(0), byte(0)
	for w := 0; w < 10; w++ {
		word := wordWithParity(data, d29, d30)
		copy(c.navBuf[w*30:w*30+30], word[:])
		d29, d30 = word[28], word[29]
		data = [24]byte{} // words 1..9 carry arbitrary (here zero) payload
	}

	c.navBuf[5*30+24] ^= 1 // flip word 5's first parity bit
	c.navTail = NavFrame

	c.FrameSync()
	assert.Equal(t, 120, c.navTail)
	assert.False(t, c.frameSyncOK)
}

// setNavBits writes value as the n-bit big-endian field occupying nav byte
// indices idx, the same layout ephemeris.Record.subframe1 reads back out.
func setNavBits(nav *[30]byte, idx []int, n int, value uint32) {
	w := value << uint(32-n)
	for i, bi := range idx {
		nav[bi] = byte(w >> uint(24-8*i))
	}
}

// twos returns the two's-complement bit pattern of v, for passing signed
// field values to setNavBits.
func twos(v int32) uint32 {
	return uint32(v)
}

// buildParityEncodedSubframe expands a 30-byte repacked subframe payload
// (the same layout ephemeris.Record.subframe1 indexes into) into a full
// 300-bit parity-encoded subframe: word 0's data is forced to the TLM
// preamble, word 1's data bits 19-21 are forced to the given subframe id,
// and each word's parity is computed with the carry-in threaded forward
// from seedD29/seedD30, mirroring FrameSync's own verification loop.
func buildParityEncodedSubframe(nav [30]byte, id byte, seedD29, seedD30 byte) [300]byte {
	var buf [300]byte
	d29, d30 := seedD29, seedD30
	for w := 0; w < 10; w++ {
		var data [24]byte
		for j := 0; j < 3; j++ {
			b := nav[3*w+j]
			for k := 0; k < 8; k++ {
				data[j*8+k] = (b >> uint(7-k)) & 1
			}
		}
		if w == 0 {
			copy(data[:8], []byte{1, 0, 0, 0, 1, 0, 1, 1})
		}
		if w == 1 {
			data[19] = (id >> 2) & 1
			data[20] = (id >> 1) & 1
			data[21] = id & 1
		}
		word := wordWithParity(data, d29, d30)
		copy(buf[w*30:w*30+30], word[:])
		d29, d30 = word[28], word[29]
	}
	return buf
}

// invertBits returns the bitwise complement of every entry in buf, the
// full-subframe equivalent of a 180-degree carrier phase ambiguity.
func invertBits(buf [300]byte) [300]byte {
	var out [300]byte
	for i, b := range buf {
		out[i] = b ^ 1
	}
	return out
}

// runFrameSync drives a fresh Channel's FrameSync over a single
// parity-encoded subframe and returns the ephemeris.Record it decoded
// into.
func runFrameSync(t *testing.T, buf [300]byte) *ephemeris.Record {
	t.Helper()
	c := New(testLogger())
	eph := &ephemeris.Record{}
	c.eph = eph
	copy(c.navBuf[:NavFrame], buf[:])
	c.navTail = NavFrame

	c.FrameSync()
	require.True(t, c.frameSyncOK, "subframe should have parsed cleanly")
	require.Equal(t, 0, c.navTail, "a clean parse consumes exactly one subframe")
	return eph
}

// TestFrameSyncSucceedsAndDecodesSubframe drives FrameSync's accept branch:
// ten parity-valid words carrying a real subframe 1 payload should set
// frame_sync_ok, consume exactly 300 bits, and hand the subframe to the
// bound ephemeris record.
func TestFrameSyncSucceedsAndDecodesSubframe(t *testing.T) {
	var nav [30]byte
	setNavBits(&nav, []int{6, 7}, 10, 513)
	setNavBits(&nav, []int{21}, 8, 200)

	buf := buildParityEncodedSubframe(nav, 1, 0, 0)
	eph := runFrameSync(t, buf)

	fields := eph.LogFields()
	assert.Equal(t, uint32(513), fields["week"])
	assert.Equal(t, uint32(200), fields["iodc"])
}

// TestPreamblePolarityRoundTrip is the spec's headline invariant: a
// subframe and its bit-for-bit complement (the 180-degree carrier phase
// ambiguity a correlator cannot resolve on its own) must decode to
// identical ephemeris fields once FrameSync's preamble/parity polarity
// resolution runs.
func TestPreamblePolarityRoundTrip(t *testing.T) {
	var nav [30]byte
	setNavBits(&nav, []int{6, 7}, 10, 513)
	setNavBits(&nav, []int{20}, 8, twos(-5))
	setNavBits(&nav, []int{21}, 8, 200)
	setNavBits(&nav, []int{22, 23}, 16, 1000)
	setNavBits(&nav, []int{24}, 8, twos(-3))
	setNavBits(&nav, []int{25, 26}, 16, 1234)
	setNavBits(&nav, []int{27, 28, 29}, 22, twos(-54321)&((1<<22)-1))

	upright := buildParityEncodedSubframe(nav, 1, 0, 0)
	inverted := invertBits(upright)

	uprightEph := runFrameSync(t, upright)
	invertedEph := runFrameSync(t, inverted)

	uprightFields := uprightEph.LogFields()
	invertedFields := invertedEph.LogFields()

	assert.NotEqual(t, uint32(0), uprightFields["iodc"], "sanity: the payload actually decoded")
	assert.Equal(t, uprightFields["week"], invertedFields["week"])
	assert.Equal(t, uprightFields["iodc"], invertedFields["iodc"])
	assert.Equal(t, uprightFields["toc"], invertedFields["toc"])
	assert.Equal(t, uprightFields["tgd"], invertedFields["tgd"])
	assert.Equal(t, uprightFields["af0"], invertedFields["af0"])
	assert.Equal(t, uprightFields["af1"], invertedFields["af1"])
	assert.Equal(t, uprightFields["af2"], invertedFields["af2"])
}

func TestStateTransitions(t *testing.T) {
	c := New(testLogger())
	assert.Equal(t, StateIdle, c.State())

	c.started = true
	assert.Equal(t, StateUnsynced, c.State())

	c.bitSyncOK = true
	assert.Equal(t, StateBitSynced, c.State())

	c.frameSyncOK = true
	assert.Equal(t, StateFrameSynced, c.State())
}

// fakeMemReader is a MemReader whose status register never changes, so
// DataFetch always reports no fresh samples.
type fakeMemReader struct {
	status uint32
}

func (f *fakeMemReader) ReadWord(addr uint32) (uint32, error) {
	return f.status, nil
}

func (f *fakeMemReader) ReadWords(addr uint32, n int, out []uint32) error {
	return fmt.Errorf("unexpected ReadWords call")
}

// TestServiceWatchdogExpiresWithoutData drives Poll directly (bypassing
// Service's real timer) to verify the watchdog gives up after exactly
// Watchdog polls when DataFetch never succeeds.
func TestServiceWatchdogExpiresWithoutData(t *testing.T) {
	c := New(testLogger())
	c.front = FrontEnd{Mem: &fakeMemReader{status: 0}, StatusAddr: 0x1000}
	c.started = true

	polls := 0
	watchdog := 0
	for watchdog < Watchdog {
		polls++
		if c.Poll() {
			watchdog = 0
		} else {
			watchdog++
		}
	}

	assert.Equal(t, Watchdog, polls)
	assert.Equal(t, 0, c.bufTail)
	assert.False(t, c.bitSyncOK)
}

func TestServiceExitsOnWatchdog(t *testing.T) {
	c := New(testLogger())
	c.SetPollInterval(time.Millisecond)
	c.front = FrontEnd{Mem: &fakeMemReader{status: 0}, StatusAddr: 0x1000}
	c.started = true

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		c.Service(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Service did not return before the test timeout")
	}
}
