package channel

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/samchugit/zynq-gpsnav/ephemeris"
)

// NChans is the number of simultaneously tracked channels.
const NChans = 12

// NSats is the number of GPS PRNs, 1..32.
const NSats = 32

// Pool owns the fixed array of channels and the per-PRN ephemeris
// records they write into, replacing the module-level Chans[]/Ephemeris[]
// arrays of the original design with an explicitly owned receiver
// context: a controller holds a *Pool and passes it (or slices of it)
// into each worker, rather than workers reaching into package globals.
type Pool struct {
	chans [NChans]*Channel
	eph   [NSats]*ephemeris.Record
	busy  atomic.Uint32
	log   logrus.FieldLogger
}

// NewPool builds a Pool with all channels idle and all ephemeris records
// zeroed (hence invalid, per ephemeris.Record.Valid).
func NewPool(log logrus.FieldLogger) *Pool {
	p := &Pool{log: log}
	for i := range p.eph {
		p.eph[i] = &ephemeris.Record{}
	}
	for i := range p.chans {
		p.chans[i] = New(log.WithField("chan", i))
	}
	return p
}

// ChanReset resets every channel in the pool.
func (p *Pool) ChanReset() {
	for _, c := range p.chans {
		c.Reset()
	}
}

// Channel returns the ch'th channel for inspection (state, SV). ch must
// be in [0, NChans).
func (p *Pool) Channel(ch int) *Channel {
	return p.chans[ch]
}

// Ephemeris returns the shared ephemeris record for PRN sv (1..32).
func (p *Pool) Ephemeris(sv uint8) *ephemeris.Record {
	return p.eph[sv-1]
}

// Busy reports whether channel ch's busy bit is set.
func (p *Pool) Busy(ch int) bool {
	return p.busy.Load()&(1<<uint(ch)) != 0
}

// ChanStart binds PRN sv to channel ch with the given front-end
// descriptor, sets ch's busy bit, and launches its worker goroutine. The
// worker runs Service until the watchdog expires or ctx is cancelled, at
// which point it clears its own busy bit and the channel may be
// reassigned. ChanStart returns a session id tagging this assignment,
// useful for correlating log lines across a channel's lifetime even
// though PRNs get reused across many assignments.
func (p *Pool) ChanStart(ctx context.Context, ch int, sv uint8, front FrontEnd) (uuid.UUID, error) {
	if ch < 0 || ch >= NChans {
		return uuid.Nil, fmt.Errorf("channel: chan index %d out of range [0,%d)", ch, NChans)
	}
	if sv < 1 || sv > NSats {
		return uuid.Nil, fmt.Errorf("channel: sv %d out of range [1,%d]", sv, NSats)
	}

	c := p.chans[ch]
	c.bind(sv, front, p.eph[sv-1])

	session := uuid.New()
	setBit(&p.busy, ch)
	p.log.WithFields(logrus.Fields{"chan": ch, "sv": sv, "session": session}).Info("channel started")

	go func() {
		defer clearBit(&p.busy, ch)
		c.Service(ctx)
	}()

	return session, nil
}

func setBit(v *atomic.Uint32, bit int) {
	for {
		old := v.Load()
		next := old | (1 << uint(bit))
		if v.CompareAndSwap(old, next) {
			return
		}
	}
}

func clearBit(v *atomic.Uint32, bit int) {
	for {
		old := v.Load()
		next := old &^ (1 << uint(bit))
		if v.CompareAndSwap(old, next) {
			return
		}
	}
}
