package channel

import "github.com/samchugit/zynq-gpsnav/hardware/fpgamem"

// FrontEnd is the memory-mapped receiver front end a Channel pulls
// samples from: a status register that alternates between 1 and 2 to
// signal which of two ping-pong sample buffers is ready, and the two
// buffer addresses themselves.
type FrontEnd struct {
	Mem        fpgamem.MemReader
	StatusAddr uint32
	BufAAddr   uint32
	BufBAddr   uint32
}
