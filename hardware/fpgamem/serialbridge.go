package fpgamem

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Bench debug-UART framing. The bridge board sits between a host and the
// FPGA's AXI-Lite bus; it understands three single-letter commands and
// replies with raw big-endian payload, no checksum or escaping.
const (
	cmdReadWord  = 'R' // 'R' + addr(4) -> value(4)
	cmdReadWords = 'B' // 'B' + addr(4) + count(2) -> count*4 bytes
	cmdWriteWord = 'W' // 'W' + addr(4) + value(4) -> 'K'
)

const defaultBridgeTimeout = 200 * time.Millisecond

// SerialBridge implements MemReader/MemWriter by relaying register and
// BRAM accesses over a debug UART, for bench rigs where the FPGA fabric
// is not directly memory-mapped on the host. Adapted from a device
// wrapper originally written against USB-serial GNSS receivers: same
// open/read/write/close shape, repurposed to carry raw register reads
// instead of NMEA or RTCM framing.
type SerialBridge struct {
	port serial.Port
	lock sync.Mutex
}

// OpenSerialBridge opens portName at baudRate and wraps it as a
// MemReader/MemWriter. The caller is responsible for calling Close.
func OpenSerialBridge(portName string, baudRate int) (*SerialBridge, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("fpgamem: open %s: %w", portName, err)
	}
	if err := p.SetReadTimeout(defaultBridgeTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("fpgamem: set read timeout: %w", err)
	}
	return &SerialBridge{port: p}, nil
}

// Close closes the underlying serial port.
func (b *SerialBridge) Close() error {
	return b.port.Close()
}

func (b *SerialBridge) readFull(buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := b.port.Read(buf[off:])
		if err != nil {
			return fmt.Errorf("fpgamem: bridge read: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("fpgamem: bridge read timed out")
		}
		off += n
	}
	return nil
}

// ReadWord implements MemReader.
func (b *SerialBridge) ReadWord(addr uint32) (uint32, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	req := make([]byte, 5)
	req[0] = cmdReadWord
	binary.BigEndian.PutUint32(req[1:], addr)
	if _, err := b.port.Write(req); err != nil {
		return 0, fmt.Errorf("fpgamem: bridge write: %w", err)
	}

	resp := make([]byte, 4)
	if err := b.readFull(resp); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(resp), nil
}

// ReadWords implements MemReader, fetching n consecutive 32-bit words
// starting at addr in a single framed request.
func (b *SerialBridge) ReadWords(addr uint32, n int, out []uint32) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	req := make([]byte, 7)
	req[0] = cmdReadWords
	binary.BigEndian.PutUint32(req[1:5], addr)
	binary.BigEndian.PutUint16(req[5:7], uint16(n))
	if _, err := b.port.Write(req); err != nil {
		return fmt.Errorf("fpgamem: bridge write: %w", err)
	}

	resp := make([]byte, n*4)
	if err := b.readFull(resp); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint32(resp[i*4:])
	}
	return nil
}

// WriteWord implements MemWriter.
func (b *SerialBridge) WriteWord(addr uint32, val uint32) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	req := make([]byte, 9)
	req[0] = cmdWriteWord
	binary.BigEndian.PutUint32(req[1:5], addr)
	binary.BigEndian.PutUint32(req[5:9], val)
	if _, err := b.port.Write(req); err != nil {
		return fmt.Errorf("fpgamem: bridge write: %w", err)
	}

	ack := make([]byte, 1)
	if err := b.readFull(ack); err != nil {
		return err
	}
	if ack[0] != 'K' {
		return fmt.Errorf("fpgamem: bridge nak'd write to 0x%x", addr)
	}
	return nil
}
