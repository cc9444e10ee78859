//go:build linux

package fpgamem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DevMem reads FPGA-mapped registers and BRAM through /dev/mem, mmap'ing
// one page at a time: /dev/mem is opened once, and each access maps the
// page containing its address and unmaps it before returning. Addresses
// are physical addresses as exposed by the Zynq AXI interconnect; they
// need not be page-aligned.
type DevMem struct {
	f        *os.File
	pageSize int
}

// OpenDevMem opens /dev/mem for a DevMem backend. Requires CAP_SYS_RAWIO
// (normally root) on the target.
func OpenDevMem() (*DevMem, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("fpgamem: open /dev/mem: %w", err)
	}
	return &DevMem{f: f, pageSize: os.Getpagesize()}, nil
}

// Close releases the /dev/mem file descriptor.
func (d *DevMem) Close() error {
	return d.f.Close()
}

func (d *DevMem) mapPage(addr uint32) (mapping []byte, offset int, err error) {
	page := int64(addr) &^ int64(d.pageSize-1)
	offset = int(int64(addr) - page)
	mapping, err = unix.Mmap(int(d.f.Fd()), page, d.pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, fmt.Errorf("fpgamem: mmap 0x%x: %w", addr, err)
	}
	return mapping, offset, nil
}

// ReadWord implements MemReader.
func (d *DevMem) ReadWord(addr uint32) (uint32, error) {
	mapping, off, err := d.mapPage(addr)
	if err != nil {
		return 0, err
	}
	defer unix.Munmap(mapping)

	v := uint32(mapping[off]) | uint32(mapping[off+1])<<8 | uint32(mapping[off+2])<<16 | uint32(mapping[off+3])<<24
	return v, nil
}

// ReadWords implements MemReader by reading n consecutive 32-bit words
// starting at addr. Each word costs its own mmap/munmap pair, matching
// the original driver's MemReadWords loop over single-word MemRead calls.
func (d *DevMem) ReadWords(addr uint32, n int, out []uint32) error {
	for i := 0; i < n; i++ {
		v, err := d.ReadWord(addr + uint32(i*4))
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}

// WriteWord implements MemWriter.
func (d *DevMem) WriteWord(addr uint32, val uint32) error {
	mapping, off, err := d.mapPage(addr)
	if err != nil {
		return err
	}
	defer unix.Munmap(mapping)

	mapping[off] = byte(val)
	mapping[off+1] = byte(val >> 8)
	mapping[off+2] = byte(val >> 16)
	mapping[off+3] = byte(val >> 24)
	return nil
}
