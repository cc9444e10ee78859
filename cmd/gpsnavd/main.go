// Command gpsnavd runs the navigation-message decode pipeline against a
// set of channel assignments given on the command line, logging each
// channel's sync state and, once an ephemeris record validates, its
// orbit and clock correction evaluated at the record's Tow value.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samchugit/zynq-gpsnav/channel"
	"github.com/samchugit/zynq-gpsnav/hardware/fpgamem"
)

var (
	backend     string
	serialPort  string
	serialBaud  int
	assignments string
	logLevel    string
)

func init() {
	flag.StringVar(&backend, "backend", "devmem", "sample source: devmem or serial")
	flag.StringVar(&serialPort, "serial-port", "", "bridge UART port (serial backend only)")
	flag.IntVar(&serialBaud, "serial-baud", 115200, "bridge UART baud rate (serial backend only)")
	flag.StringVar(&assignments, "chans", "", "comma-separated ch:sv:status:bufa:bufb assignments, addresses in hex")
	flag.StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")
}

type assignment struct {
	ch   int
	sv   uint8
	addr channel.FrontEnd
}

func parseAssignments(mem fpgamem.MemReader, spec string) ([]assignment, error) {
	if spec == "" {
		return nil, fmt.Errorf("gpsnavd: -chans is required")
	}

	var out []assignment
	for _, group := range strings.Split(spec, ",") {
		fields := strings.Split(group, ":")
		if len(fields) != 5 {
			return nil, fmt.Errorf("gpsnavd: bad assignment %q, want ch:sv:status:bufa:bufb", group)
		}

		ch, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("gpsnavd: bad channel index %q: %w", fields[0], err)
		}
		sv, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("gpsnavd: bad sv %q: %w", fields[1], err)
		}
		status, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("gpsnavd: bad status address %q: %w", fields[2], err)
		}
		bufA, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("gpsnavd: bad buf-a address %q: %w", fields[3], err)
		}
		bufB, err := strconv.ParseUint(fields[4], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("gpsnavd: bad buf-b address %q: %w", fields[4], err)
		}

		out = append(out, assignment{
			ch: ch,
			sv: uint8(sv),
			addr: channel.FrontEnd{
				Mem:        mem,
				StatusAddr: uint32(status),
				BufAAddr:   uint32(bufA),
				BufBAddr:   uint32(bufB),
			},
		})
	}
	return out, nil
}

func openBackend() (fpgamem.MemReader, func(), error) {
	switch backend {
	case "devmem":
		d, err := fpgamem.OpenDevMem()
		if err != nil {
			return nil, nil, err
		}
		return d, func() { d.Close() }, nil
	case "serial":
		if serialPort == "" {
			return nil, nil, fmt.Errorf("gpsnavd: -serial-port is required for the serial backend")
		}
		b, err := fpgamem.OpenSerialBridge(serialPort, serialBaud)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("gpsnavd: unknown backend %q", backend)
	}
}

func main() {
	flag.Parse()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}

	mem, closeMem, err := openBackend()
	if err != nil {
		log.WithError(err).Fatal("failed to open sample source")
	}
	defer closeMem()

	chans, err := parseAssignments(mem, assignments)
	if err != nil {
		log.WithError(err).Fatal("invalid channel assignments")
	}

	pool := channel.NewPool(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, a := range chans {
		session, err := pool.ChanStart(ctx, a.ch, a.sv, a.addr)
		if err != nil {
			log.WithError(err).Fatalf("failed to start channel %d", a.ch)
		}
		log.WithFields(logrus.Fields{"chan": a.ch, "sv": a.sv, "session": session}).Info("channel assigned")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info("shutting down")
			cancel()
			return
		case now := <-ticker.C:
			for _, a := range chans {
				c := pool.Channel(a.ch)
				eph := pool.Ephemeris(a.sv)
				fields := logrus.Fields{"chan": a.ch, "sv": a.sv, "state": c.State()}
				if eph.Valid() {
					tow := float64(eph.Tow)
					x, y, z := eph.GetXYZ(tow)
					fields["x"], fields["y"], fields["z"] = x, y, z
					fields["clock_correction"] = eph.GetClockCorrection(tow)
				}
				log.WithFields(fields).WithTime(now).Info("channel status")
			}
		}
	}
}
