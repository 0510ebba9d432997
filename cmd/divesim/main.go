// Command divesim emulates a dive computer on a serial port, for bench
// testing a download over a null-modem cable.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"

	"go.tigermatt.uk/dive"
	"go.tigermatt.uk/dive/internal/simlink"
	"go.tigermatt.uk/dive/registry"
	"go.tigermatt.uk/dive/transport"
)

type options struct {
	port   string
	device string
	dives  int
	serial uint32
}

func main() {
	opts := options{port: "/dev/ttyUSB0", device: "generic/memory-m2", dives: 10, serial: 1}

	cmd := &cobra.Command{
		Use:  "divesim",
		Args: cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error { return run(opts) },
	}
	cmd.Flags().StringVar(&opts.port, "port", opts.port, "Serial port the host is cabled to")
	cmd.Flags().StringVar(&opts.device, "device", opts.device, "Device to emulate")
	cmd.Flags().IntVar(&opts.dives, "dives", opts.dives, "Number of dives in the log")
	cmd.Flags().Uint32Var(&opts.serial, "serial", opts.serial, "Serial number to report")

	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}

// baudSwitcher is an emulated device that can move to a faster line rate.
type baudSwitcher interface {
	BaudSwitches() []byte
}

type sim struct {
	desc registry.Descriptor
	emu  dive.Emulator
	s    *serial.Port
	baud int
}

func run(opts options) error {
	desc, err := registry.Default().Lookup(opts.device)
	if err != nil {
		return err
	}
	switch desc.Transport.Kind {
	case transport.Serial, transport.IrDA:
	default:
		return fmt.Errorf("%s uses %s, not a serial line", desc.ID(), desc.Transport.Kind)
	}

	first := time.Now().AddDate(0, 0, -opts.dives).Truncate(24 * time.Hour)
	emu, err := dive.Simulate(desc, opts.serial, simlink.Synthetic(opts.dives, first, desc.Units.TempUnit)...)
	if err != nil {
		return err
	}
	if _, err := emu.Open(opts.port, desc.Transport); err != nil {
		return err
	}

	sm := &sim{desc: desc, emu: emu}
	if err := sm.open(opts.port, desc.Transport.BaudRate); err != nil {
		return err
	}
	defer func() { sm.s.Close() }()

	log.Printf("emulating %s serial %d with %d dives on %s", desc, opts.serial, opts.dives, opts.port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sm.pump(ctx, opts.port) })
	return g.Wait()
}

func (sm *sim) open(name string, baud int) error {
	s, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("opening %s at %d: %w", name, baud, err)
	}
	sm.s, sm.baud = s, baud
	return nil
}

func (sm *sim) pump(ctx context.Context, name string) error {
	req := make([]byte, 256)
	reply := make([]byte, 4096)
	switches := 0

	for ctx.Err() == nil {
		n, err := sm.s.Read(req)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading from host: %w", err)
		}
		if n == 0 {
			continue
		}
		logIn("HOST", req[:n])

		if _, err := sm.emu.Write(req[:n]); err != nil {
			return err
		}
		for {
			got, err := sm.emu.Read(reply, 0)
			if transport.IsTimeout(err) {
				break
			}
			if err != nil {
				return err
			}
			log.Printf("> DEV  % 02X\n", reply[:got])
			if _, err := sm.s.Write(reply[:got]); err != nil {
				return fmt.Errorf("writing to host: %w", err)
			}
		}

		bs, ok := sm.emu.(baudSwitcher)
		if !ok || len(bs.BaudSwitches()) == switches {
			continue
		}
		switches = len(bs.BaudSwitches())

		// Give the acknowledgement time to leave the UART at the old rate.
		time.Sleep(50 * time.Millisecond)
		sm.s.Flush()
		sm.s.Close()
		if err := sm.open(name, sm.desc.Transport.FastBaudRate); err != nil {
			return err
		}
		log.Printf("switched to %d baud", sm.baud)
	}
	return nil
}

func logIn(name string, bs []byte) {
	log.Printf("< %s % 02X\n", name, bs)
}
