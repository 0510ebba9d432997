package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"go.tigermatt.uk/dive"
	"go.tigermatt.uk/dive/codec"
)

type sniffFlags struct {
	device  string
	baud    int
	gap     time.Duration
	dumpAll bool
	record  bool
}

func (a *app) sniffCommand() *cobra.Command {
	fl := sniffFlags{baud: 9600, gap: 10 * time.Millisecond}
	cmd := &cobra.Command{
		Use:   "sniff PORT",
		Short: "Listen on a serial line tapped between vendor software and a device",
		Args:  cobra.ExactArgs(1),
		RunE:  func(_ *cobra.Command, args []string) error { return a.sniff(fl, args[0]) },
	}
	cmd.Flags().StringVar(&fl.device, "device", "", "Decode frames using this device's framing and line speed")
	cmd.Flags().IntVar(&fl.baud, "baud", fl.baud, "Line speed when no device is given")
	cmd.Flags().DurationVar(&fl.gap, "intermessage-gap", fl.gap, "Gap between messages")
	cmd.Flags().BoolVar(&fl.dumpAll, "dump-reads", fl.dumpAll, "Dump all read operations")
	cmd.Flags().BoolVar(&fl.record, "record", fl.record, "Record the traffic to <unix time>.rec")

	return cmd
}

func (a *app) sniff(fl sniffFlags, name string) error {
	ctx := listenStop()

	s := &dive.Sniffer{}
	mode := &serial.Mode{BaudRate: fl.baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}

	if fl.device != "" {
		desc, err := a.reg.Lookup(fl.device)
		if err != nil {
			return err
		}
		if desc.Transport.BaudRate > 0 {
			mode.BaudRate = desc.Transport.BaudRate
		}
		if s.Codec, err = codec.New(desc.Framing); err != nil {
			return err
		}
		s.OnPacket = func(p codec.Packet) {
			fmt.Printf("= %s % 02X\n", time.Now().Format("15:04:05.000"), p.Payload)
		}
		s.OnError = func(err error) {
			fmt.Printf("! %s %v\n", time.Now().Format("15:04:05.000"), err)
		}
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return fmt.Errorf("opening serial: %w", err)
	}
	defer port.Close()
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		return fmt.Errorf("setting read timeout: %w", err)
	}
	s.Port = port

	var rec *dive.Recorder
	if fl.record {
		f, err := os.Create(outFilename("rec"))
		if err != nil {
			return fmt.Errorf("creating recording: %w", err)
		}
		defer f.Close()
		rec = &dive.Recorder{Dest: f}
	}

	var last time.Time
	msg := time.Now()
	var buf bytes.Buffer

	s.OnReceive = func(bs []byte) {
		diff := time.Since(last)
		sinceStartOfMessage := time.Since(msg)
		last = time.Now()

		if rec != nil {
			rec.Receive(dive.Message{Dir: dive.Rx, Data: bs, Timestamp: last})
		}

		if fl.dumpAll {
			fmt.Printf("%s % 02X\n", last.Format("15:04:05.000"), bs)
		}

		if diff > fl.gap && buf.Len() > 0 {
			if !fl.dumpAll {
				dumpMsg(msg, last, fl.gap, sinceStartOfMessage, buf.Bytes())
			}
			buf.Reset()
			msg = last
		}

		buf.Write(bs)
	}

	err = s.Consume(ctx)
	if buf.Len() > 0 {
		dumpMsg(msg, last, fl.gap, time.Since(msg), buf.Bytes())
	}
	if rec != nil && rec.Err() != nil {
		a.log.Error("recording incomplete", "err", rec.Err())
	}
	return err
}

func dumpMsg(start, end time.Time, gap, d time.Duration, bs []byte) {
	fmt.Printf("> %s %s (%02d gap=%02d) %+02d: % 02X\n",
		start.Format("15:04:05.000"),
		end.Format("15:04:05.000"),
		len(bs), gap.Milliseconds(), d.Milliseconds(), bs)
}
