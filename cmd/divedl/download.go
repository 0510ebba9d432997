package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go.tigermatt.uk/dive"
	"go.tigermatt.uk/dive/internal/simlink"
	"go.tigermatt.uk/dive/protocol"
)

type downloadFlags struct {
	simulate int
	out      string
	record   string
	since    string
	samples  bool
}

func (a *app) downloadCommand() *cobra.Command {
	var fl downloadFlags
	cmd := &cobra.Command{
		Use:   "download DEVICE@ADDR...",
		Short: "Download dive logs",
		Long: "Download dive logs from one or more devices, e.g.\n" +
			"  divedl download generic/stream-s1@/dev/ttyUSB0 generic/memory-m3@1",
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error { return a.download(fl, args) },
	}
	cmd.Flags().IntVar(&fl.simulate, "simulate", 0, "Download this many dives from an emulated device instead")
	cmd.Flags().StringVarP(&fl.out, "out", "o", "", "Dump file (default <unix time>.<n>.dump)")
	cmd.Flags().StringVar(&fl.record, "record", "", "Record every byte on the link to this file")
	cmd.Flags().StringVar(&fl.since, "since", "", "Only print dives from this date (2006-01-02) on")
	cmd.Flags().BoolVar(&fl.samples, "samples", false, "Print every sample")

	return cmd
}

func (a *app) download(fl downloadFlags, args []string) error {
	since, err := parseSince(fl.since)
	if err != nil {
		return err
	}

	opts := append(a.cfg.Options(),
		protocol.WithLogger(a.log),
		protocol.WithRegistry(a.reg),
		protocol.WithProgress(func(p protocol.Progress) {
			a.log.Debug("progress", "state", p.State, "bytes", p.Bytes, "packets", p.Packets, "total", p.Total)
		}),
	)

	jobs := make([]dive.Job, 0, len(args))
	for _, arg := range args {
		id, addr, _ := strings.Cut(arg, "@")
		desc, err := a.reg.Lookup(id)
		if err != nil {
			return err
		}
		job := dive.Job{Descriptor: desc, Addr: addr}

		if fl.simulate > 0 {
			first := time.Now().AddDate(0, 0, -fl.simulate).Truncate(24 * time.Hour)
			emu, err := dive.Simulate(desc, uint32(len(jobs)+1), simlink.Synthetic(fl.simulate, first, desc.Units.TempUnit)...)
			if err != nil {
				return err
			}
			job.Addr = "sim"
			job.Options = []protocol.Option{protocol.WithOpener(emu)}
		} else if addr == "" {
			return fmt.Errorf("%s: no address", arg)
		}
		jobs = append(jobs, job)
	}

	// Each session gets its own recording; they run in parallel.
	if fl.record != "" {
		for i := range jobs {
			name := numbered(fl.record, i, len(jobs))
			f, err := os.Create(name)
			if err != nil {
				return fmt.Errorf("creating recording: %w", err)
			}
			defer f.Close()

			rec := &dive.Recorder{Dest: f}
			jobs[i].Options = append(jobs[i].Options, protocol.WithWrap(rec.Tap))
			defer func() {
				if err := rec.Err(); err != nil {
					a.log.Error("recording incomplete", "file", name, "err", err)
				}
			}()
		}
	}

	outcomes, err := dive.DownloadAll(listenStop(), jobs, a.cfg.Session.Parallel, opts...)
	for i, o := range outcomes {
		if o.Err != nil {
			continue
		}
		res := o.Result
		a.log.Info("downloaded", "device", o.Job.Descriptor.ID(), "conn", res.Conn,
			"serial", res.Identity.Serial, "firmware", res.Identity.Firmware, "bytes", len(res.Dump.Data))

		name := numbered(fl.out, i, len(outcomes))
		if fl.out == "" {
			name = outFilename(fmt.Sprintf("%d.dump", i))
		}
		if werr := writeDump(name, res.Dump); werr != nil {
			err = errors.Join(err, werr)
			continue
		}

		fmt.Printf("%s serial %d -> %s\n", o.Job.Descriptor, res.Identity.Serial, name)
		if perr := printDives(os.Stdout, dive.Since(dive.Parse(o.Job.Descriptor, res.Dump.Data), since), fl.samples); perr != nil {
			err = errors.Join(err, perr)
		}
	}
	return err
}

// numbered suffixes name with the job index when there is more than one
// job.
func numbered(name string, i, n int) string {
	if n > 1 {
		return fmt.Sprintf("%s.%d", name, i)
	}
	return name
}

func writeDump(name string, d io.WriterTo) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("creating dump: %w", err)
	}
	if _, err := d.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing dump: %w", err)
	}
	return f.Close()
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since: %w", err)
	}
	return t, nil
}
