package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.tigermatt.uk/dive"
	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/protocol"
	"go.tigermatt.uk/dive/rawdump"
)

func (a *app) parseCommand() *cobra.Command {
	var since string
	var samples bool
	cmd := &cobra.Command{
		Use:   "parse FILE...",
		Short: "Decode saved dump files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			t, err := parseSince(since)
			if err != nil {
				return err
			}

			dives := make(chan *parser.Dive, 16)

			var g errgroup.Group
			g.Go(func() error {
				defer close(dives)
				for _, name := range args {
					if err := a.readDump(name, func(d *parser.Dive) { dives <- d }); err != nil {
						return err
					}
				}
				return nil
			})
			g.Go(func() error {
				for d := range dives {
					if !d.Start.Before(t) {
						printDive(os.Stdout, d, samples)
					}
				}
				return nil
			})

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only print dives from this date (2006-01-02) on")
	cmd.Flags().BoolVar(&samples, "samples", false, "Print every sample")

	return cmd
}

func (a *app) readDump(name string, fn func(*parser.Dive)) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	defer f.Close()

	dump, err := rawdump.Read(f)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	a.log.Info("dump", "file", name, "device", dump.Descriptor, "id", dump.ID, "created", dump.Created, "bytes", len(dump.Data))

	for d, err := range dive.ParseDump(a.reg, dump) {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fn(d)
	}
	return nil
}

func (a *app) replayCommand() *cobra.Command {
	var samples bool
	cmd := &cobra.Command{
		Use:   "replay DEVICE FILE",
		Short: "Run a download against a recorded session",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			desc, err := a.reg.Lookup(args[0])
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			defer f.Close()

			rp, err := dive.NewReplayer(f)
			if err != nil {
				return err
			}
			a.log.Info("replaying", "device", desc.ID(), "messages", len(rp.Messages()))

			opts := append(a.cfg.Options(), protocol.WithLogger(a.log), protocol.WithOpener(rp))
			res, err := dive.Download(listenStop(), desc, args[1], opts...)
			if err != nil {
				return err
			}
			if !rp.Done() {
				a.log.Warn("session ended before the recording")
			}

			return printDives(os.Stdout, dive.Parse(desc, res.Dump.Data), samples)
		},
	}
	cmd.Flags().BoolVar(&samples, "samples", false, "Print every sample")

	return cmd
}
