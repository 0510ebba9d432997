package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.tigermatt.uk/dive"
)

func dump(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	defer f.Close()

	msgs := make(chan dive.Message, 100)

	var g errgroup.Group
	g.Go(func() error { return processMsgs(os.Stdout, msgs) })
	g.Go(func() error { return dive.ReadIn(msgs, f) })

	return g.Wait()
}

// processMsgs prints a recording, joining consecutive reads in the same
// direction that arrive less than 5ms apart.
func processMsgs(w io.Writer, msgs <-chan dive.Message) error {
	var lastMsg, lastRead time.Time
	var dir dive.Direction
	var thisMsg bytes.Buffer

	flush := func() {
		if thisMsg.Len() > 0 {
			fmt.Fprintf(w, "%s %s % 02X\n", lastMsg.Format("15:04:05.000"), dir, thisMsg.Bytes())
		}
		thisMsg.Reset()
	}

	for msg := range msgs {
		if msg.Dir != dir || msg.Timestamp.Sub(lastRead) > 5*time.Millisecond {
			flush()
			lastMsg = msg.Timestamp
			dir = msg.Dir
		}
		lastRead = msg.Timestamp

		if _, err := thisMsg.Write(msg.Data); err != nil {
			return err
		}
	}
	flush()

	return nil
}
