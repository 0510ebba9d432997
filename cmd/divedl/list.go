package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go.tigermatt.uk/dive"
	"go.tigermatt.uk/dive/transport"
)

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supported devices",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDEVICE\tTRANSPORT\tPROTOCOL\tMODEL")
			for _, d := range dive.EnumerateDescriptors(a.reg) {
				fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t% X\n", d.ID(), d.Vendor, d.Product, d.Transport.Kind, d.Protocol, d.ModelID)
			}
			return w.Flush()
		},
	}
}

func (a *app) portsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and the devices that may be behind them",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			ports, err := transport.Ports()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tUSB\tPRODUCT\tDEVICES")
			for _, p := range ports {
				usb := "-"
				if p.USB {
					usb = fmt.Sprintf("%04x:%04x", p.VendorID, p.ProductID)
				}
				var ids []string
				for _, d := range dive.EnumerateDescriptors(a.reg) {
					if p.USB && d.Transport.VendorID == p.VendorID && d.Transport.ProductID == p.ProductID {
						ids = append(ids, d.ID())
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", p.Name, usb, p.Product, ids)
			}
			return w.Flush()
		},
	}
}
