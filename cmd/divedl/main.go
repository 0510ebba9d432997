// Command divedl downloads dive logs from dive computers.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"go.tigermatt.uk/dive/internal/config"
	"go.tigermatt.uk/dive/internal/tracer"
	"go.tigermatt.uk/dive/registry"
)

type app struct {
	configPath string
	logLevel   string
	logFormat  string
	trace      string
	devices    string

	cfg      *config.Config
	reg      *registry.Registry
	log      *slog.Logger
	shutdown func(context.Context) error
}

func main() {
	a := &app{configPath: "divedl.yaml"}

	cmd := &cobra.Command{
		Use:                "divedl",
		Args:               cobra.ExactArgs(0),
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", a.configPath, "Configuration file")
	f.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")
	f.StringVar(&a.trace, "trace", "", "Trace exporter (noop, stdout)")
	f.StringVar(&a.devices, "devices", "", "YAML device table to add to the built-in one")

	cmd.AddCommand(
		a.listCommand(),
		a.portsCommand(),
		a.downloadCommand(),
		a.parseCommand(),
		a.replayCommand(),
		a.sniffCommand(),
		&cobra.Command{
			Use:   "dump FILE",
			Short: "Print a recorded session",
			Args:  cobra.ExactArgs(1),
			RunE:  dump,
		},
	)

	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath, !cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	set(&cfg.Log.Level, a.logLevel)
	set(&cfg.Log.Format, a.logFormat)
	set(&cfg.Trace.Exporter, a.trace)
	set(&cfg.Devices, a.devices)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	config.Normalize(cfg)
	a.cfg = cfg

	opts := &slog.HandlerOptions{Level: cfg.Level()}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	a.log = slog.New(h)

	if a.reg, err = cfg.Registry(); err != nil {
		return err
	}

	a.shutdown, err = tracer.Setup(cfg.Trace.Exporter, os.Stderr)
	return err
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		return fmt.Errorf("flushing traces: %w", err)
	}
	return nil
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func listenStop() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx
}

func outFilename(ext string) string {
	return fmt.Sprintf("%d.%s", time.Now().UTC().Unix(), ext)
}
