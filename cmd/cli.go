// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"asiohost/internal/config"
	"asiohost/internal/engine"
	applog "asiohost/internal/log"
	"asiohost/internal/registry"
	"asiohost/internal/transport"
	"asiohost/internal/transport/udp"
	"asiohost/internal/tui"
	"asiohost/pkg/build"

	"github.com/spf13/cobra"
)

// options collects the persistent and per-command flags.
type options struct {
	configPath   string
	registryPath string
	driver       string
	logLevel     string
	verbose      bool

	tui bool

	sampleRate float64
	bufferSize int
	record     bool
	outputDir  string
	gate       float64
}

// Seams for tests.
var (
	startTUI      = tui.StartDriverListUI
	signalContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	}
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "",
		"Configuration file. Defaults to ./config.yaml when present")
	pf.StringVar(&opts.registryPath, "registry", "",
		"Driver registry document (YAML, TOML or JSON)")
	pf.StringVarP(&opts.driver, "driver", "d", "",
		"Driver name or clsid. Use 'list' to see installed drivers")
	pf.StringVar(&opts.logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Shorthand for --log-level=debug")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed drivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, reg, err := load(cmd, opts)
			if err != nil {
				return err
			}
			if opts.tui {
				return startTUI(reg)
			}
			return writeEntries(cmd, reg.Entries())
		},
	}
	listCmd.Flags().BoolVar(&opts.tui, "tui", false, "Browse and probe drivers interactively")
	rootCmd.AddCommand(listCmd)

	// Probe command
	probeCmd := &cobra.Command{
		Use:   "probe [driver]",
		Short: "Initialize a driver and print what it reports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, reg, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ref := cfg.Driver.Name
			if len(args) == 1 {
				ref = args[0]
			}
			r, err := engine.Probe(reg, ref)
			if err != nil {
				return err
			}
			return r.Write(cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(probeCmd)

	// Run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream with a driver until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, reg, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return run(ctx, cmd, cfg, reg, opts)
		},
	}
	rf := runCmd.Flags()
	rf.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate in Hz, 0 keeps the driver's rate")
	rf.IntVarP(&opts.bufferSize, "buffer-size", "b", config.DefaultBufferSize,
		"Frames per buffer half, 0 uses the driver's preferred size")
	rf.BoolVarP(&opts.record, "record", "r", false,
		"Record the inputs to WAV")
	rf.StringVarP(&opts.outputDir, "output", "o", "",
		"Directory for recordings")
	rf.Float64Var(&opts.gate, "gate", 0,
		"Noise gate threshold in 0..1, 0 disables the gate")
	rootCmd.AddCommand(runCmd)

	return rootCmd
}

// Execute runs the CLI with the process arguments.
func Execute() error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(os.Args[1:])
	return rootCmd.ExecuteContext(context.Background())
}

// load reads the configuration, applies the flags the user set and opens
// the driver registry.
func load(cmd *cobra.Command, opts *options) (*config.Config, *registry.Registry, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Driver.Name = opts.driver
	}
	if flags.Changed("registry") {
		cfg.Driver.Registry = opts.registryPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if opts.verbose {
		cfg.Debug = true
	}
	if flags.Changed("sample-rate") {
		cfg.Audio.SampleRate = opts.sampleRate
	}
	if flags.Changed("buffer-size") {
		cfg.Audio.BufferSize = opts.bufferSize
	}
	if opts.record {
		cfg.Recording.Enabled = true
	}
	if flags.Changed("output") {
		cfg.Recording.OutputDir = opts.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := applog.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)

	reg, err := registry.Load(cfg.Driver.Registry, nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, reg, nil
}

func writeEntries(cmd *cobra.Command, entries []registry.Entry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCLSID\tBACKEND")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.ID, e.Backend)
	}
	return w.Flush()
}

// run streams until ctx is done. Events go to the log and, when
// configured, to WebSocket clients; meter packets go out over UDP.
func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, reg *registry.Registry, opts *options) (err error) {
	log := applog.For("run")

	sinks := transport.Multi{transport.NewLoggingTransport()}
	if addr := cfg.Transport.WebSocketAddr; addr != "" {
		ws, err := transport.NewWebSocketTransport(addr)
		if err != nil {
			return err
		}
		log.Infof("WebSocket clients on ws://%s/ws", ws.Addr())
		sinks = append(sinks, ws)
	}
	defer func() {
		err = errors.Join(err, sinks.Close())
	}()

	eng := engine.New(cfg, reg, sinks)
	if opts.gate > 0 {
		eng.SetGateThreshold(opts.gate)
		eng.EnableGate()
	}
	if err := eng.Start(); err != nil {
		return errors.Join(err, eng.Close())
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return errors.Join(err, eng.Close())
		}
		pub, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, eng)
		if err != nil {
			return errors.Join(err, sender.Close(), eng.Close())
		}
		pub.Start()
		defer func() {
			err = errors.Join(err, pub.Close(), sender.Close())
		}()
	}

	s, _ := eng.Session()
	fmt.Fprintf(cmd.OutOrStdout(), "Streaming %s at %.0f Hz, %d frames. Ctrl+C to stop.\n",
		s.Entry.Name, float64(s.SampleRate), s.BufferSize)
	if r := eng.Recording(); r != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Recording to %s\n", r.Path())
	}

	// Run returns once ctx is done, after closing the engine.
	err = eng.Run(ctx)

	st := eng.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d switches, %d overloads, %d resets, %d stalls\n",
		st.Switches, st.Overloads, st.Resets, st.Stalls)
	return err
}
