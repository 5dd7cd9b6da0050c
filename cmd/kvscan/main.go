package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mzyy94/kvscan/internal/config"
	"github.com/mzyy94/kvscan/internal/console"
	"github.com/mzyy94/kvscan/internal/output"
	"github.com/mzyy94/kvscan/internal/session"
	"github.com/mzyy94/kvscan/internal/transport"
)

func main() {
	logLevel := parseLogLevel(envStr("KVSCAN_LOG_LEVEL", "info"))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openStore() *config.Store {
	dir, err := os.UserConfigDir()
	if err != nil {
		return config.NewMemoryStore()
	}
	store, err := config.NewStore(filepath.Join(dir, "kvscan"))
	if err != nil {
		slog.Warn("settings unavailable, using defaults", "err", err)
		return config.NewMemoryStore()
	}
	return store
}

// openTransport picks the channel from the device argument: an sg
// device path uses the SCSI generic driver, anything else is treated
// as a USB bus:address hint (empty matches any attached scanner).
func openTransport(ctx context.Context, device string) (transport.Transport, error) {
	if strings.HasPrefix(device, "/dev/") {
		return transport.OpenSG(ctx, device, slog.Default())
	}
	return transport.OpenUSB(ctx, device, slog.Default())
}

func newRootCmd() *cobra.Command {
	store := openStore()
	defaults := store.Get()
	settings := defaults
	var (
		pages    int
		toStdout bool
		pdfPath  string
		save     bool
	)

	root := &cobra.Command{
		Use:   "kvscan [flags] filebase",
		Short: "Scan documents from Panasonic KV-series sheetfed scanners",
		Long: "kvscan drives Panasonic KV-series document scanners over USB or the\n" +
			"SCSI generic driver and writes one image file per page side, or a\n" +
			"combined PDF.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !toStdout && pdfPath == "" {
				return cmd.Usage()
			}
			if save {
				if err := store.Update(settings); err != nil {
					slog.Warn("saving defaults failed", "err", err)
				}
			}

			var sink output.Sink
			switch {
			case toStdout:
				sink = output.NewStreamSink(os.Stdout)
			case pdfPath != "":
				sink = output.NewPDFSink(pdfPath, settings.Resolution)
			default:
				sink = output.NewFileSink(args[0], "")
			}

			ctx := cmd.Context()
			tr, err := openTransport(ctx, settings.Device)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctl := session.New(tr, slog.Default())
			err = ctl.Run(ctx, session.Options{
				Window: settings.Window(),
				Duplex: settings.Duplex,
				Pages:  pages,
			}, func(p session.Page) error {
				slog.Info("page retrieved", "page", p.Number, "side", p.Side.Letter(),
					"size", fmt.Sprintf("%dx%d", p.Width, p.Height), "bytes", len(p.Data))
				return sink.Write(p)
			})
			if err != nil {
				sink.Close()
				return err
			}
			return sink.Close()
		},
	}

	f := root.Flags()
	f.StringVarP(&settings.Device, "device", "d", defaults.Device,
		"scanner to use: USB bus:address, or a /dev/sg* path")
	f.IntVarP(&pages, "pages", "n", 0, "number of pages to scan (0 = until feeder empty)")
	f.IntVarP(&settings.Resolution, "resolution", "r", defaults.Resolution, "scan resolution in dpi")
	f.IntVarP(&settings.Quality, "quality", "q", defaults.Quality, "JPEG quality (1-100)")
	f.Float64VarP(&settings.WidthInch, "width", "w", defaults.WidthInch, "page width in inches")
	f.Float64VarP(&settings.HeightInch, "height", "H", defaults.HeightInch, "page height in inches")
	f.StringVarP(&settings.Compression, "compression", "c", defaults.Compression, `compression: "jpeg" or "none"`)
	f.BoolVar(&settings.Duplex, "duplex", defaults.Duplex, "scan both sides of each page")
	f.BoolVarP(&settings.Flatbed, "flatbed", "f", defaults.Flatbed, "scan from the flatbed instead of the feeder")
	f.BoolVarP(&toStdout, "stdout", "s", false, "write image data to stdout")
	f.StringVar(&pdfPath, "pdf", "", "assemble pages into a single PDF at this path")
	f.BoolVar(&save, "save", false, "persist the scan flags as future defaults")

	root.AddCommand(newListCmd(), newConsoleCmd(), newResetCmd())
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List attached scanners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := transport.ListUSB()
			if err != nil {
				return err
			}
			if len(devs) == 0 {
				fmt.Println("No devices found")
				return nil
			}
			for _, d := range devs {
				fmt.Println(d)
			}
			return nil
		},
	}
}

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive debugging console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return console.New(slog.Default()).Run(cmd.Context())
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [bus:address]",
		Short: "USB port reset for a wedged scanner",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hint := ""
			if len(args) > 0 {
				hint = args[0]
			}
			return transport.ResetUSB(hint)
		},
	}
}
