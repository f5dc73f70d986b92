package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fencedemux/internal/config"
	"fencedemux/internal/server"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fencedemux",
	Short: "fencedemux - Split streamed LLM text into code fence streams",
	Long: `fencedemux reads a server-sent event stream of text chunks and splits it into
the full text plus one stream per requested code fence language.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		level, err := cfg.SlogLevel()
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

var (
	serveLanguages []string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the demultiplexer over HTTP and WebSocket",
	Long: `Start an HTTP server.

POST /demux takes an event stream as request body and answers with one event per
chunk, named after the stream it belongs to.

GET /ws upgrades to a WebSocket. Every text message is a raw fragment of the
event stream; an empty message or a close frame ends the input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("lang") {
			cfg.Languages = serveLanguages
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = serveAddr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return server.New(cfg, slog.Default()).Start(ctx, cfg.Addr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	serveCmd.Flags().StringSliceVarP(&serveLanguages, "lang", "l", nil, "Default languages to extract (repeatable or comma separated)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:22124", "Address to listen on")

	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
