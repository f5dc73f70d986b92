package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"fencedemux/internal/config"
	"fencedemux/internal/render"
	"fencedemux/internal/transcript"
	"fencedemux/pkg/demux"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var (
	splitLanguages  []string
	outDir          string
	writeHTML       bool
	transcriptFile  string
	strictFrames    bool
	reopenPolicy    string
	refCountedClose bool
)

var splitCmd = &cobra.Command{
	Use:   "split [file|-]",
	Short: "Split an event stream file into per-language files",
	Long: `Read an event stream from a file or stdin and write:

  main.md       everything the stream delivered
  <lang>.txt    the lines inside fences of each requested language
  main.html     main.md rendered as HTML (with --html)`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("lang") {
			cfg.Languages = splitLanguages
		}
		if flags.Changed("strict") {
			cfg.Strict = strictFrames
		}
		if flags.Changed("reopen") {
			cfg.Reopen = reopenPolicy
		}
		if flags.Changed("ref-counted-cancel") {
			cfg.RefCountedCancel = refCountedClose
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		in, err := openInput(args)
		if err != nil {
			return err
		}
		defer func() {
			if err := in.Close(); err != nil {
				slog.Debug("Failed to close input", "error", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return split(ctx, in, cfg, splitTarget{
			dir:        outDir,
			html:       writeHTML,
			transcript: transcriptFile,
		})
	},
}

func init() {
	splitCmd.Flags().StringSliceVarP(&splitLanguages, "lang", "l", nil, "Languages to extract (repeatable or comma separated)")
	splitCmd.Flags().StringVarP(&outDir, "out-dir", "o", "out", "Directory for the output files")
	splitCmd.Flags().BoolVar(&writeHTML, "html", false, "Also write main.html")
	splitCmd.Flags().StringVar(&transcriptFile, "transcript", "", "Write a timestamped transcript of every delivery to this file")
	splitCmd.Flags().BoolVar(&strictFrames, "strict", false, "Fail on undecodable frames instead of skipping them")
	splitCmd.Flags().StringVar(&reopenPolicy, "reopen", "continue", "What to do with a second fence of a language: continue or ignore")
	splitCmd.Flags().BoolVar(&refCountedClose, "ref-counted-cancel", false, "Cancel the source only after every stream was cancelled")
}

// openInput returns stdin for no argument or "-", the named file otherwise.
func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, errors.New("refusing to read an event stream from a terminal: pass a file or pipe the stream in")
		}
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

type splitTarget struct {
	dir        string
	html       bool
	transcript string
}

func (t splitTarget) path(stream string) string {
	if stream == demux.MainStreamName {
		return filepath.Join(t.dir, "main.md")
	}
	return filepath.Join(t.dir, stream+".txt")
}

// checkFileNames rejects languages that cannot be used as a file name inside
// the output directory.
func checkFileNames(languages []string) error {
	for _, lang := range languages {
		if strings.ContainsAny(lang, `/\`) || strings.Contains(lang, "..") {
			return fmt.Errorf("language %q cannot be used as an output file name", lang)
		}
	}
	return nil
}

// split demultiplexes in and writes one file per stream. Files are written as
// the streams deliver, so a failed source leaves the text received so far.
func split(ctx context.Context, in io.Reader, cfg config.Config, target splitTarget) (err error) {
	opts, err := cfg.DemuxOptions(slog.Default())
	if err != nil {
		return err
	}
	if err := checkFileNames(cfg.Languages); err != nil {
		return err
	}
	if err := os.MkdirAll(target.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var rec *transcript.Writer
	if target.transcript != "" {
		f, cerr := os.Create(target.transcript)
		if cerr != nil {
			return fmt.Errorf("failed to create transcript: %w", cerr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		rec = transcript.NewWriter(f)
		defer func() {
			if cerr := rec.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	res, err := demux.Demux(ctx, demux.NewReaderSource(in), cfg.Languages, opts...)
	if err != nil {
		return err
	}

	streams := []*demux.Stream{res.Main}
	for _, st := range res.Named {
		streams = append(streams, st)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range streams {
		g.Go(func() error {
			return writeStream(gctx, st, target.path(st.Name()), rec)
		})
	}
	writeErr := g.Wait()

	if err := res.Wait(); err != nil {
		return fmt.Errorf("demux failed: %w", err)
	}
	if writeErr != nil {
		return writeErr
	}

	if target.html {
		md, err := os.ReadFile(target.path(demux.MainStreamName))
		if err != nil {
			return fmt.Errorf("failed to read main stream: %w", err)
		}
		page := render.Page("fencedemux", string(md))
		if err := os.WriteFile(filepath.Join(target.dir, "main.html"), []byte(page), 0o644); err != nil {
			return fmt.Errorf("failed to write HTML: %w", err)
		}
	}

	slog.Info("Split finished", "dir", target.dir, "streams", len(streams))
	return nil
}

// writeStream copies st into the file at path. st is cancelled when writing
// stops early, so the source is not read for a consumer that is gone.
func writeStream(ctx context.Context, st *demux.Stream, path string, rec *transcript.Writer) error {
	defer st.Cancel()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Failed to close output", "path", path, "error", err)
		}
	}()

	for {
		text, err := st.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// The source error is reported once through Result.Wait.
			return nil
		}
		if rec != nil {
			rec.Record(st.Name(), text)
		}
		if _, err := io.WriteString(f, text); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
}
