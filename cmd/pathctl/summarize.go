package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/pathdesk/internal/fitzslide"
	"github.com/local/pathdesk/internal/imagerender"
	"github.com/local/pathdesk/internal/slide"
	"github.com/local/pathdesk/internal/summarizer"
	"github.com/local/pathdesk/internal/tiffslide"
)

// errSummaryFailed makes the process exit non-zero after the failed summary
// has already been printed.
var errSummaryFailed = errors.New("summary failed")

func openerFor(backend string, dpi float64) (slide.Opener, error) {
	switch strings.ToLower(backend) {
	case "", "tiff":
		return tiffslide.New(), nil
	case "fitz", "mupdf":
		return fitzslide.New(dpi), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want tiff or fitz)", backend)
}

func newSummarizeCmd() *cobra.Command {
	var (
		budget     int64
		side       int
		previewOut string
		quality    int
		asJSON     bool
		backend    string
		dpi        float64
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "summarize <slide>",
		Short: "Summarize a whole-slide image and optionally write its preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if budget <= 0 {
				return fmt.Errorf("--pixel-budget must be positive, got %d", budget)
			}
			if side <= 0 {
				return fmt.Errorf("--preview-max-side must be positive, got %d", side)
			}
			opener, err := openerFor(backend, dpi)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			sum := summarizer.New(opener).Summarize(ctx, args[0], summarizer.Options{PixelBudget: budget, PreviewMaxSide: side})

			if previewOut != "" && sum.HasPreview() {
				b, err := sum.EncodePreviewJPEG(quality)
				if err != nil {
					return fmt.Errorf("encode preview: %w", err)
				}
				if err := os.WriteFile(previewOut, b, 0o644); err != nil {
					return fmt.Errorf("write preview: %w", err)
				}
				pw, ph, err := imagerender.GetImageDimensions(b)
				if err != nil {
					return fmt.Errorf("check preview: %w", err)
				}
				log.Info().Str("file", previewOut).Int("bytes", len(b)).Int("width", pw).Int("height", ph).Msg("preview written")
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(sum); err != nil {
					return err
				}
			} else if err := printSummary(out, sum, previewOut); err != nil {
				return err
			}
			if !sum.Success {
				return errSummaryFailed
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&budget, "pixel-budget", summarizer.DefaultPixelBudget, "largest level area (pixels) to read for the preview")
	cmd.Flags().IntVar(&side, "preview-max-side", summarizer.DefaultPreviewMaxSide, "preview bound on the longer side")
	cmd.Flags().StringVar(&previewOut, "preview-out", "", "write the preview JPEG to this file")
	cmd.Flags().IntVar(&quality, "quality", 90, "preview JPEG quality")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	cmd.Flags().StringVar(&backend, "backend", "tiff", "slide backend (tiff|fitz)")
	cmd.Flags().Float64Var(&dpi, "dpi", fitzslide.DefaultDPI, "render DPI for the fitz backend")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "summary deadline (0 disables)")
	return cmd
}

func printSummary(w io.Writer, sum summarizer.Summary, previewOut string) error {
	if !sum.Success {
		fmt.Fprintf(w, "Error processing %s: %s (%s)\n", sum.Filename, sum.Error, sum.ErrorKind)
		return nil
	}
	fmt.Fprintf(w, "File:        %s\n", sum.Filename)
	fmt.Fprintf(w, "Size:        %.2f MB\n", sum.FileSizeMB())
	if sum.Format != "" {
		fmt.Fprintf(w, "Format:      %s\n", sum.Format)
	}
	fmt.Fprintf(w, "Levels:      %d\n", sum.LevelCount)
	ds := make([]string, 0, sum.LevelCount)
	for _, d := range sum.Downsamples() {
		ds = append(ds, strconv.FormatFloat(d, 'g', 4, 64))
	}
	fmt.Fprintf(w, "Downsamples: %s\n", strings.Join(ds, ", "))
	fmt.Fprintf(w, "Chosen:      level %d (budget %d px)\n", sum.ChosenLevel, sum.PixelBudget)
	fmt.Fprintf(w, "Time:        %.2fs\n\n", sum.ProcessingTimeSeconds)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tWIDTH\tHEIGHT\tDOWNSAMPLE\tPIXELS")
	for _, l := range sum.Levels {
		marker := ""
		if l.Index == sum.ChosenLevel {
			marker = " *"
		}
		fmt.Fprintf(tw, "%d%s\t%d\t%d\t%.2f\t%d\n", l.Index, marker, l.Width, l.Height, l.Downsample, l.Pixels())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(sum.Properties) > 0 {
		fmt.Fprintln(w, "\nProperties:")
		keys := make([]string, 0, len(sum.Properties))
		for k := range sum.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %s\n", k, sum.Properties[k])
		}
	}

	switch {
	case sum.HasPreview() && previewOut != "":
		fmt.Fprintf(w, "\nPreview:     %dx%d written to %s\n", sum.PreviewWidth, sum.PreviewHeight, previewOut)
	case sum.HasPreview():
		fmt.Fprintf(w, "\nPreview:     %dx%d\n", sum.PreviewWidth, sum.PreviewHeight)
	default:
		fmt.Fprintf(w, "\nPreview:     failed: %s\n", sum.PreviewError)
	}
	return nil
}
