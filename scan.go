package main

import (
	"CardDetServer/config"
	"CardDetServer/engine"
	"CardDetServer/logger"
	"CardDetServer/tracker"
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type scanOptions struct {
	OutDir string
	Every  int
}

// scanResult is one identity confirmed during a scan.
type scanResult struct {
	Fingerprint string
	FirstFrame  int
	Confidence  float64
	// still confirmed after the last frame
	Confirmed bool
}

func newScanCommand(load configLoader) *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan <video>",
		Short: "Run the detection pipeline over a video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.LogMode, cfg.LogLevel); err != nil {
				return err
			}
			defer logger.Sync()

			results, frames, err := scanVideo(cmd.Context(), args[0], cfg, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d frames, %d cards confirmed\n", frames, len(results))
			if len(results) > 0 {
				fmt.Fprintln(out, renderCards(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "Write each newly confirmed card as <fingerprint>.jpg into this directory")
	cmd.Flags().IntVar(&opts.Every, "every", 1, "Process every n-th frame")
	return cmd
}

// scanVideo feeds the frames of a video file through one Detector and one
// Tracker and returns the confirmed identities.
func scanVideo(ctx context.Context, path string, cfg config.Config, opts scanOptions) ([]scanResult, int, error) {
	if opts.Every < 1 {
		return nil, 0, fmt.Errorf("--every must be at least 1, got %d", opts.Every)
	}
	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			return nil, 0, fmt.Errorf("create output directory: %w", err)
		}
	}
	d, err := engine.NewDetector(cfg.Detector)
	if err != nil {
		return nil, 0, err
	}
	tr := tracker.New(cfg.Tracker)

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open video %s: %w", path, err)
	}
	defer vc.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	first := make(map[string]int)
	idx := 0
	for ; ctx.Err() == nil; idx++ {
		if ok := vc.Read(&frame); !ok || frame.Empty() {
			break
		}
		if idx%opts.Every != 0 {
			continue
		}
		res := d.Process(frame, tr)
		for _, c := range res.Cards {
			if _, seen := first[c.Fingerprint]; !seen {
				first[c.Fingerprint] = idx
			}
			if opts.OutDir != "" && !c.Image.Empty() {
				name := filepath.Join(opts.OutDir, c.Fingerprint+".jpg")
				if !gocv.IMWrite(name, c.Image) {
					logger.Log().Warn("write card image failed", zap.String("path", name))
				}
			}
		}
		res.Close()
	}
	if err := ctx.Err(); err != nil {
		return nil, idx, err
	}
	return summarize(first, tr), idx, nil
}

func summarize(first map[string]int, tr *tracker.Tracker) []scanResult {
	results := make([]scanResult, 0, len(first))
	for fp, idx := range first {
		r := scanResult{Fingerprint: fp, FirstFrame: idx, Confirmed: tr.IsConfirmed(fp)}
		if entry, ok := tr.Lookup(fp); ok {
			r.Confidence = entry.Confidence
		}
		results = append(results, r)
	}
	slices.SortFunc(results, func(a, b scanResult) int {
		if c := cmp.Compare(a.FirstFrame, b.FirstFrame); c != 0 {
			return c
		}
		return cmp.Compare(a.Fingerprint, b.Fingerprint)
	})
	return results
}
