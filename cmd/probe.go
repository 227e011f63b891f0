package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	packdlhttp "github.com/tanq16/packdl/internal/downloaders/http"
	"github.com/tanq16/packdl/internal/downloaders/s3"
	"github.com/tanq16/packdl/internal/output"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe URL...",
		Short: "Show size, range support and the transfer strategy for URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			dl := newDownloader()
			resolve := s3.Resolver(cfg.S3Profile)
			var failed int
			for _, uri := range args {
				output.PrintHeader(uri)
				target, err := resolve(ctx, uri)
				if err == nil {
					var probe packdlhttp.ProbeResult
					if probe, err = dl.Probe(ctx, target); err == nil {
						printProbe(probe, dl.Options().ChunkThreshold)
						continue
					}
				}
				failed++
				fmt.Printf("  %s %s\n", output.FError(output.StyleSymbols["fail"]), output.FError(err.Error()))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d probe(s) failed", failed, len(args))
			}
			return nil
		},
	}
}

func printProbe(probe packdlhttp.ProbeResult, threshold int64) {
	size := output.FormatBytes(probe.TotalSize)
	if probe.TotalSize < 0 {
		size = output.FPending("unknown")
	}
	ranges := output.FError("no")
	if probe.RangeSupported {
		ranges = output.FSuccess("yes")
	}
	fmt.Printf("  %s size     %s\n", output.StyleSymbols["bullet"], size)
	fmt.Printf("  %s ranges   %s\n", output.StyleSymbols["bullet"], ranges)
	fmt.Printf("  %s strategy %s\n", output.StyleSymbols["bullet"], output.FDebug(packdlhttp.ChooseStrategy(probe, threshold).String()))
	if probe.FileName != "" {
		fmt.Printf("  %s name     %s\n", output.StyleSymbols["bullet"], output.FDetail(probe.FileName))
	}
}
