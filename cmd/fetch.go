package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/packdl/internal/output"
	"github.com/tanq16/packdl/internal/scheduler"
)

func newFetchCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "fetch URL... [--output DIR|FILE]",
		Short: "Download one or more files over HTTP/HTTPS or from s3://",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			items := fetchItems(args, outputPath)
			output.PrintInfo(fmt.Sprintf("Fetching %d file(s)", len(items)))
			report := newScheduler().FetchItems(ctx, nil, items)
			return finish(report)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output directory, or file path for a single URL")
	return cmd
}

// fetchItems treats a single URL with an output path that is not a directory
// and has an extension as an explicit file name.
func fetchItems(uris []string, outputPath string) []scheduler.Item {
	dir := outputPath
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(outputPath)
	isDir := err == nil && info.IsDir()
	if len(uris) == 1 && outputPath != "" && !isDir && !strings.HasSuffix(outputPath, string(os.PathSeparator)) && filepath.Ext(outputPath) != "" {
		return []scheduler.Item{{URI: uris[0], Dir: filepath.Dir(outputPath), Name: filepath.Base(outputPath)}}
	}
	if err == nil && !isDir {
		dir = filepath.Dir(outputPath)
	}
	items := make([]scheduler.Item, 0, len(uris))
	for _, uri := range uris {
		items = append(items, scheduler.Item{URI: uri, Dir: dir})
	}
	return items
}

// finish prints the batch summary and returns an error when any URI failed.
func finish(report scheduler.Report) error {
	uris := make([]string, 0, len(report.Outcomes))
	for uri := range report.Outcomes {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	entries := make([]output.SummaryEntry, 0, len(uris))
	for _, uri := range uris {
		o := report.Outcomes[uri]
		name := uri
		if o.Path != "" {
			name = o.Path
		}
		entries = append(entries, output.SummaryEntry{
			Name: name,
			Detail: fmt.Sprintf("%s %s %s %s",
				output.FormatBytes(o.Result.Probe.TotalSize),
				output.StyleSymbols["dot"],
				o.Result.Strategy,
				o.Result.Elapsed.Round(time.Millisecond)),
			Err: o.Err,
		})
	}
	output.ShowSummary(os.Stdout, entries)
	if failed := len(report.Failed()); failed > 0 {
		return fmt.Errorf("%d of %d download(s) failed", failed, len(entries))
	}
	return nil
}
