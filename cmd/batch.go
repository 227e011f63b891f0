package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tanq16/packdl/internal/output"
	"github.com/tanq16/packdl/internal/scheduler"
	"gopkg.in/yaml.v3"
)

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
}

// BatchFile maps a sub-directory of the output directory to its links.
type BatchFile map[string][]BatchEntry

func newBatchCmd() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [--output DIR]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading YAML file: %w", err)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				return fmt.Errorf("error parsing YAML file: %w", err)
			}
			items := buildItemsFromBatch(batchFile, outputDir)
			if len(items) == 0 {
				return fmt.Errorf("no valid entries found in the batch file")
			}
			ctx, stop := signalContext()
			defer stop()
			output.PrintInfo(fmt.Sprintf("Fetching %d file(s) from %s", len(items), args[0]))
			return finish(newScheduler().FetchItems(ctx, nil, items))
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Base output directory")
	return cmd
}

func buildItemsFromBatch(batchFile BatchFile, base string) []scheduler.Item {
	sections := make([]string, 0, len(batchFile))
	for section := range batchFile {
		sections = append(sections, section)
	}
	sort.Strings(sections)
	var items []scheduler.Item
	for _, section := range sections {
		for _, entry := range batchFile[section] {
			if entry.Link == "" {
				output.PrintWarning(fmt.Sprintf("Empty link found in %s section, skipping", section))
				continue
			}
			item := scheduler.Item{URI: entry.Link, Dir: filepath.Join(base, section)}
			if entry.OutputPath != "" {
				item.Dir = filepath.Join(item.Dir, filepath.Dir(entry.OutputPath))
				item.Name = filepath.Base(entry.OutputPath)
			}
			items = append(items, item)
		}
	}
	return items
}
