package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/packdl/internal/output"
	"github.com/tanq16/packdl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [DIR]",
		Short: "Remove leftover partial downloads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			removed, err := utils.CleanPartials(dir)
			if err != nil {
				return fmt.Errorf("error cleaning up partial files: %w", err)
			}
			if removed == 0 {
				output.PrintWarning("No partial files found")
				return nil
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d partial file(s)", removed))
			return nil
		},
	}
}
