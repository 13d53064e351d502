package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/syncbridge/internal/output"
	"github.com/marcus/syncbridge/internal/version"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version, optionally checking for updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("syncbridge %s\n", rootCmd.Version)
		if !versionCheck {
			return nil
		}

		res := version.Check(rootCmd.Version)
		if res.Error != nil {
			return fmt.Errorf("check for updates: %w", res.Error)
		}
		switch {
		case version.IsDevelopmentVersion(res.CurrentVersion):
			fmt.Println("development build, update check skipped")
		case res.HasUpdate:
			output.Warning("update available: %s (%s)", res.LatestVersion, res.UpdateURL)
			if cmdline := version.UpdateCommand(res.LatestVersion); cmdline != "" {
				fmt.Printf("  %s\n", cmdline)
			}
		default:
			output.Success("up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
	rootCmd.AddCommand(versionCmd)
}
