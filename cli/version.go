package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"optrack.evalgo.org/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the optrack version",
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if !verbose {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(version.GetBuildInfo())
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolP("verbose", "v", false, "include Go version and dependencies")
}
