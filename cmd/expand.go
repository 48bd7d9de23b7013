// ccbuild expand [path]
package cmd

import (
	"os"

	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/spf13/cobra"
)

func doExpand(cmd *cobra.Command, args []string) {
	pkg := mustLoad(cmd.Context(), args)
	out, err := pkg.build.Expand(cmd.Context())
	if err != nil {
		fatal(err)
	}
	if _, err := os.Stdout.Write(out); err != nil {
		msg.Fatal("%v", err)
	}
}

var expandCmd = &cobra.Command{
	Use:   "expand [package path]",
	Short: "Print the preprocessed sources of the library",
	Long:  `Run every source of the library through the preprocessor and print the output in source order. If no package path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doExpand,
}

func init() {
	// ccbuild expand subcommand
	rootCmd.AddCommand(expandCmd)
	addBuildFlags(expandCmd)
}
