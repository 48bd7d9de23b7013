// ccbuild compiler [path]
package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var flagShowEnv bool

func doCompiler(cmd *cobra.Command, args []string) {
	pkg := mustLoad(cmd.Context(), args)
	tool, err := pkg.build.GetCompiler(cmd.Context())
	if err != nil {
		fatal(err)
	}

	row := func(k, v string) { fmt.Printf("%s %s\n", color.HiCyanString("%-9s", k+":"), v) }
	row("path", tool.Path)
	row("family", tool.Family.String())
	if tool.Wrapper != "" {
		row("wrapper", tool.Wrapper)
	}
	if len(tool.Args) > 0 {
		row("args", strings.Join(tool.Args, " "))
	}
	if tool.Cuda {
		row("cuda", "true")
	}
	for _, dir := range tool.IncludeDirs {
		row("include", dir)
	}
	for _, dir := range tool.LibDirs {
		row("lib", dir)
	}
	if flagShowEnv {
		for _, k := range slices.Sorted(maps.Keys(tool.Env)) {
			row("env", k+"="+tool.Env[k])
		}
	}
}

var compilerCmd = &cobra.Command{
	Use:   "compiler [package path]",
	Short: "Print the compiler that would build the library",
	Args:  cobra.MaximumNArgs(1),
	Run:   doCompiler,
}

func init() {
	// ccbuild compiler subcommand
	rootCmd.AddCommand(compilerCmd)
	addBuildFlags(compilerCmd)
	compilerCmd.Flags().BoolVarP(&flagShowEnv, "env", "e", false, "Also print the environment the compiler runs with")
}
