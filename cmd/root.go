// ccbuild [path], ccbuild build [path]
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/qobs-build/ccbuild/internal/builder"
	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/spf13/cobra"
)

const (
	GeneratorDirect = "direct"
	GeneratorNinja  = "ninja"
	GeneratorVS2022 = "vs2022"
)

var (
	flagProfile   string
	flagTarget    string
	flagHost      string
	flagOutDir    string
	flagJobs      int
	flagMetadata  bool
	flagVerbose   bool
	flagGenerator EnumValue = NewEnumValue(GeneratorDirect, map[string]string{
		GeneratorDirect: "Compile the library right away (default)",
		GeneratorNinja:  "Generates a build.ninja file",
		GeneratorVS2022: "Generates a Visual Studio 2022 project",
	})
)

func doBuild(cmd *cobra.Command, args []string) {
	pkg := mustLoad(cmd.Context(), args)
	name := pkg.manifest.Library.Name

	switch flagGenerator.Value() {
	case GeneratorNinja:
		writeProject(cmd, pkg, "build.ninja", builder.WriteNinja)
	case GeneratorVS2022:
		writeProject(cmd, pkg, name+".vcxproj", builder.WriteVS2022)
	default:
		res, err := pkg.build.Compile(cmd.Context(), name)
		if err != nil {
			fatal(err)
		}
		msg.Info("built %s with %s (%d objects)", res.Library, res.Tool.Family, len(res.Objects))
	}
}

// writeProject plans the build and hands it to a generator writing file in
// the output directory.
func writeProject(cmd *cobra.Command, pkg *pkg, file string, gen func(io.Writer, *builder.Plan) error) {
	plan, err := pkg.build.Plan(cmd.Context(), pkg.manifest.Library.Name)
	if err != nil {
		fatal(err)
	}
	if err := os.MkdirAll(plan.OutDir, 0o755); err != nil {
		msg.Fatal("%v", err)
	}
	path := filepath.Join(plan.OutDir, file)
	f, err := os.Create(path)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := gen(f, plan); err != nil {
		f.Close()
		os.Remove(path)
		fatal(err)
	}
	if err := f.Close(); err != nil {
		msg.Fatal("write %s: %v", path, err)
	}
	msg.Info("wrote %s (%d objects)", path, len(plan.Objects))
}

var rootCmd = &cobra.Command{
	Use:   "ccbuild [package path]",
	Short: "Compile C, C++ and CUDA sources into a static library",
	Long:  `Compile the C, C++ and CUDA sources described by a Ccbuild.toml manifest into a static library. If no package path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [package path]",
	Short: "Build the library",
	Long:  `Build the library. If no package path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	addBuildFlags(rootCmd)

	// ccbuild build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
	buildCmd.Flags().VarP(&flagGenerator, "gen", "g", "Generator to build with, one of "+flagGenerator.HelpString())
	buildCmd.RegisterFlagCompletionFunc("gen", flagGenerator.CompletionFunc())
	rootCmd.Flags().VarP(&flagGenerator, "gen", "g", "Generator to build with, one of "+flagGenerator.HelpString())
	rootCmd.RegisterFlagCompletionFunc("gen", flagGenerator.CompletionFunc())
}

// addBuildFlags registers the flags shared by every command that loads a
// manifest.
func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagProfile, "profile", "p", "debug", "Build with the given profile")
	cmd.Flags().StringVarP(&flagTarget, "target", "t", "", "Target triple (defaults to $TARGET, then the host)")
	cmd.Flags().StringVar(&flagHost, "host", "", "Host triple (defaults to $HOST, then the running system)")
	cmd.Flags().StringVarP(&flagOutDir, "out-dir", "o", "", "Output directory (defaults to $OUT_DIR, then <package>/build)")
	cmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "Number of parallel compiler processes (defaults to $NUM_JOBS, then the CPU count)")
	cmd.Flags().BoolVar(&flagMetadata, "cargo-metadata", false, "Print cargo:rustc-link-* lines on stdout")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print every compiler invocation")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
