// ccbuild init [name]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/qobs-build/ccbuild/internal/manifest"
	"github.com/qobs-build/ccbuild/internal/msg"
	"github.com/spf13/cobra"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "ccbuild"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// cIdent turns a package name into a C identifier.
func cIdent(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z':
			sb.WriteRune(r)
		case '0' <= r && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// initIn initializes a library package in an existing directory
func initIn(dir, name string, cpp bool) {
	ext, sources := "c", `["src/**/*.c"]`
	if cpp {
		ext, sources = "cpp", `["src/**/*.cpp", "src/**/*.cc"]`
	}

	// Ccbuild.toml
	writefile(`[library]
name = "`+name+`"
sources = `+sources+`
include = ["include"]
cpp = `+strconv.FormatBool(cpp)+`
warnings = true

[library.'target_os == "windows"']
defines = { WIN32_LEAN_AND_MEAN = "" }

[profile.release]
opt-level = 3
debug = false
`, dir, manifest.FileName)

	mkdir(dir, "src")
	mkdir(dir, "include")

	// src/<name>.c
	writefile(`#include "`+name+`.h"

int `+name+`_answer(void) {
    return 42;
}
`, dir, "src", name+"."+ext)

	// include/<name>.h
	guard := strings.ToUpper(name) + "_H"
	writefile(`#ifndef `+guard+`
#define `+guard+`

#ifdef __cplusplus
extern "C" {
#endif

int `+name+`_answer(void);

#ifdef __cplusplus
} // extern "C"
#endif

#endif
`, dir, "include", name+".h")

	// .gitignore
	writefile(`build/
`, dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("You can now do %s to build %s, or %s to write a build.ninja.\n",
		color.HiCyanString(programName+" "+dir), libraryFile(name), color.HiCyanString(programName+" build -g ninja "+dir))
}

func libraryFile(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".lib"
	}
	return "lib" + name + ".a"
}

var cpp bool

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new library package in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", cIdent(args[0]), cpp)
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new library package in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], cIdent(filepath.Base(args[0])), cpp)
	},
}

func init() {
	// ccbuild init subcommand
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&cpp, "cpp", false, "Create a C++ library")

	// ccbuild new subcommand
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().BoolVar(&cpp, "cpp", false, "Create a C++ library")
}
