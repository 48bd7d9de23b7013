package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubToolchain is a directory of shell scripts standing in for a compiler
// and an archiver. Every invocation is recorded under calls/<tool>/<n>.
type stubToolchain struct {
	dir string
}

type stubOptions struct {
	family  string   // printed by the family detection; empty prints nothing
	reject  []string // flags that make the compiler exit 1
	failing []string // source base names that fail to compile
}

const stubRecord = `dir=$(dirname "$0")
calls="$dir/calls/$(basename "$0")"
mkdir -p "$calls"
n=0
while ! mkdir "$calls/$n" 2>/dev/null; do n=$((n+1)); done
for a in "$@"; do printf '%s\n' "$a"; done > "$calls/$n/argv"
`

func newStubToolchain(t *testing.T, opts stubOptions) *stubToolchain {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub toolchains are shell scripts")
	}

	st := &stubToolchain{dir: t.TempDir()}

	var cc strings.Builder
	cc.WriteString("#!/bin/sh\n")
	cc.WriteString(stubRecord)
	cc.WriteString("out=\nprev=\nlast=\ndetect=0\nexpand=0\n")
	cc.WriteString("for a in \"$@\"; do\n")
	cc.WriteString("  case \"$a\" in *detect_compiler_family*) detect=1 ;; -E) expand=1 ;; esac\n")
	for _, f := range opts.reject {
		fmt.Fprintf(&cc, "  if [ \"$a\" = '%s' ]; then echo \"error: unknown flag $a\" >&2; exit 1; fi\n", f)
	}
	for _, src := range opts.failing {
		fmt.Fprintf(&cc, "  case \"$a\" in *'%s') echo \"$a:1:1: error: expected ';'\" >&2; exit 1 ;; esac\n", src)
	}
	cc.WriteString("  if [ \"$prev\" = -o ]; then out=$a; fi\n")
	cc.WriteString("  prev=$a\n  last=$a\ndone\n")
	if opts.family != "" {
		fmt.Fprintf(&cc, "if [ $detect = 1 ]; then echo 'ccbuild_family=%s'; exit 0; fi\n", opts.family)
	}
	cc.WriteString("if [ $expand = 1 ]; then echo \"expanded $(basename \"$last\")\"; exit 0; fi\n")
	cc.WriteString("if [ -n \"$out\" ]; then echo obj > \"$out\"; fi\n")

	ar := "#!/bin/sh\n" + stubRecord + `while [ $# -gt 0 ] && [ "$1" != crs ]; do shift; done
shift
lib=$1
shift
: > "$lib"
for o in "$@"; do basename "$o" >> "$lib"; done
`

	st.write(t, "cc", cc.String())
	st.write(t, "c++", cc.String())
	st.write(t, "ar", ar)
	return st
}

func (st *stubToolchain) write(t *testing.T, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(st.dir, name), []byte(script), 0o755))
}

// path puts the stubs in front of the real PATH so the scripts can still
// find mkdir and friends.
func (st *stubToolchain) path() string {
	return st.dir + string(os.PathListSeparator) + os.Getenv("PATH")
}

// calls returns the recorded argv of every invocation of tool.
func (st *stubToolchain) calls(t *testing.T, tool string) [][]string {
	t.Helper()
	root := filepath.Join(st.dir, "calls", tool)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	var out [][]string
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(root, e.Name(), "argv"))
		require.NoError(t, err)
		out = append(out, strings.Split(strings.TrimSuffix(string(data), "\n"), "\n"))
	}
	return out
}

// compileCalls returns the recorded compiler invocations that produced an
// object, skipping detection and probes.
func (st *stubToolchain) compileCalls(t *testing.T, tool string) [][]string {
	t.Helper()
	var out [][]string
	for _, argv := range st.calls(t, tool) {
		if slices.Contains(argv, "-c") && !slices.ContainsFunc(argv, func(a string) bool {
			return strings.Contains(a, "flag_check-")
		}) {
			out = append(out, argv)
		}
	}
	return out
}

// hermetic masks variables from the test process environment that would
// override the stubs.
func hermetic(b *Build) *Build {
	for _, v := range toolVars {
		b.Env(v.tool, "").Env(v.flags, "")
	}
	return b.Env(envNoDefaults, "").
		Env(envVSInstallDir, "").
		Env(envNumJobs, "").
		Env(envOptLevel, "").
		Env(envDebug, "").
		Env(envTarget, "").
		Env(envHost, "").
		Env(envOutDir, "")
}

// stubBuild returns a Build that resolves cc/c++/ar to the stubs.
func stubBuild(st *stubToolchain) *Build {
	b := hermetic(New())
	return b.Env(envPath, st.path()).Stdout(new(strings.Builder))
}

// writeSources creates C files named by names under dir and returns their
// paths.
func writeSources(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	var out []string
	for _, name := range names {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("int f(void) { return 0; }\n"), 0o644))
		out = append(out, p)
	}
	return out
}
