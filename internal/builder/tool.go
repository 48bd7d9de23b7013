package builder

import (
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// Family is the command-line dialect of a compiler.
type Family int

const (
	GnuLike Family = iota
	ClangLike
	Msvc
)

func (f Family) String() string {
	switch f {
	case GnuLike:
		return "gnu"
	case ClangLike:
		return "clang"
	case Msvc:
		return "msvc"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Tool describes a resolved compiler.
type Tool struct {
	// Path is the resolved compiler executable.
	Path   string
	Family Family
	// Args are passed before any synthesized flag, e.g. `-m32` from
	// `CC="cc -m32"`.
	Args []string
	// Env is exported to every process spawned for this tool on top of the
	// process environment.
	Env map[string]string
	// Wrapper is a compiler cache such as ccache that the compiler is run
	// through. Empty if none.
	Wrapper string
	Cuda    bool

	// Set when the tool comes from a located Visual Studio installation.
	IncludeDirs []string
	LibDirs     []string
}

// argv returns the full command line for running the tool with args.
func (t *Tool) argv(args ...string) []string {
	out := make([]string, 0, len(t.Args)+len(args)+2)
	if t.Wrapper != "" {
		out = append(out, t.Wrapper)
	}
	out = append(out, t.Path)
	out = append(out, t.Args...)
	return append(out, args...)
}

// identity distinguishes tools for caching purposes.
func (t *Tool) identity() string {
	return strings.Join(t.argv(), "\x00")
}

// environ merges Env over the process environment. Keys are emitted in
// sorted order so command environments are deterministic.
func (t *Tool) environ() []string {
	return mergeEnviron(os.Environ(), t.Env)
}

// Command returns a command running the tool with args appended to the base
// arguments. The command is not bound to a context: once started it runs to
// completion.
func (t *Tool) Command(args ...string) *exec.Cmd {
	argv := t.argv(args...)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = t.environ()
	return cmd
}

func (t *Tool) clone() *Tool {
	c := *t
	c.Args = slices.Clone(t.Args)
	c.Env = maps.Clone(t.Env)
	c.IncludeDirs = slices.Clone(t.IncludeDirs)
	c.LibDirs = slices.Clone(t.LibDirs)
	return &c
}

func mergeEnviron(base []string, overlay map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(overlay))
	for _, e := range base {
		k, v, ok := strings.Cut(e, "=")
		if ok {
			envMap[k] = v
		}
	}
	for k, v := range overlay {
		envMap[k] = v
	}

	keys := slices.Sorted(maps.Keys(envMap))
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, k+"="+envMap[k])
	}
	return result
}
