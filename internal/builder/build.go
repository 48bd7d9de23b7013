package builder

import (
	"io"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/qobs-build/ccbuild/internal/builder/msvc"
)

// Define is one preprocessor definition. Value is nil for `-DNAME`.
type Define struct {
	Name  string
	Value *string
}

// Build accumulates the configuration of one static library. The zero value
// is not usable; call New.
//
// Setters return the receiver so calls can be chained. The terminal actions
// (GetCompiler, Compile, Expand, Plan) copy the configuration before doing
// any work and never modify the Build.
type Build struct {
	files          []string
	includes       []string
	defines        []Define
	flags          []string
	flagsSupported []string

	cpp                bool
	cuda               bool
	warnings           *bool
	extraWarnings      *bool
	warningsIntoErrors bool
	shared             bool
	static             bool
	pic                *bool
	usePLT             bool
	staticCRT          *bool
	debug              *bool
	cargoMetadata      bool
	verbose            bool

	optLevel string
	target   string
	host     string
	outDir   string
	compiler string
	archiver string
	jobs     int

	cppLinkStdlib *string
	cppSetStdlib  *string

	env      map[string]string
	stdout   io.Writer
	progress io.Writer

	finder    msvc.Finder
	hasFinder bool
}

func New() *Build {
	return &Build{
		usePLT:        true,
		cargoMetadata: true,
		env:           make(map[string]string),
		stdout:        os.Stdout,
	}
}

func (b *Build) File(path string) *Build {
	b.files = append(b.files, path)
	return b
}

func (b *Build) Files(paths ...string) *Build {
	b.files = append(b.files, paths...)
	return b
}

func (b *Build) Include(dir string) *Build {
	b.includes = append(b.includes, dir)
	return b
}

func (b *Build) Includes(dirs ...string) *Build {
	b.includes = append(b.includes, dirs...)
	return b
}

// Define adds `-Dname=value`.
func (b *Build) Define(name, value string) *Build {
	b.defines = append(b.defines, Define{Name: name, Value: &value})
	return b
}

// DefineFlag adds `-Dname` without a value.
func (b *Build) DefineFlag(name string) *Build {
	b.defines = append(b.defines, Define{Name: name})
	return b
}

func (b *Build) Flag(flag string) *Build {
	b.flags = append(b.flags, flag)
	return b
}

// FlagIfSupported adds flag only if a probe compile with it succeeds.
func (b *Build) FlagIfSupported(flag string) *Build {
	b.flagsSupported = append(b.flagsSupported, flag)
	return b
}

func (b *Build) Cpp(on bool) *Build {
	b.cpp = on
	return b
}

// Cuda compiles the sources with nvcc. It implies Cpp.
func (b *Build) Cuda(on bool) *Build {
	b.cuda = on
	if on {
		b.cpp = true
	}
	return b
}

func (b *Build) Warnings(on bool) *Build {
	b.warnings = &on
	return b
}

func (b *Build) ExtraWarnings(on bool) *Build {
	b.extraWarnings = &on
	return b
}

func (b *Build) WarningsIntoErrors(on bool) *Build {
	b.warningsIntoErrors = on
	return b
}

func (b *Build) SharedFlag(on bool) *Build {
	b.shared = on
	return b
}

func (b *Build) StaticFlag(on bool) *Build {
	b.static = on
	return b
}

func (b *Build) PIC(on bool) *Build {
	b.pic = &on
	return b
}

func (b *Build) UsePLT(on bool) *Build {
	b.usePLT = on
	return b
}

func (b *Build) StaticCRT(on bool) *Build {
	b.staticCRT = &on
	return b
}

func (b *Build) Debug(on bool) *Build {
	b.debug = &on
	return b
}

func (b *Build) CargoMetadata(on bool) *Build {
	b.cargoMetadata = on
	return b
}

// Verbose prints a line per spawned compiler and archiver.
func (b *Build) Verbose(on bool) *Build {
	b.verbose = on
	return b
}

func (b *Build) OptLevel(level int) *Build {
	b.optLevel = strconv.Itoa(level)
	return b
}

// OptLevelStr accepts "0" to "3", "s" and "z".
func (b *Build) OptLevelStr(level string) *Build {
	b.optLevel = level
	return b
}

func (b *Build) Target(triple string) *Build {
	b.target = triple
	return b
}

func (b *Build) Host(triple string) *Build {
	b.host = triple
	return b
}

func (b *Build) OutDir(dir string) *Build {
	b.outDir = dir
	return b
}

func (b *Build) Compiler(path string) *Build {
	b.compiler = path
	return b
}

func (b *Build) Archiver(path string) *Build {
	b.archiver = path
	return b
}

// Jobs limits the number of concurrent compiler processes. Zero means
// NUM_JOBS or the number of CPUs.
func (b *Build) Jobs(n int) *Build {
	b.jobs = n
	return b
}

func (b *Build) CppLinkStdlib(name string) *Build {
	b.cppLinkStdlib = &name
	return b
}

// CppSetStdlib selects the C++ standard library for compilation (clang
// `-stdlib=`) and linking.
func (b *Build) CppSetStdlib(name string) *Build {
	b.cppSetStdlib = &name
	b.cppLinkStdlib = &name
	return b
}

// Env sets a variable that is seen by resolution before the process
// environment and is passed to every spawned tool.
func (b *Build) Env(key, value string) *Build {
	b.env[key] = value
	return b
}

// Stdout receives metadata lines. Defaults to os.Stdout.
func (b *Build) Stdout(w io.Writer) *Build {
	b.stdout = w
	return b
}

// Progress enables a progress bar for compile jobs on w.
func (b *Build) Progress(w io.Writer) *Build {
	b.progress = w
	return b
}

// WindowsFinder replaces the platform query used to discover Visual Studio
// installations. A nil finder disables the query.
func (b *Build) WindowsFinder(f msvc.Finder) *Build {
	b.finder = f
	b.hasFinder = true
	return b
}

// snapshot returns a deep copy so that a running action is isolated from
// later mutation of b.
func (b *Build) snapshot() *Build {
	c := *b
	c.files = slices.Clone(b.files)
	c.includes = slices.Clone(b.includes)
	c.defines = slices.Clone(b.defines)
	c.flags = slices.Clone(b.flags)
	c.flagsSupported = slices.Clone(b.flagsSupported)
	c.env = maps.Clone(b.env)
	return &c
}

// getenv looks a variable up in the overlay first, then in the process
// environment.
func (b *Build) getenv(key string) (string, bool) {
	if v, ok := b.env[key]; ok {
		return v, true
	}
	return os.LookupEnv(key)
}
