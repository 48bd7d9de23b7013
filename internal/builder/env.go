package builder

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// toolKind selects a row of the variable table.
type toolKind int

const (
	kindC toolKind = iota
	kindCxx
	kindCuda
	kindAr
)

// Variables consulted through the precedence chain. The flags variable of a
// kind is appended after every synthesized flag.
var toolVars = [...]struct {
	tool  string
	flags string
}{
	kindC:    {"CC", "CFLAGS"},
	kindCxx:  {"CXX", "CXXFLAGS"},
	kindCuda: {"NVCC", "NVCCFLAGS"},
	kindAr:   {"AR", "ARFLAGS"},
}

// Plain variables, read as is.
const (
	envTarget       = "TARGET"
	envHost         = "HOST"
	envOutDir       = "OUT_DIR"
	envOptLevel     = "OPT_LEVEL"
	envDebug        = "DEBUG"
	envNumJobs      = "NUM_JOBS"
	envNoDefaults   = "CRATE_CC_NO_DEFAULTS"
	envVSInstallDir = "VSINSTALLDIR"
	envVSVersion    = "VisualStudioVersion"
	envPath         = "PATH"
)

// Compiler cache wrappers recognised as the first word of a tool variable.
var knownWrappers = map[string]bool{
	"ccache":     true,
	"distcc":     true,
	"sccache":    true,
	"cachepot":   true,
	"buildcache": true,
}

// crossPrefixes maps a target triple to the binutils prefix of its usual GNU
// cross toolchain.
var crossPrefixes = map[string]string{
	"aarch64-unknown-linux-gnu":       "aarch64-linux-gnu",
	"aarch64-unknown-linux-musl":      "aarch64-linux-musl",
	"arm-unknown-linux-gnueabi":       "arm-linux-gnueabi",
	"arm-unknown-linux-gnueabihf":     "arm-linux-gnueabihf",
	"arm-unknown-linux-musleabi":      "arm-linux-musleabi",
	"arm-unknown-linux-musleabihf":    "arm-linux-musleabihf",
	"armv7-unknown-linux-gnueabi":     "arm-linux-gnueabi",
	"armv7-unknown-linux-gnueabihf":   "arm-linux-gnueabihf",
	"armv7-unknown-linux-musleabihf":  "arm-linux-musleabihf",
	"i586-unknown-linux-gnu":          "i686-linux-gnu",
	"i686-unknown-linux-gnu":          "i686-linux-gnu",
	"i686-unknown-linux-musl":         "i686-linux-musl",
	"i686-pc-windows-gnu":             "i686-w64-mingw32",
	"x86_64-pc-windows-gnu":           "x86_64-w64-mingw32",
	"x86_64-unknown-linux-musl":       "x86_64-linux-musl",
	"x86_64-unknown-linux-gnu":        "x86_64-linux-gnu",
	"mips-unknown-linux-gnu":          "mips-linux-gnu",
	"mipsel-unknown-linux-gnu":        "mipsel-linux-gnu",
	"powerpc-unknown-linux-gnu":       "powerpc-linux-gnu",
	"powerpc64-unknown-linux-gnu":     "powerpc-linux-gnu",
	"powerpc64le-unknown-linux-gnu":   "powerpc64le-linux-gnu",
	"riscv64gc-unknown-linux-gnu":     "riscv64-linux-gnu",
	"s390x-unknown-linux-gnu":         "s390x-linux-gnu",
	"riscv32imac-unknown-none-elf":    "riscv32-unknown-elf",
	"riscv32imc-unknown-none-elf":     "riscv32-unknown-elf",
	"riscv64gc-unknown-none-elf":      "riscv64-unknown-elf",
	"riscv64imac-unknown-none-elf":    "riscv64-unknown-elf",
	"thumbv6m-none-eabi":              "arm-none-eabi",
	"thumbv7em-none-eabi":             "arm-none-eabi",
	"thumbv7em-none-eabihf":           "arm-none-eabi",
	"thumbv7m-none-eabi":              "arm-none-eabi",
	"thumbv8m.base-none-eabi":         "arm-none-eabi",
	"thumbv8m.main-none-eabi":         "arm-none-eabi",
	"thumbv8m.main-none-eabihf":       "arm-none-eabi",
	"armebv7r-none-eabi":              "arm-none-eabi",
	"armv7r-none-eabi":                "arm-none-eabi",
	"armv7r-none-eabihf":              "arm-none-eabi",
	"aarch64-unknown-none":            "aarch64-none-elf",
	"x86_64-unknown-linux-gnux32":     "x86_64-linux-gnux32",
	"loongarch64-unknown-linux-gnu":   "loongarch64-linux-gnu",
	"sparc64-unknown-linux-gnu":       "sparc64-linux-gnu",
	"mips64el-unknown-linux-gnuabi64": "mips64el-linux-gnuabi64",
	"mips64-unknown-linux-gnuabi64":   "mips64-linux-gnuabi64",
	"aarch64-unknown-linux-gnu_ilp32": "aarch64-linux-gnu_ilp32",
	"armv5te-unknown-linux-gnueabi":   "arm-linux-gnueabi",
	"armv5te-unknown-linux-musleabi":  "arm-linux-musleabi",
	"armv7-unknown-linux-musleabi":    "arm-linux-musleabi",
}

// getvar resolves name through the precedence chain:
//
//	NAME_<target>
//	NAME_<target with '-' replaced by '_'>
//	HOST_NAME or TARGET_NAME
//	NAME
func (s *session) getvar(name string) (string, bool) {
	kind := "TARGET_"
	if s.target.Raw == s.host.Raw {
		kind = "HOST_"
	}
	candidates := []string{
		name + "_" + s.target.Raw,
		name + "_" + strings.ReplaceAll(s.target.Raw, "-", "_"),
		kind + name,
		name,
	}
	for _, c := range candidates {
		if v, ok := s.b.getenv(c); ok {
			return v, true
		}
	}
	return "", false
}

// envFlags returns the whitespace-split flags variable of kind.
func (s *session) envFlags(kind toolKind) []string {
	v, _ := s.getvar(toolVars[kind].flags)
	return strings.Fields(v)
}

// toolSpec is a tool command before PATH lookup.
type toolSpec struct {
	wrapper string
	name    string
	args    []string

	// fromDefault is set when neither an override nor a variable named the
	// tool.
	fromDefault bool
}

// parseToolString splits a tool variable. A value naming an existing file is
// taken verbatim so that paths containing spaces keep working.
func parseToolString(value string) toolSpec {
	if _, err := os.Stat(value); err == nil {
		return toolSpec{name: value}
	}

	words := strings.Fields(value)
	if len(words) == 0 {
		return toolSpec{}
	}
	if len(words) > 1 && knownWrappers[toolStem(words[0])] {
		return toolSpec{wrapper: words[0], name: words[1], args: words[2:]}
	}
	return toolSpec{name: words[0], args: words[1:]}
}

// toolStem returns the file name of a tool without directory or extension.
func toolStem(path string) string {
	base := filepath.Base(strings.ReplaceAll(path, `\`, "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// toolSpec returns the tool for kind following the precedence chain.
func (s *session) toolSpec(kind toolKind) (toolSpec, error) {
	override := s.b.compiler
	if kind == kindAr {
		override = s.b.archiver
	}
	if override != "" {
		return parseToolString(override), nil
	}
	if v, ok := s.getvar(toolVars[kind].tool); ok && strings.TrimSpace(v) != "" {
		return parseToolString(v), nil
	}

	name, err := s.defaultTool(kind)
	if err != nil {
		return toolSpec{}, err
	}
	return toolSpec{name: name, fromDefault: true}, nil
}

// defaultTool derives a tool name from the target triple.
func (s *session) defaultTool(kind toolKind) (string, error) {
	if s.tripleErr != nil {
		return "", s.tripleErr
	}
	t := s.target
	if !t.Known() {
		return "", newError(UnsupportedTargetHost, nil,
			"no known toolchain for target %s (host %s)", t.Raw, s.host.Raw)
	}

	pick := func(c, cxx, ar string) string {
		switch kind {
		case kindCxx:
			return cxx
		case kindAr:
			return ar
		default:
			return c
		}
	}

	if kind == kindCuda {
		return "nvcc", nil
	}

	switch {
	case t.IsMSVC():
		return pick("cl.exe", "cl.exe", "lib.exe"), nil
	case t.OS == "emscripten":
		return pick("emcc", "em++", "emar"), nil
	case t.OS == "android":
		arch := t.Arch
		if arch == "armv7" {
			arch = "armv7a"
		}
		prefix := arch + "-linux-" + t.Env
		return pick(prefix+"-clang", prefix+"-clang++", "llvm-ar"), nil
	case t.OS == "wasi" || (t.IsBareMetal() && strings.HasPrefix(t.Arch, "wasm")):
		return pick("clang", "clang++", "llvm-ar"), nil
	case t.IsWindows() && s.host.IsWindows():
		return pick("gcc", "g++", "ar"), nil
	}

	if t.Raw != s.host.Raw {
		if prefix, ok := crossPrefixes[t.Raw]; ok {
			return pick(prefix+"-gcc", prefix+"-g++", prefix+"-ar"), nil
		}
	}
	return pick("cc", "c++", "ar"), nil
}

// searchPath is the PATH seen by resolution, with Build.Env taking priority.
func (s *session) searchPath() string {
	v, _ := s.b.getenv(envPath)
	return v
}

// lookPath resolves file against path the way exec.LookPath does against the
// process PATH.
func lookPath(file, path string) (string, error) {
	if strings.ContainsAny(file, `/\`) {
		if err := findExecutable(file); err != nil {
			return "", err
		}
		return file, nil
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		for _, name := range executableNames(file) {
			p := filepath.Join(dir, name)
			if err := findExecutable(p); err == nil {
				return p, nil
			}
		}
	}
	return "", exec.ErrNotFound
}

func executableNames(file string) []string {
	if runtime.GOOS != "windows" || filepath.Ext(file) != "" {
		return []string{file}
	}
	return []string{file, file + ".exe"}
}

func findExecutable(file string) error {
	d, err := os.Stat(file)
	if err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		if d.IsDir() {
			return os.ErrPermission
		}
		return nil
	}
	if m := d.Mode(); !m.IsDir() && m&0o111 != 0 {
		return nil
	}
	return os.ErrPermission
}

// resolveExecutable looks spec's wrapper and tool up on the search path.
// When the wrapped compiler is not on the path, the wrapper is run as the
// compiler with the remaining words as its arguments.
func (s *session) resolveExecutable(spec toolSpec) (wrapper, path string, args []string, err error) {
	if spec.name == "" {
		return "", "", nil, newError(ToolNotFound, nil, "empty tool name")
	}
	searchPath := s.searchPath()
	if spec.wrapper != "" {
		wrapper, err = lookPath(spec.wrapper, searchPath)
		if err != nil {
			return "", "", nil, newError(ToolNotFound, err, "compiler wrapper %s not found", spec.wrapper)
		}
		path, err = lookPath(spec.name, searchPath)
		if err != nil {
			return "", wrapper, append([]string{spec.name}, spec.args...), nil
		}
		return wrapper, path, spec.args, nil
	}
	path, err = lookPath(spec.name, searchPath)
	if err != nil {
		return "", "", nil, newError(ToolNotFound, err, "%s not found", spec.name)
	}
	return "", path, spec.args, nil
}

// optLevel returns the configured optimization level, "0" by default.
func (s *session) optLevel() string {
	if s.b.optLevel != "" {
		return s.b.optLevel
	}
	if v, ok := s.b.getenv(envOptLevel); ok && v != "" {
		return v
	}
	return "0"
}

func (s *session) debug() bool {
	if s.b.debug != nil {
		return *s.b.debug
	}
	v, _ := s.b.getenv(envDebug)
	return envBool(v)
}

// noDefaults reports whether CRATE_CC_NO_DEFAULTS is set to a non-empty
// value.
func (s *session) noDefaults() bool {
	v, _ := s.b.getenv(envNoDefaults)
	return v != ""
}

// jobs returns the parallelism limit.
func (s *session) jobs() int {
	if s.b.jobs > 0 {
		return s.b.jobs
	}
	if v, ok := s.b.getenv(envNumJobs); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

func (s *session) outDir() (string, error) {
	dir := s.b.outDir
	if dir == "" {
		dir, _ = s.b.getenv(envOutDir)
	}
	if dir == "" {
		return "", newError(IOFailure, errors.New("set OutDir or OUT_DIR"), "no output directory")
	}
	return filepath.Abs(dir)
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// resolveTriples fills in the target and host of the session. A malformed
// triple is not an error yet: an explicit compiler makes it irrelevant, so
// the error is returned for defaultTool to report.
func resolveTriples(b *Build) (target, host Triple, err error) {
	hostRaw := b.host
	if hostRaw == "" {
		hostRaw, _ = b.getenv(envHost)
	}
	if hostRaw == "" {
		hostRaw = HostTriple()
	}
	targetRaw := b.target
	if targetRaw == "" {
		targetRaw, _ = b.getenv(envTarget)
	}
	if targetRaw == "" {
		targetRaw = hostRaw
	}

	host, herr := ParseTriple(hostRaw)
	if herr != nil {
		host = Triple{Raw: hostRaw}
		err = newError(UnsupportedTargetHost, herr, "invalid host")
	}
	target, terr := ParseTriple(targetRaw)
	if terr != nil {
		target = Triple{Raw: targetRaw}
		err = newError(UnsupportedTargetHost, terr, "invalid target")
	}
	return target, host, err
}
