// Package msvc locates a Visual Studio C/C++ toolchain without a developer
// command prompt. Discovery is read-only.
package msvc

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ErrNotFound is returned when no usable installation exists.
var ErrNotFound = errors.New("no Visual Studio installation found")

// Installation is a Visual Studio installation root and its major version
// ("12", "14", "15", "16", "17").
type Installation struct {
	Version string
	Root    string
}

func (i Installation) major() int {
	major, _, _ := strings.Cut(i.Version, ".")
	n, _ := strconv.Atoi(major)
	return n
}

// Finder enumerates installations from the platform's installation metadata.
type Finder interface {
	Installations() ([]Installation, error)
}

// KitsFinder is implemented by finders that also know the Windows SDK roots.
type KitsFinder interface {
	// WindowsKits returns the root of the Windows 10 SDK and of the 8.1 SDK.
	// Either may be empty.
	WindowsKits() (kit10, kit81 string)
}

// Toolchain is a located compiler with its search paths.
type Toolchain struct {
	Installation

	BinDir   string
	Compiler string
	Archiver string

	IncludeDirs []string
	LibDirs     []string
	// PathDirs must be prepended to PATH for the compiler to find its DLLs.
	PathDirs []string
}

// Env returns the variables a developer command prompt would set.
func (t *Toolchain) Env(currentPath string) map[string]string {
	path := strings.Join(t.PathDirs, string(os.PathListSeparator))
	if currentPath != "" {
		path += string(os.PathListSeparator) + currentPath
	}
	return map[string]string{
		"INCLUDE": strings.Join(t.IncludeDirs, string(os.PathListSeparator)),
		"LIB":     strings.Join(t.LibDirs, string(os.PathListSeparator)),
		"PATH":    path,
	}
}

// Locator finds a toolchain for one target/host architecture pair.
type Locator struct {
	// Finder queries the installation metadata. May be nil.
	Finder Finder
	// Getenv reads VSINSTALLDIR, VisualStudioVersion and the Program Files
	// variables. Defaults to os.LookupEnv.
	Getenv func(string) (string, bool)
}

// DefaultLocator uses the platform finder.
func DefaultLocator(getenv func(string) (string, bool)) *Locator {
	return &Locator{Finder: NewFinder(), Getenv: getenv}
}

// Arch converts a triple architecture to the directory name Visual Studio
// uses for it.
func Arch(tripleArch string) (string, bool) {
	switch {
	case tripleArch == "x86_64" || tripleArch == "amd64":
		return "x64", true
	case tripleArch == "i386" || tripleArch == "i586" || tripleArch == "i686":
		return "x86", true
	case tripleArch == "aarch64" || tripleArch == "arm64ec":
		return "arm64", true
	case strings.HasPrefix(tripleArch, "thumbv7") || strings.HasPrefix(tripleArch, "armv7"):
		return "arm", true
	}
	return "", false
}

// Locate tries, in order, the VSINSTALLDIR variable, the installations
// reported by the Finder from the newest version down, and the default
// installation directories.
func (l *Locator) Locate(arch, hostArch string) (*Toolchain, error) {
	if v, ok := l.getenv("VSINSTALLDIR"); ok && v != "" {
		version, _ := l.getenv("VisualStudioVersion")
		inst := Installation{Version: version, Root: v}
		if tc, err := l.derive(inst, arch, hostArch); err == nil {
			return tc, nil
		}
	}

	if l.Finder != nil {
		installs, err := l.Finder.Installations()
		if err == nil {
			slices.SortStableFunc(installs, func(a, b Installation) int {
				return cmp.Compare(b.major(), a.major())
			})
			for _, inst := range installs {
				if tc, err := l.derive(inst, arch, hostArch); err == nil {
					return tc, nil
				}
			}
		}
	}

	for _, inst := range l.defaultInstallations() {
		if tc, err := l.derive(inst, arch, hostArch); err == nil {
			return tc, nil
		}
	}
	return nil, fmt.Errorf("%w for target arch %s", ErrNotFound, arch)
}

func (l *Locator) getenv(key string) (string, bool) {
	if l.Getenv == nil {
		return os.LookupEnv(key)
	}
	return l.Getenv(key)
}

var (
	editions     = []string{"Enterprise", "Professional", "Community", "BuildTools"}
	releaseYears = []struct {
		version string
		year    string
		x86     bool // installed under Program Files (x86)
	}{
		{"17", "2022", false},
		{"16", "2019", true},
		{"15", "2017", true},
	}
)

func (l *Locator) defaultInstallations() []Installation {
	pf, ok := l.getenv("ProgramFiles")
	if !ok || pf == "" {
		pf = `C:\Program Files`
	}
	pf86, ok := l.getenv("ProgramFiles(x86)")
	if !ok || pf86 == "" {
		pf86 = `C:\Program Files (x86)`
	}

	var out []Installation
	for _, r := range releaseYears {
		base := pf
		if r.x86 {
			base = pf86
		}
		for _, ed := range editions {
			out = append(out, Installation{
				Version: r.version,
				Root:    filepath.Join(base, "Microsoft Visual Studio", r.year, ed),
			})
		}
	}
	out = append(out,
		Installation{Version: "14", Root: filepath.Join(pf86, "Microsoft Visual Studio 14.0")},
		Installation{Version: "12", Root: filepath.Join(pf86, "Microsoft Visual Studio 12.0")},
	)
	return out
}

// derive computes the layout of inst and checks that the compiler exists.
func (l *Locator) derive(inst Installation, arch, hostArch string) (*Toolchain, error) {
	if !isDir(inst.Root) {
		return nil, ErrNotFound
	}
	var (
		tc  *Toolchain
		err error
	)
	toolsRoot := filepath.Join(inst.Root, "VC", "Tools", "MSVC")
	if isDir(toolsRoot) {
		tc, err = l.deriveModern(inst, toolsRoot, arch, hostArch)
	} else {
		tc, err = l.deriveLegacy(inst, arch, hostArch)
	}
	if err != nil {
		return nil, err
	}
	if !isFile(tc.Compiler) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tc.Compiler)
	}
	l.addSDK(tc, arch, hostArch)
	return tc, nil
}

// deriveModern handles Visual Studio 2017 and later.
func (l *Locator) deriveModern(inst Installation, toolsRoot, arch, hostArch string) (*Toolchain, error) {
	version := ""
	defaultFile := filepath.Join(inst.Root, "VC", "Auxiliary", "Build", "Microsoft.VCToolsVersion.default.txt")
	if data, err := os.ReadFile(defaultFile); err == nil {
		version = strings.TrimSpace(string(data))
	}
	if version == "" || !isDir(filepath.Join(toolsRoot, version)) {
		version = newestDir(toolsRoot)
	}
	if version == "" {
		return nil, fmt.Errorf("%w: no tools under %s", ErrNotFound, toolsRoot)
	}
	if inst.Version == "" {
		inst.Version = "15"
	}

	tools := filepath.Join(toolsRoot, version)
	hostDir := "Host" + hostArch
	bin := filepath.Join(tools, "bin", hostDir, arch)
	tc := &Toolchain{
		Installation: inst,
		BinDir:       bin,
		Compiler:     filepath.Join(bin, "cl.exe"),
		Archiver:     filepath.Join(bin, "lib.exe"),
		IncludeDirs:  []string{filepath.Join(tools, "include")},
		LibDirs:      []string{filepath.Join(tools, "lib", arch)},
		PathDirs:     []string{bin},
	}
	if hostArch != arch {
		// cross compilers load their DLLs from the native host directory
		tc.PathDirs = append(tc.PathDirs, filepath.Join(tools, "bin", hostDir, hostArch))
	}
	return tc, nil
}

// legacyBin maps host/target arch to the VC\bin subdirectory of Visual
// Studio 2013 and 2015.
var legacyBin = map[[2]string]string{
	{"x64", "x64"}:   "amd64",
	{"x64", "x86"}:   "amd64_x86",
	{"x64", "arm"}:   "amd64_arm",
	{"x86", "x64"}:   "x86_amd64",
	{"x86", "x86"}:   "",
	{"x86", "arm"}:   "x86_arm",
	{"arm64", "x64"}: "x86_amd64",
	{"arm64", "x86"}: "",
}

var legacyLib = map[string]string{
	"x64": "amd64",
	"x86": "",
	"arm": "arm",
}

// deriveLegacy handles Visual Studio 2013 and 2015.
func (l *Locator) deriveLegacy(inst Installation, arch, hostArch string) (*Toolchain, error) {
	sub, ok := legacyBin[[2]string{hostArch, arch}]
	if !ok {
		return nil, fmt.Errorf("%w: no %s compiler for %s hosts in %s", ErrNotFound, arch, hostArch, inst.Root)
	}
	libSub, ok := legacyLib[arch]
	if !ok {
		return nil, fmt.Errorf("%w: no %s libraries in %s", ErrNotFound, arch, inst.Root)
	}
	if inst.Version == "" {
		inst.Version = "14"
	}

	vc := filepath.Join(inst.Root, "VC")
	bin := filepath.Join(vc, "bin", sub)
	tc := &Toolchain{
		Installation: inst,
		BinDir:       bin,
		Compiler:     filepath.Join(bin, "cl.exe"),
		Archiver:     filepath.Join(bin, "lib.exe"),
		IncludeDirs:  []string{filepath.Join(vc, "include")},
		LibDirs:      []string{filepath.Join(vc, "lib", libSub)},
		PathDirs:     []string{bin},
	}
	if sub != "" && strings.Contains(sub, "_") {
		// the x86-hosted cross compilers need the native bin dir for mspdb
		tc.PathDirs = append(tc.PathDirs, filepath.Join(vc, "bin"))
	}
	return tc, nil
}

// addSDK appends the Windows SDK and universal CRT paths. A missing SDK is
// not an error: the compiler may still work for code using only the CRT.
func (l *Locator) addSDK(tc *Toolchain, arch, hostArch string) {
	var kit10, kit81 string
	if kf, ok := l.Finder.(KitsFinder); ok {
		kit10, kit81 = kf.WindowsKits()
	}
	pf86, ok := l.getenv("ProgramFiles(x86)")
	if !ok || pf86 == "" {
		pf86 = `C:\Program Files (x86)`
	}
	if kit10 == "" {
		kit10 = filepath.Join(pf86, "Windows Kits", "10")
	}
	if kit81 == "" {
		kit81 = filepath.Join(pf86, "Windows Kits", "8.1")
	}

	if tc.major() >= 14 {
		if ver := newestDirWithPrefix(filepath.Join(kit10, "Include"), "10."); ver != "" {
			inc := filepath.Join(kit10, "Include", ver)
			lib := filepath.Join(kit10, "Lib", ver)
			tc.IncludeDirs = append(tc.IncludeDirs,
				filepath.Join(inc, "ucrt"),
				filepath.Join(inc, "um"),
				filepath.Join(inc, "shared"),
			)
			tc.LibDirs = append(tc.LibDirs,
				filepath.Join(lib, "ucrt", arch),
				filepath.Join(lib, "um", arch),
			)
			tc.PathDirs = append(tc.PathDirs, filepath.Join(kit10, "bin", ver, hostArch))
			return
		}
	}

	if isDir(filepath.Join(kit81, "Include")) {
		tc.IncludeDirs = append(tc.IncludeDirs,
			filepath.Join(kit81, "Include", "um"),
			filepath.Join(kit81, "Include", "shared"),
		)
		tc.LibDirs = append(tc.LibDirs, filepath.Join(kit81, "Lib", "winv6.3", "um", arch))
		tc.PathDirs = append(tc.PathDirs, filepath.Join(kit81, "bin", hostArch))
	}
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func newestDir(dir string) string {
	return newestDirWithPrefix(dir, "")
}

// newestDirWithPrefix returns the subdirectory of dir with the highest
// dotted version among those starting with prefix.
func newestDirWithPrefix(dir, prefix string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	return slices.MaxFunc(names, compareVersions)
}

// majorVersion extracts the leading number of a version, skipping any
// "Product/" prefix: "VisualStudio/16.11.5+31729.503" is "16".
func majorVersion(v string) string {
	if _, rest, ok := strings.Cut(v, "/"); ok {
		v = rest
	}
	end := strings.IndexFunc(v, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(v)
	}
	return v[:end]
}

// compareVersions orders dotted numeric versions such as 14.29.30133.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < max(len(as), len(bs)); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if c := cmp.Compare(x, y); c != 0 {
			return c
		}
	}
	return cmp.Compare(a, b)
}
