package builder

import (
	"fmt"
	"runtime"
	"strings"
)

// Triple is a parsed `arch-vendor-os[-env]` target triple.
type Triple struct {
	Raw    string
	Arch   string
	Vendor string
	OS     string
	Env    string
}

var knownOS = map[string]bool{
	"linux":      true,
	"android":    true,
	"darwin":     true,
	"ios":        true,
	"tvos":       true,
	"watchos":    true,
	"windows":    true,
	"freebsd":    true,
	"netbsd":     true,
	"openbsd":    true,
	"dragonfly":  true,
	"solaris":    true,
	"illumos":    true,
	"fuchsia":    true,
	"haiku":      true,
	"redox":      true,
	"emscripten": true,
	"wasi":       true,
	"none":       true,
}

// ParseTriple splits a target triple. Two-component triples such as
// `thumbv7em-none-eabihf` or `wasm32-wasi` are accepted; the OS is then the
// second component and the vendor is empty.
func ParseTriple(raw string) (Triple, error) {
	parts := strings.Split(raw, "-")
	if len(parts) < 2 || slicesContainEmpty(parts) {
		return Triple{}, fmt.Errorf("malformed target triple %q", raw)
	}

	t := Triple{Raw: raw, Arch: parts[0]}
	switch {
	case len(parts) == 2:
		t.OS = parts[1]
	case knownOS[parts[1]]:
		// arch-os-env, e.g. thumbv7em-none-eabihf or aarch64-linux-android
		t.OS = parts[1]
		t.Env = strings.Join(parts[2:], "-")
	default:
		t.Vendor = parts[1]
		t.OS = parts[2]
		if len(parts) > 3 {
			t.Env = strings.Join(parts[3:], "-")
		}
	}

	// linux-android and linux-androideabi are android
	if t.OS == "linux" && strings.HasPrefix(t.Env, "android") {
		t.OS = "android"
	}
	// wasm32-unknown-unknown is a bare clang target
	if t.OS == "unknown" && strings.HasPrefix(t.Arch, "wasm") {
		t.OS = "none"
	}
	return t, nil
}

func slicesContainEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}

func (t Triple) String() string { return t.Raw }

// Known reports whether the OS/ABI maps to a toolchain family.
func (t Triple) Known() bool { return knownOS[t.OS] }

func (t Triple) IsMSVC() bool    { return t.OS == "windows" && t.Env == "msvc" }
func (t Triple) IsWindows() bool { return t.OS == "windows" }
func (t Triple) IsApple() bool {
	return t.Vendor == "apple" || t.OS == "darwin" || t.OS == "ios" || t.OS == "tvos" || t.OS == "watchos"
}
func (t Triple) IsBareMetal() bool { return t.OS == "none" }
func (t Triple) IsMusl() bool      { return strings.HasPrefix(t.Env, "musl") }

// X86Bits returns 64 or 32 for x86 architectures and 0 otherwise.
func (t Triple) X86Bits() int {
	switch t.Arch {
	case "x86_64", "amd64":
		return 64
	case "i386", "i486", "i586", "i686":
		return 32
	}
	return 0
}

// ClangTriple converts the triple to the spelling clang accepts for
// --target.
func (t Triple) ClangTriple() string {
	arch := t.Arch
	switch {
	case strings.HasPrefix(arch, "riscv64"):
		arch = "riscv64"
	case strings.HasPrefix(arch, "riscv32"):
		arch = "riscv32"
	case arch == "aarch64" && t.IsApple():
		arch = "arm64"
	}
	return strings.Join(append([]string{arch}, strings.Split(t.Raw, "-")[1:]...), "-")
}

var goosTriples = map[string]string{
	"linux":     "unknown-linux-gnu",
	"darwin":    "apple-darwin",
	"windows":   "pc-windows-msvc",
	"freebsd":   "unknown-freebsd",
	"netbsd":    "unknown-netbsd",
	"openbsd":   "unknown-openbsd",
	"dragonfly": "unknown-dragonfly",
	"solaris":   "pc-solaris",
	"illumos":   "unknown-illumos",
	"android":   "linux-android",
}

var goarchNames = map[string]string{
	"amd64":   "x86_64",
	"386":     "i686",
	"arm64":   "aarch64",
	"arm":     "armv7",
	"riscv64": "riscv64gc",
	"ppc64le": "powerpc64le",
	"ppc64":   "powerpc64",
	"s390x":   "s390x",
	"mips":    "mips",
	"mipsle":  "mipsel",
	"mips64":  "mips64",
	"loong64": "loongarch64",
}

// HostTriple derives the triple of the running process.
func HostTriple() string {
	arch, ok := goarchNames[runtime.GOARCH]
	if !ok {
		arch = runtime.GOARCH
	}
	rest, ok := goosTriples[runtime.GOOS]
	if !ok {
		rest = "unknown-" + runtime.GOOS
	}
	if runtime.GOOS == "linux" && runtime.GOARCH == "arm" {
		rest = "unknown-linux-gnueabihf"
	}
	return arch + "-" + rest
}
