package builder

import (
	"maps"

	"github.com/qobs-build/ccbuild/internal/builder/msvc"
	"go.trai.ch/zerr"
)

// locateMSVC finds a Visual Studio toolchain for the session target.
func (s *session) locateMSVC() (*msvc.Toolchain, error) {
	arch, ok := msvc.Arch(s.target.Arch)
	if !ok {
		return nil, newError(UnsupportedTargetHost, nil, "no MSVC toolchain targets %s", s.target.Arch)
	}
	hostArch, ok := msvc.Arch(s.host.Arch)
	if !ok {
		hostArch = "x64"
	}

	loc := msvc.DefaultLocator(s.b.getenv)
	if s.b.hasFinder {
		loc.Finder = s.b.finder
	}

	tc, err := loc.Locate(arch, hostArch)
	if err != nil {
		return nil, newError(ToolNotFound, zerr.With(err, "target", s.target.Raw), "cl.exe is not on PATH")
	}
	return tc, nil
}

// msvcTool turns a located toolchain into a Tool. The toolchain identifies
// the compiler, so it is not run to classify it.
func (s *session) msvcTool(tc *msvc.Toolchain) *Tool {
	env := maps.Clone(s.b.env)
	if env == nil {
		env = make(map[string]string)
	}
	maps.Copy(env, tc.Env(s.searchPath()))

	return &Tool{
		Path:        tc.Compiler,
		Family:      Msvc,
		Env:         env,
		IncludeDirs: tc.IncludeDirs,
		LibDirs:     tc.LibDirs,
	}
}
