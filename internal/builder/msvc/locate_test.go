package msvc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFinder struct {
	installs []Installation
	kit10    string
}

func (f staticFinder) Installations() ([]Installation, error) { return f.installs, nil }
func (f staticFinder) WindowsKits() (string, string) { return f.kit10, "" }

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func mkdirs(t *testing.T, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
}

// emptyEnv keeps the process environment out of the locator.
func emptyEnv(t *testing.T) func(string) (string, bool) {
	pf := t.TempDir()
	return func(key string) (string, bool) {
		switch key {
		case "ProgramFiles", "ProgramFiles(x86)":
			return pf, true
		}
		return "", false
	}
}

func modernInstall(t *testing.T, versions ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, v := range versions {
		touch(t, filepath.Join(root, "VC", "Tools", "MSVC", v, "bin", "Hostx64", "x64", "cl.exe"))
		touch(t, filepath.Join(root, "VC", "Tools", "MSVC", v, "bin", "Hostx64", "arm64", "cl.exe"))
	}
	return root
}

func TestLocateModernPicksNewestTools(t *testing.T) {
	root := modernInstall(t, "14.9.1", "14.29.30133", "14.10.25017")
	l := &Locator{Finder: staticFinder{installs: []Installation{{Version: "16", Root: root}}}, Getenv: emptyEnv(t)}

	tc, err := l.Locate("x64", "x64")
	require.NoError(t, err)
	tools := filepath.Join(root, "VC", "Tools", "MSVC", "14.29.30133")
	assert.Equal(t, "16", tc.Version)
	assert.Equal(t, filepath.Join(tools, "bin", "Hostx64", "x64"), tc.BinDir)
	assert.Equal(t, filepath.Join(tc.BinDir, "lib.exe"), tc.Archiver)
	assert.Equal(t, []string{filepath.Join(tools, "include")}, tc.IncludeDirs)
	assert.Equal(t, []string{filepath.Join(tools, "lib", "x64")}, tc.LibDirs)
}

func TestLocateModernDefaultVersionFile(t *testing.T) {
	root := modernInstall(t, "14.29.30133", "14.30.1")
	touch(t, filepath.Join(root, "VC", "Auxiliary", "Build", "Microsoft.VCToolsVersion.default.txt"))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "VC", "Auxiliary", "Build", "Microsoft.VCToolsVersion.default.txt"),
		[]byte("14.29.30133\n"), 0o644))

	l := &Locator{Finder: staticFinder{installs: []Installation{{Version: "17", Root: root}}}, Getenv: emptyEnv(t)}
	tc, err := l.Locate("x64", "x64")
	require.NoError(t, err)
	assert.Contains(t, tc.BinDir, "14.29.30133")
}

func TestLocateCrossAddsHostBin(t *testing.T) {
	root := modernInstall(t, "14.29.30133")
	l := &Locator{Finder: staticFinder{installs: []Installation{{Version: "16", Root: root}}}, Getenv: emptyEnv(t)}

	tc, err := l.Locate("arm64", "x64")
	require.NoError(t, err)
	bin := filepath.Join(root, "VC", "Tools", "MSVC", "14.29.30133", "bin", "Hostx64")
	assert.Equal(t, []string{filepath.Join(bin, "arm64"), filepath.Join(bin, "x64")}, tc.PathDirs)
}

func TestLocatePrefersHighestVersion(t *testing.T) {
	old := modernInstall(t, "14.16.27023")
	newer := modernInstall(t, "14.29.30133")
	l := &Locator{
		Finder: staticFinder{installs: []Installation{
			{Version: "15", Root: old},
			{Version: "16", Root: newer},
		}},
		Getenv: emptyEnv(t),
	}

	tc, err := l.Locate("x64", "x64")
	require.NoError(t, err)
	assert.Equal(t, newer, tc.Root)
}

func TestLocateSkipsBrokenInstallations(t *testing.T) {
	broken := t.TempDir()
	mkdirs(t, filepath.Join(broken, "VC", "Tools", "MSVC", "14.30.0"))
	good := modernInstall(t, "14.29.30133")
	l := &Locator{
		Finder: staticFinder{installs: []Installation{
			{Version: "17", Root: broken},
			{Version: "16", Root: good},
		}},
		Getenv: emptyEnv(t),
	}

	tc, err := l.Locate("x64", "x64")
	require.NoError(t, err)
	assert.Equal(t, good, tc.Root)
}

func TestLocateLegacy(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "VC", "bin", "amd64", "cl.exe"))
	touch(t, filepath.Join(root, "VC", "bin", "x86_amd64", "cl.exe"))
	touch(t, filepath.Join(root, "VC", "bin", "cl.exe"))

	l := &Locator{Finder: staticFinder{installs: []Installation{{Version: "14", Root: root}}}, Getenv: emptyEnv(t)}

	tc, err := l.Locate("x64", "x64")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "VC", "bin", "amd64", "cl.exe"), tc.Compiler)
	assert.Equal(t, []string{filepath.Join(root, "VC", "include")}, tc.IncludeDirs)
	assert.Equal(t, []string{filepath.Join(root, "VC", "lib", "amd64")}, tc.LibDirs)

	tc, err = l.Locate("x64", "x86")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "VC", "bin", "x86_amd64", "cl.exe"), tc.Compiler)
	assert.Contains(t, tc.PathDirs, filepath.Join(root, "VC", "bin"))

	tc, err = l.Locate("x86", "x86")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "VC", "bin", "cl.exe"), tc.Compiler)
	assert.Equal(t, []string{filepath.Join(root, "VC", "lib")}, tc.LibDirs)
}

func TestLocateVSInstallDir(t *testing.T) {
	root := modernInstall(t, "14.29.30133")
	env := emptyEnv(t)
	l := &Locator{
		Getenv: func(key string) (string, bool) {
			switch key {
			case "VSINSTALLDIR":
				return root + string(filepath.Separator), true
			case "VisualStudioVersion":
				return "16.0", true
			}
			return env(key)
		},
	}

	tc, err := l.Locate("x64", "x64")
	require.NoError(t, err)
	assert.Equal(t, "16.0", tc.Version)
	assert.Equal(t, 16, tc.major())
}

func TestLocateDefaultDirectories(t *testing.T) {
	pf86 := t.TempDir()
	root := filepath.Join(pf86, "Microsoft Visual Studio", "2019", "BuildTools")
	touch(t, filepath.Join(root, "VC", "Tools", "MSVC", "14.29.30133", "bin", "Hostx64", "x64", "cl.exe"))

	l := &Locator{Getenv: func(key string) (string, bool) {
		switch key {
		case "ProgramFiles":
			return filepath.Join(pf86, "none"), true
		case "ProgramFiles(x86)":
			return pf86, true
		}
		return "", false
	}}

	tc, err := l.Locate("x64", "x64")
	require.NoError(t, err)
	assert.Equal(t, root, tc.Root)
	assert.Equal(t, "16", tc.Version)
}

func TestLocateNotFound(t *testing.T) {
	l := &Locator{Finder: staticFinder{}, Getenv: emptyEnv(t)}
	_, err := l.Locate("x64", "x64")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocateWindowsSDK(t *testing.T) {
	root := modernInstall(t, "14.29.30133")
	kit := t.TempDir()
	mkdirs(t,
		filepath.Join(kit, "Include", "10.0.17763.0"),
		filepath.Join(kit, "Include", "10.0.19041.0"),
		filepath.Join(kit, "Include", "wdf"),
	)
	l := &Locator{
		Finder: staticFinder{installs: []Installation{{Version: "16", Root: root}}, kit10: kit},
		Getenv: emptyEnv(t),
	}

	tc, err := l.Locate("x64", "x64")
	require.NoError(t, err)
	inc := filepath.Join(kit, "Include", "10.0.19041.0")
	lib := filepath.Join(kit, "Lib", "10.0.19041.0")
	assert.Contains(t, tc.IncludeDirs, filepath.Join(inc, "ucrt"))
	assert.Contains(t, tc.IncludeDirs, filepath.Join(inc, "um"))
	assert.Contains(t, tc.IncludeDirs, filepath.Join(inc, "shared"))
	assert.Contains(t, tc.LibDirs, filepath.Join(lib, "ucrt", "x64"))
	assert.Contains(t, tc.LibDirs, filepath.Join(lib, "um", "x64"))

	env := tc.Env("C:\\Windows")
	assert.Contains(t, env["INCLUDE"], filepath.Join(inc, "ucrt"))
	assert.Equal(t, tc.BinDir, filepath.SplitList(env["PATH"])[0])
}

func TestArch(t *testing.T) {
	for in, want := range map[string]string{
		"x86_64":   "x64",
		"i686":     "x86",
		"aarch64":  "arm64",
		"thumbv7a": "arm",
		"armv7":    "arm",
	} {
		got, ok := Arch(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := Arch("riscv64gc")
	assert.False(t, ok)
}

func TestCompareVersions(t *testing.T) {
	assert.Negative(t, compareVersions("14.9.1", "14.10.0"))
	assert.Positive(t, compareVersions("10.0.19041.0", "10.0.17763.0"))
	assert.Zero(t, compareVersions("1.2", "1.2"))
}

func TestMajorVersion(t *testing.T) {
	for in, want := range map[string]string{
		"17.9.34607.119":                 "17",
		"VisualStudio/16.11.5+31729.503": "16",
		"14.0":                           "14",
		"15":                             "15",
		"":                               "",
		"preview":                        "",
	} {
		assert.Equal(t, want, majorVersion(in), in)
	}
}

func TestDefaultLocator(t *testing.T) {
	getenv := emptyEnv(t)
	l := DefaultLocator(getenv)
	assert.Equal(t, NewFinder() == nil, l.Finder == nil)

	want, _ := getenv("ProgramFiles")
	got, ok := l.Getenv("ProgramFiles")
	assert.True(t, ok)
	assert.Equal(t, want, got)
}
