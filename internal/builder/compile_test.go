package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMembers(t *testing.T, lib string) []string {
	t.Helper()
	data, err := os.ReadFile(lib)
	require.NoError(t, err)
	members := strings.Fields(string(data))
	slices.Sort(members)
	return members
}

func TestCompileSingleFile(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	srcDir, outDir := t.TempDir(), t.TempDir()
	files := writeSources(t, srcDir, "a.c")

	var stdout strings.Builder
	res, err := stubBuild(st).
		Files(files...).
		OutDir(outDir).
		Stdout(&stdout).
		Compile(context.Background(), "foo")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "libfoo.a"), res.Library)
	require.Len(t, res.Objects, 1)
	assert.FileExists(t, res.Objects[0])
	assert.Equal(t, ".o", filepath.Ext(res.Objects[0]))
	assert.Equal(t, GnuLike, res.Tool.Family)

	assert.Equal(t, []string{filepath.Base(res.Objects[0])}, readMembers(t, res.Library))
	assert.Contains(t, stdout.String(), "cargo:rustc-link-lib=static=foo\n")
	assert.Contains(t, stdout.String(), "cargo:rustc-link-search=native="+outDir+"\n")
	assert.NotContains(t, stdout.String(), "stdc++")

	// detection and probe sources go to the scratch directory
	_, err = os.Stat(filepath.Join(outDir, ".ccbuild"))
	assert.NoError(t, err)
}

func TestCompileArchiveMembershipIndependentOfJobs(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	srcDir := t.TempDir()

	var names []string
	for i := range 8 {
		names = append(names, fmt.Sprintf("src/f%d.c", i))
	}
	files := writeSources(t, srcDir, names...)
	t.Chdir(srcDir)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(srcDir, f)
		require.NoError(t, err)
		rel = append(rel, r)
	}

	var members [][]string
	for _, jobs := range []int{1, 8} {
		outDir := t.TempDir()
		res, err := stubBuild(st).
			Files(rel...).
			OutDir(outDir).
			Jobs(jobs).
			CargoMetadata(false).
			Compile(context.Background(), "many")
		require.NoError(t, err)

		got := readMembers(t, res.Library)
		assert.Len(t, got, len(files))
		for _, obj := range res.Objects {
			assert.True(t, strings.HasPrefix(obj, filepath.Join(outDir, "src")+string(filepath.Separator)), obj)
		}
		members = append(members, got)
	}
	assert.Equal(t, members[0], members[1])
}

func TestCompileFailFast(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu", failing: []string{"bad.c"}})
	files := writeSources(t, t.TempDir(), "a.c", "b.c", "bad.c", "d.c")

	_, err := stubBuild(st).
		Files(files...).
		OutDir(t.TempDir()).
		Jobs(1).
		Compile(context.Background(), "broken")
	require.Error(t, err)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ToolInvocationFailed, e.Kind)
	assert.Equal(t, 1, e.ExitCode)
	assert.Contains(t, string(e.Output), "bad.c:1:1: error")
	assert.Contains(t, e.Error(), "bad.c")
	assert.True(t, errors.Is(err, ErrToolInvocationFailed))

	assert.Empty(t, st.calls(t, "ar"), "archiver must not run")
	// d.c comes after the failure with one worker
	var compiled []string
	for _, argv := range st.compileCalls(t, "cc") {
		compiled = append(compiled, filepath.Base(argv[len(argv)-3]))
	}
	assert.Equal(t, []string{"a.c", "b.c", "bad.c"}, compiled)
	assert.NotContains(t, compiled, "d.c")
}

func TestCompileOmitsRejectedProbedFlag(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu", reject: []string{"-fbogus"}})
	files := writeSources(t, t.TempDir(), "a.c")

	res, err := stubBuild(st).
		Files(files...).
		OutDir(t.TempDir()).
		FlagIfSupported("-fbogus").
		FlagIfSupported("-fstack-protector").
		Compile(context.Background(), "probed")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"-fbogus": false, "-fstack-protector": true}, res.Probed)

	compiles := st.compileCalls(t, "cc")
	require.Len(t, compiles, 1)
	assert.NotContains(t, compiles[0], "-fbogus")
	assert.Contains(t, compiles[0], "-fstack-protector")
}

func TestCompileFlagOrder(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	files := writeSources(t, t.TempDir(), "a.c")

	b := stubBuild(st).
		Files(files...).
		OutDir(t.TempDir()).
		Include("inc").
		Define("FOO", "1").
		Flag("-fuser").
		FlagIfSupported("-fprobed")
	b.Env("CFLAGS", "-fenv")

	_, err := b.Compile(context.Background(), "order")
	require.NoError(t, err)

	compiles := st.compileCalls(t, "cc")
	require.Len(t, compiles, 1)
	argv := compiles[0]
	idx := func(s string) int {
		i := slices.Index(argv, s)
		require.GreaterOrEqual(t, i, 0, s)
		return i
	}
	assert.Less(t, idx("-O0"), idx("-Iinc"))
	assert.Less(t, idx("-Iinc"), idx("-DFOO=1"))
	assert.Less(t, idx("-DFOO=1"), idx("-fuser"))
	assert.Less(t, idx("-fuser"), idx("-fprobed"))
	assert.Less(t, idx("-fprobed"), idx("-fenv"))
	assert.Less(t, idx("-fenv"), idx("-c"))

	// CFLAGS turns the default warnings off
	assert.NotContains(t, argv, "-Wall")
}

func TestCompileIsolatedFromLaterMutation(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	files := writeSources(t, t.TempDir(), "a.c")

	b := stubBuild(st).Files(files...).OutDir(t.TempDir())
	p, err := b.Plan(context.Background(), "iso")
	require.NoError(t, err)

	b.Flag("-flate")
	for _, job := range p.Objects {
		assert.NotContains(t, job.Args, "-flate")
	}
}

func TestCompileNeedsOutDir(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	files := writeSources(t, t.TempDir(), "a.c")

	_, err := stubBuild(st).Files(files...).Compile(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.Empty(t, st.calls(t, "cc"))
}

func TestCompileCancelled(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	files := writeSources(t, t.TempDir(), "a.c", "b.c")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := stubBuild(st).Files(files...).OutDir(t.TempDir()).Compile(ctx, "x")
	require.Error(t, err)
	assert.Empty(t, st.calls(t, "ar"))
}

func TestCompileCppMetadata(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	files := writeSources(t, t.TempDir(), "a.cpp")

	var stdout strings.Builder
	_, err := stubBuild(st).
		Files(files...).
		OutDir(t.TempDir()).
		Cpp(true).
		Target("x86_64-unknown-linux-gnu").
		Host("x86_64-unknown-linux-gnu").
		Stdout(&stdout).
		Compile(context.Background(), "cxx")
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "cargo:rustc-link-lib=stdc++\n")
	assert.Len(t, st.compileCalls(t, "c++"), 1)
	assert.Empty(t, st.calls(t, "cc"))
}

func TestExpand(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	files := writeSources(t, t.TempDir(), "a.c", "b.c", "c.c")

	out, err := stubBuild(st).Files(files...).Jobs(3).Expand(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "expanded a.c\nexpanded b.c\nexpanded c.c\n", string(out))
	assert.Empty(t, st.calls(t, "ar"))
}

func TestExpandFailure(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu", failing: []string{"bad.c"}})
	files := writeSources(t, t.TempDir(), "bad.c")

	_, err := stubBuild(st).Files(files...).Expand(context.Background())
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ToolInvocationFailed, kind)
}

func TestArchiverFlags(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	files := writeSources(t, t.TempDir(), "a.c")

	b := stubBuild(st).Files(files...).OutDir(t.TempDir())
	b.Env("ARFLAGS", "-D")
	p, err := b.Plan(context.Background(), "arf")
	require.NoError(t, err)
	assert.Equal(t, []string{"-D", "crs", p.Library, p.Objects[0].Object}, p.Archive.Args)
}

func TestObjectPath(t *testing.T) {
	out := filepath.FromSlash("/out")
	seen := map[string]bool{}

	assert.Equal(t, filepath.Join(out, "src", "a.o"), objectPath(out, "src/a.c", ".o", seen))
	assert.Equal(t, filepath.Join(out, "src", "a.cpp.o"), objectPath(out, "src/a.cpp", ".o", seen))

	outside := objectPath(out, "../lib/b.c", ".o", seen)
	assert.Equal(t, "b.o", filepath.Base(outside))
	assert.True(t, strings.HasPrefix(outside, out+string(filepath.Separator)))
	assert.NotContains(t, outside, "..")

	abs := objectPath(out, filepath.Join(t.TempDir(), "c.c"), ".obj", seen)
	assert.Equal(t, "c.obj", filepath.Base(abs))
	assert.True(t, strings.HasPrefix(abs, out+string(filepath.Separator)))
}

func TestObjectPathRepeatedSources(t *testing.T) {
	out := t.TempDir()
	seen := map[string]bool{}
	var objects []string
	for _, src := range []string{"a.c", "a.cpp", "a.c", "a.c"} {
		objects = append(objects, objectPath(out, src, ".o", seen))
	}
	assert.Equal(t, []string{
		filepath.Join(out, "a.o"),
		filepath.Join(out, "a.cpp.o"),
		filepath.Join(out, "a.c.o"),
		filepath.Join(out, "a.c.1.o"),
	}, objects)
}

func TestCompileSameSourceTwice(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	files := writeSources(t, t.TempDir(), "a.c")

	res, err := stubBuild(st).
		Files(files[0], files[0], files[0]).
		OutDir(t.TempDir()).
		Compile(context.Background(), "dup")
	require.NoError(t, err)
	require.Len(t, res.Objects, 3)
	assert.Len(t, slices.Compact(slices.Sorted(slices.Values(res.Objects))), 3)

	ar := st.calls(t, "ar")
	require.Len(t, ar, 1)
	assert.Equal(t, res.Objects, ar[0][2:])
}

func TestLibraryName(t *testing.T) {
	s := &session{target: Triple{Raw: "x86_64-pc-windows-msvc", OS: "windows", Env: "msvc"}}
	assert.Equal(t, "foo.lib", s.libraryName(&Tool{Family: Msvc}, "foo"))

	s = &session{target: Triple{Raw: "x86_64-unknown-linux-gnu", OS: "linux", Env: "gnu"}}
	assert.Equal(t, "libfoo.a", s.libraryName(&Tool{Family: GnuLike}, "foo"))
}
