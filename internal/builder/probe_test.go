package builder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeCachesResult(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu", reject: []string{"-fno"}})
	s := testSession(t, stubBuild(st))
	tool := &Tool{Path: filepath.Join(st.dir, "cc"), Family: GnuLike}
	ctx := context.Background()

	ok, err := s.probe(ctx, tool, "-fyes")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.probe(ctx, tool, "-fno")
	require.NoError(t, err)
	assert.False(t, ok)

	spawns := s.spawns.Load()
	calls := len(st.calls(t, "cc"))
	assert.EqualValues(t, 2, spawns)

	for range 3 {
		ok, err = s.probe(ctx, tool, "-fyes")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.probe(ctx, tool, "-fno")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, spawns, s.spawns.Load())
	assert.Len(t, st.calls(t, "cc"), calls)

	// a different tool identity is probed separately
	other := &Tool{Path: tool.Path, Family: GnuLike, Args: []string{"-m32"}}
	_, err = s.probe(ctx, other, "-fyes")
	require.NoError(t, err)
	assert.Equal(t, spawns+1, s.spawns.Load())
}

func TestProbeConcurrentCallersShareOneProbe(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu"})
	s := testSession(t, stubBuild(st))
	tool := &Tool{Path: filepath.Join(st.dir, "cc"), Family: GnuLike}

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			ok, err := s.probe(context.Background(), tool, "-fshared-flag")
			assert.NoError(t, err)
			assert.True(t, ok)
		})
	}
	wg.Wait()
	assert.EqualValues(t, 1, s.spawns.Load())
}

func TestProbeFlagsDuplicates(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "gnu", reject: []string{"-fbad"}})
	b := stubBuild(st).
		FlagIfSupported("-fgood").
		FlagIfSupported("-fbad").
		FlagIfSupported("-fgood")
	s := testSession(t, b)
	tool := &Tool{Path: filepath.Join(st.dir, "cc"), Family: GnuLike}

	accepted, outcomes, err := s.probeFlags(context.Background(), tool)
	require.NoError(t, err)
	assert.Equal(t, []string{"-fgood", "-fgood"}, accepted)
	assert.Equal(t, map[string]bool{"-fgood": true, "-fbad": false}, outcomes)
	assert.EqualValues(t, 2, s.spawns.Load())
}

func TestProbeClangTreatsUnknownWarningsAsErrors(t *testing.T) {
	st := newStubToolchain(t, stubOptions{family: "clang"})
	s := testSession(t, stubBuild(st))
	tool := &Tool{Path: filepath.Join(st.dir, "cc"), Family: ClangLike}

	_, err := s.probe(context.Background(), tool, "-Wsomething")
	require.NoError(t, err)

	calls := st.calls(t, "cc")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-Werror=unknown-warning-option")
	assert.Contains(t, calls[0], "-Wsomething")
}

func TestProbeSpawnFailure(t *testing.T) {
	s := testSession(t, hermetic(New()))
	tool := &Tool{Path: filepath.Join(t.TempDir(), "missing-cc"), Family: GnuLike}

	_, err := s.probe(context.Background(), tool, "-fflag")
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ProbeCompileFailed, kind)
	assert.True(t, errors.Is(err, ErrIOFailure), "the spawn failure is the cause")
}
