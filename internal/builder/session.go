package builder

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/qobs-build/ccbuild/internal/builder/msvc"
	"golang.org/x/sync/singleflight"
)

// session is the state of one terminal action. It is created from a
// snapshot of the Build and discarded when the action returns.
type session struct {
	b      *Build
	target Triple
	host   Triple
	// tripleErr is set when the target or host could not be parsed.
	tripleErr error

	scratchOnce sync.Once
	scratch     string
	scratchErr  error
	scratchTemp bool

	mu       sync.Mutex
	families map[string]Family
	probes   map[string]bool
	flights  singleflight.Group

	// tool is the resolved compiler, toolchain the located Visual Studio
	// installation it came from, if any. Written once before workers start.
	tool      *Tool
	toolchain *msvc.Toolchain

	spawns atomic.Int64
}

func newSession(b *Build) *session {
	target, host, err := resolveTriples(b)
	return &session{
		b:         b,
		target:    target,
		host:      host,
		tripleErr: err,
		families:  make(map[string]Family),
		probes:    make(map[string]bool),
	}
}

// close removes the scratch directory if it was a temporary one.
func (s *session) close() {
	if s.scratchTemp {
		os.RemoveAll(s.scratch)
	}
}

// scratchDir returns OutDir/.ccbuild, or a temporary directory when no
// output directory is configured.
func (s *session) scratchDir() (string, error) {
	s.scratchOnce.Do(func() {
		out, err := s.outDir()
		if err != nil {
			s.scratch, s.scratchErr = os.MkdirTemp("", "ccbuild-")
			s.scratchTemp = s.scratchErr == nil
			return
		}
		s.scratch = filepath.Join(out, ".ccbuild")
		s.scratchErr = os.MkdirAll(s.scratch, 0o755)
	})
	if s.scratchErr != nil {
		return "", newError(IOFailure, s.scratchErr, "cannot create scratch directory")
	}
	return s.scratch, nil
}

// run starts cmd and waits for it.
func (s *session) run(cmd *exec.Cmd) error {
	s.spawns.Add(1)
	return cmd.Run()
}

// output runs cmd and returns its combined stdout and stderr.
func (s *session) output(cmd *exec.Cmd) ([]byte, error) {
	s.spawns.Add(1)
	return cmd.CombinedOutput()
}
