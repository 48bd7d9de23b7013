package builder

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/qobs-build/ccbuild/internal/msg"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// probeFlags probes every flag registered with FlagIfSupported and returns
// the accepted ones in registration order together with every outcome.
func (s *session) probeFlags(ctx context.Context, t *Tool) ([]string, map[string]bool, error) {
	flags := s.b.flagsSupported
	if len(flags) == 0 {
		return nil, map[string]bool{}, nil
	}

	results := make([]bool, len(flags))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.jobs())
	for i, flag := range flags {
		eg.Go(func() error {
			ok, err := s.probe(egctx, t, flag)
			results[i] = ok
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	var accepted []string
	outcomes := make(map[string]bool, len(flags))
	for i, flag := range flags {
		if _, seen := outcomes[flag]; !seen && !results[i] {
			msg.Warn("%s does not support %s, ignoring it", t.Path, flag)
		}
		outcomes[flag] = results[i]
		if results[i] {
			accepted = append(accepted, flag)
		}
	}
	return accepted, outcomes, nil
}

// probe reports whether t accepts flag. The answer is computed at most once
// per session; concurrent callers wait for the same probe.
func (s *session) probe(ctx context.Context, t *Tool, flag string) (bool, error) {
	key := t.identity() + "\x00" + flag

	s.mu.Lock()
	ok, cached := s.probes[key]
	s.mu.Unlock()
	if cached {
		return ok, nil
	}

	v, err, _ := s.flights.Do(key, func() (any, error) {
		s.mu.Lock()
		ok, cached := s.probes[key]
		s.mu.Unlock()
		if cached {
			return ok, nil
		}

		ok, err := s.runProbe(ctx, t, flag)
		if err != nil {
			return false, err
		}
		s.mu.Lock()
		s.probes[key] = ok
		s.mu.Unlock()
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *session) probeSource() (ext, content string) {
	switch {
	case s.b.cuda:
		return ".cu", "int main() { return 0; }\n"
	case s.b.cpp:
		return ".cpp", "int main() { return 0; }\n"
	}
	return ".c", "int main(void) { return 0; }\n"
}

// runProbe compiles a trivial source with flag added to the shared flags.
// Diagnostics are discarded.
func (s *session) runProbe(ctx context.Context, t *Tool, flag string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(ProbeCompileFailed, err, "probe of %s interrupted", flag)
	}

	dir, err := s.scratchDir()
	if err != nil {
		return false, newError(ProbeCompileFailed, err, "cannot probe %s", flag)
	}
	ext, content := s.probeSource()
	name := "flag_check-" + uuid.NewString()
	src := filepath.Join(dir, name+ext)
	obj := filepath.Join(dir, name+objectExt(t))
	defer os.Remove(src)
	defer os.Remove(obj)

	if err := os.WriteFile(src, []byte(content), 0o644); err != nil {
		cause := newError(IOFailure, zerr.With(err, "file", src), "cannot write probe source")
		return false, newError(ProbeCompileFailed, cause, "cannot probe %s", flag)
	}

	args := s.flags(t, nil)
	if t.Family == ClangLike {
		args = append(args, "-Werror=unknown-warning-option")
	}
	args = append(args, flag)
	args = append(args, objectArgs(t, src, obj)...)

	// nil Stdout and Stderr discard the output
	cmd := t.Command(args...)
	err = s.run(cmd)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr):
		return false, nil
	default:
		cause := newError(IOFailure, zerr.With(zerr.With(err, "tool", t.Path), "flag", flag), "cannot run %s", t.Path)
		return false, newError(ProbeCompileFailed, cause, "cannot probe %s", flag)
	}
}
