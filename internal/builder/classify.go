package builder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/qobs-build/ccbuild/internal/msg"
	"go.trai.ch/zerr"
)

const detectSourceName = "detect_compiler_family.c"

// clang-cl defines both _MSC_VER and __clang__ and takes cl.exe flags, so
// _MSC_VER is tested first.
const detectSource = `#if defined(_MSC_VER)
ccbuild_family=msvc
#elif defined(__clang__)
ccbuild_family=clang
#elif defined(__GNUC__)
ccbuild_family=gnu
#endif
`

const familyMarker = "ccbuild_family="

// classify preprocesses a detection source with t and reads the family off
// the output. A compiler that cannot be classified is treated as GnuLike.
func (s *session) classify(ctx context.Context, t *Tool) (Family, error) {
	key := t.identity()
	s.mu.Lock()
	f, ok := s.families[key]
	s.mu.Unlock()
	if ok {
		return f, nil
	}

	if err := ctx.Err(); err != nil {
		return 0, newError(IOFailure, err, "compiler detection interrupted")
	}

	dir, err := s.scratchDir()
	if err != nil {
		return 0, err
	}
	src := filepath.Join(dir, detectSourceName)
	if err := os.WriteFile(src, []byte(detectSource), 0o644); err != nil {
		return 0, newError(IOFailure, zerr.With(err, "file", src), "cannot write compiler detection source")
	}

	cmd := t.Command("-E", src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	family := GnuLike
	err = s.run(cmd)
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		msg.Warn("compiler family detection failed for %s (exit status %d), assuming gnu",
			t.Path, exitErr.ExitCode())
	case err != nil:
		return 0, newError(ToolNotFound, zerr.With(err, "tool", t.Path), "cannot run %s", t.Path)
	default:
		if detected, ok := parseFamily(stdout.Bytes()); ok {
			family = detected
		} else {
			msg.Warn("could not detect the family of %s, assuming gnu", t.Path)
		}
	}

	s.mu.Lock()
	s.families[key] = family
	s.mu.Unlock()
	return family, nil
}

func parseFamily(out []byte) (Family, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		value, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), familyMarker)
		if !ok {
			continue
		}
		switch strings.TrimSpace(value) {
		case "msvc":
			return Msvc, true
		case "clang":
			return ClangLike, true
		case "gnu":
			return GnuLike, true
		}
	}
	return GnuLike, false
}
