package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qobs-build/ccbuild/internal/builder"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Env is the environment manifest expressions are evaluated in.
type Env struct {
	Target     string            `expr:"target"`
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	TargetEnv  string            `expr:"target_env"`
	Host       string            `expr:"host"`
	Profile    string            `expr:"profile"`
	Environ    map[string]string `expr:"environ"`
	basedir    string
}

// NewEnv builds an expression environment for a package in basedir. Empty
// triples fall back to $TARGET and $HOST, then to the running host.
func NewEnv(basedir, target, host, profile string) (Env, error) {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			environ[k] = v
		}
	}

	if host == "" {
		host = environ["HOST"]
	}
	if host == "" {
		host = builder.HostTriple()
	}
	if target == "" {
		target = environ["TARGET"]
	}
	if target == "" {
		target = host
	}

	t, err := builder.ParseTriple(target)
	if err != nil {
		return Env{}, err
	}
	if _, err := builder.ParseTriple(host); err != nil {
		return Env{}, err
	}

	return Env{
		Target:     t.Raw,
		TargetOS:   t.OS,
		TargetArch: t.Arch,
		TargetEnv:  t.Env,
		Host:       host,
		Profile:    profile,
		Environ:    environ,
		basedir:    basedir,
	}, nil
}

// In returns a copy of env whose file helpers operate on dir.
func (env Env) In(dir string) Env {
	env.basedir = dir
	return env
}

// Dir is the directory the file helpers operate on.
func (env Env) Dir() string { return env.basedir }

func (env Env) resolve(path string) (string, error) {
	fullPath := filepath.Join(env.basedir, path)
	rel, err := filepath.Rel(env.basedir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside of package directory %q", path, env.basedir)
	}
	return fullPath, nil
}

// Patch applies a diff-match-patch patch to a file in the package
// directory. It reports whether any hunk applied.
func (env Env) Patch(path, patchText string) (bool, error) {
	fullPath, err := env.resolve(path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return false, err
	}

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return false, err
	}
	if len(patches) == 0 {
		return false, errors.New("empty patch")
	}

	patched, results := dmp.PatchApply(patches, string(data))
	for _, ok := range results {
		if ok {
			return true, os.WriteFile(fullPath, []byte(patched), 0o644)
		}
	}
	return false, nil // nothing was applied, nothing to write
}

func (env Env) ReadFile(path string) (string, error) {
	fullPath, err := env.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
