package builder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/qobs-build/ccbuild/internal/msg"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Invocation is one planned process: a tool and the arguments appended to
// its base arguments.
type Invocation struct {
	Tool *Tool
	Args []string
}

// Argv returns the full command line.
func (inv Invocation) Argv() []string {
	return inv.Tool.argv(inv.Args...)
}

// ObjectJob compiles one source file.
type ObjectJob struct {
	Invocation
	Source string
	Object string
}

// Plan is everything Compile would run, in order.
type Plan struct {
	Name    string
	OutDir  string
	Library string
	Tool    *Tool
	Objects []ObjectJob
	Archive Invocation
	// Probed holds the outcome of every FlagIfSupported probe.
	Probed map[string]bool

	// The settings the command lines were built from, for generators that
	// describe the build to another tool.
	Target    Triple
	Includes  []string
	Defines   []Define
	OptLevel  string
	Debug     bool
	StaticCRT bool
}

// Result describes a successful Compile.
type Result struct {
	Library string
	Objects []string
	Tool    *Tool
	Probed  map[string]bool
}

// Plan resolves the tools and flags for a library called name and returns
// the command lines without compiling. Flag probes are still run.
func (b *Build) Plan(ctx context.Context, name string) (*Plan, error) {
	s := newSession(b.snapshot())
	defer s.close()
	return s.plan(ctx, name)
}

// Compile compiles every source file and archives the objects into a static
// library called name in the output directory.
//
// Compiles run concurrently. After the first failure no new compile is
// started, but compilers already running are waited for. The archiver only
// runs if every compile succeeded.
func (b *Build) Compile(ctx context.Context, name string) (*Result, error) {
	s := newSession(b.snapshot())
	defer s.close()

	p, err := s.plan(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.compileObjects(ctx, p); err != nil {
		return nil, err
	}
	if err := s.archive(p); err != nil {
		return nil, err
	}
	if s.b.cargoMetadata {
		s.printMetadata(p)
	}

	objects := make([]string, len(p.Objects))
	for i, job := range p.Objects {
		objects[i] = job.Object
	}
	return &Result{
		Library: p.Library,
		Objects: objects,
		Tool:    p.Tool.clone(),
		Probed:  p.Probed,
	}, nil
}

// Expand runs every source file through the preprocessor and returns the
// outputs concatenated in source order.
func (b *Build) Expand(ctx context.Context) ([]byte, error) {
	s := newSession(b.snapshot())
	defer s.close()

	t, err := s.compiler(ctx)
	if err != nil {
		return nil, err
	}
	accepted, _, err := s.probeFlags(ctx, t)
	if err != nil {
		return nil, err
	}
	base := s.flags(t, accepted)

	outputs := make([][]byte, len(s.b.files))
	indices := make([]int, len(s.b.files))
	for i := range indices {
		indices[i] = i
	}
	err = runJobs(ctx, indices, s.jobs(), func(i int) error {
		src := s.b.files[i]
		cmd := t.Command(compileArgs(base, expandArgs(t, src)...)...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := s.run(cmd); err != nil {
			return invocationError(err, stderr.Bytes(), "file", src, "failed to preprocess %s", src)
		}
		outputs[i] = stdout.Bytes()
		return nil
	})
	if err != nil {
		return nil, asBuildError(err, "preprocessing interrupted")
	}
	return bytes.Join(outputs, nil), nil
}

func (s *session) plan(ctx context.Context, name string) (*Plan, error) {
	if strings.HasPrefix(name, "lib") && strings.HasSuffix(name, ".a") {
		name = strings.TrimSuffix(strings.TrimPrefix(name, "lib"), ".a")
	}
	if name == "" {
		return nil, newError(IOFailure, nil, "empty library name")
	}
	outDir, err := s.outDir()
	if err != nil {
		return nil, err
	}

	t, err := s.compiler(ctx)
	if err != nil {
		return nil, err
	}
	accepted, probed, err := s.probeFlags(ctx, t)
	if err != nil {
		return nil, err
	}
	base := s.flags(t, accepted)

	p := &Plan{
		Name:    name,
		OutDir:  outDir,
		Library: filepath.Join(outDir, s.libraryName(t, name)),
		Tool:    t,
		Probed:  probed,

		Target:    s.target,
		Includes:  slices.Clone(s.b.includes),
		Defines:   slices.Clone(s.b.defines),
		OptLevel:  s.optLevel(),
		Debug:     s.debug(),
		StaticCRT: boolOr(s.b.staticCRT, false),
	}

	ext := objectExt(t)
	seen := make(map[string]bool, len(s.b.files))
	objects := make([]string, 0, len(s.b.files))
	for _, src := range s.b.files {
		obj := objectPath(outDir, src, ext, seen)
		objects = append(objects, obj)
		p.Objects = append(p.Objects, ObjectJob{
			Invocation: Invocation{Tool: t, Args: compileArgs(base, objectArgs(t, src, obj)...)},
			Source:     src,
			Object:     obj,
		})
	}

	ar, err := s.archiver(t)
	if err != nil {
		return nil, err
	}
	arFlags := s.envFlags(kindAr)
	var arArgs []string
	if ar.Family == Msvc {
		arArgs = append(arArgs, "/nologo", "/OUT:"+p.Library)
		arArgs = append(arArgs, objects...)
		arArgs = append(arArgs, arFlags...)
	} else {
		arArgs = append(arArgs, arFlags...)
		arArgs = append(arArgs, "crs", p.Library)
		arArgs = append(arArgs, objects...)
	}
	p.Archive = Invocation{Tool: ar, Args: arArgs}
	return p, nil
}

func (s *session) libraryName(t *Tool, name string) string {
	if t.Family == Msvc || s.target.IsMSVC() {
		return name + ".lib"
	}
	return "lib" + name + ".a"
}

func objectExt(t *Tool) string {
	if t.Family == Msvc {
		return ".obj"
	}
	return ".o"
}

// objectPath places the object of src under outDir, mirroring relative
// source paths. Sources outside the working tree go to a directory named
// after a hash of their parent so that equal base names do not collide.
func objectPath(outDir, src, ext string, seen map[string]bool) string {
	rel := filepath.Clean(src)
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" ||
		rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		sum := sha256.Sum256([]byte(filepath.Dir(rel)))
		rel = filepath.Join(hex.EncodeToString(sum[:8]), filepath.Base(rel))
	}

	obj := filepath.Join(outDir, strings.TrimSuffix(rel, filepath.Ext(rel))+ext)
	if seen[obj] {
		// a.c and a.cpp in one directory
		obj = filepath.Join(outDir, rel+ext)
	}
	for n := 1; seen[obj]; n++ {
		// the same source listed more than once
		obj = filepath.Join(outDir, rel+"."+strconv.Itoa(n)+ext)
	}
	seen[obj] = true
	return obj
}

func (s *session) compileObjects(ctx context.Context, p *Plan) error {
	var pb *msg.ProgressBar
	if s.b.progress != nil {
		pb = msg.NewProgressBar(len(p.Objects), "compiling "+p.Name, s.b.progress)
	}

	err := runJobs(ctx, p.Objects, s.jobs(), func(job ObjectJob) error {
		if err := s.compileObject(job); err != nil {
			return err
		}
		pb.Add(1)
		return nil
	})
	if err != nil {
		return asBuildError(err, "compilation interrupted")
	}
	pb.Finish()
	return nil
}

func (s *session) compileObject(job ObjectJob) error {
	if err := os.MkdirAll(filepath.Dir(job.Object), 0o755); err != nil {
		return newError(IOFailure, zerr.With(err, "file", job.Object), "failed to create object directory")
	}
	if s.b.verbose {
		msg.Info("CC %s", job.Source)
	}

	cmd := job.Tool.Command(job.Args...)
	out, err := s.output(cmd)
	if err != nil {
		return invocationError(err, out, "file", job.Source, "failed to compile %s", job.Source)
	}
	if s.b.verbose && len(out) > 0 {
		msg.Block(msg.Indent(string(out), "    "))
	}
	return nil
}

func (s *session) archive(p *Plan) error {
	if err := os.Remove(p.Library); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newError(IOFailure, zerr.With(err, "file", p.Library), "cannot remove stale library")
	}
	if s.b.verbose {
		msg.Info("AR %s", p.Library)
	}

	cmd := p.Archive.Tool.Command(p.Archive.Args...)
	out, err := s.output(cmd)
	if err != nil {
		return invocationError(err, out, "tool", p.Archive.Tool.Path, "failed to archive %s", p.Library)
	}
	return nil
}

// cppStdlib returns the C++ runtime library to link, or "" for none.
func (s *session) cppStdlib() string {
	if s.b.cppLinkStdlib != nil {
		return *s.b.cppLinkStdlib
	}
	t := s.target
	switch {
	case t.IsMSVC(), t.OS == "emscripten", t.OS == "wasi", t.IsBareMetal():
		return ""
	case t.IsApple(), t.OS == "freebsd", t.OS == "openbsd":
		return "c++"
	case t.OS == "android":
		return "c++_shared"
	}
	return "stdc++"
}

func (s *session) printMetadata(p *Plan) {
	w := s.b.stdout
	fmt.Fprintf(w, "cargo:rustc-link-lib=static=%s\n", p.Name)
	fmt.Fprintf(w, "cargo:rustc-link-search=native=%s\n", p.OutDir)
	if s.b.cpp {
		if lib := s.cppStdlib(); lib != "" {
			fmt.Fprintf(w, "cargo:rustc-link-lib=%s\n", lib)
		}
	}
}

// runJobs runs jobfunc over jobs with at most limit running at once. Once a
// job fails, jobs that have not started are skipped; started ones finish.
func runJobs[T any](ctx context.Context, jobs []T, limit int, jobfunc func(job T) error) error {
	if len(jobs) == 0 {
		return nil
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(limit, 1))

	for _, job := range jobs {
		if egctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if egctx.Err() != nil {
				return nil
			}
			return jobfunc(job)
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// invocationError classifies a failed process: a non-zero exit carries the
// captured output, anything else means the process never ran.
func invocationError(err error, output []byte, key, value, format string, a ...any) error {
	cause := zerr.With(err, key, value)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e := newError(ToolInvocationFailed, cause, format, a...)
		e.ExitCode = exitErr.ExitCode()
		e.Output = output
		return e
	}
	return newError(IOFailure, cause, format, a...)
}

// asBuildError passes *Error through and wraps anything else, such as a
// cancelled context, as an IOFailure.
func asBuildError(err error, message string) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(IOFailure, err, "%s", message)
}
