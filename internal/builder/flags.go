package builder

import (
	"slices"
	"strings"
)

// flagWriter collects arguments. For nvcc, flags meant for the host compiler
// are passed through -Xcompiler.
type flagWriter struct {
	args []string
	cuda bool
}

func (w *flagWriter) add(args ...string) {
	w.args = append(w.args, args...)
}

func (w *flagWriter) host(flag string) {
	if w.cuda {
		w.args = append(w.args, "-Xcompiler", flag)
		return
	}
	w.args = append(w.args, flag)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (s *session) compilerKind() toolKind {
	switch {
	case s.b.cuda:
		return kindCuda
	case s.b.cpp:
		return kindCxx
	}
	return kindC
}

// flags returns the arguments shared by every compile of t, in order: family
// defaults, include paths, defines, user flags, accepted probed flags and the
// flags variable from the environment. The result depends only on the
// session configuration, so equal configurations give equal command lines.
func (s *session) flags(t *Tool, probed []string) []string {
	w := &flagWriter{cuda: t.Cuda}
	envFlags := s.envFlags(s.compilerKind())

	if !s.noDefaults() {
		if t.Family == Msvc {
			s.msvcDefaults(w)
		} else {
			s.gnuDefaults(w, t, len(envFlags) == 0)
		}
	}

	for _, dir := range s.b.includes {
		if t.Family == Msvc {
			w.add("/I" + dir)
		} else {
			w.add("-I" + dir)
		}
	}

	for _, d := range s.b.defines {
		def := d.Name
		if d.Value != nil {
			def += "=" + *d.Value
		}
		if t.Family == Msvc {
			w.add("/D" + def)
		} else {
			w.add("-D" + def)
		}
	}

	w.add(s.b.flags...)
	w.add(probed...)
	w.add(envFlags...)
	return w.args
}

func (s *session) gnuDefaults(w *flagWriter, t *Tool, warnDefault bool) {
	switch opt := s.optLevel(); opt {
	case "z":
		if t.Family == ClangLike {
			w.add("-Oz")
		} else {
			w.add("-Os")
		}
	default:
		w.add("-O" + opt)
	}

	w.host("-ffunction-sections")
	w.host("-fdata-sections")

	if s.debug() {
		w.add("-g")
	}

	pic := !s.target.IsWindows() && !s.target.IsBareMetal()
	if boolOr(s.b.pic, pic) {
		w.host("-fPIC")
		if !s.b.usePLT && s.target.OS == "linux" {
			w.host("-fno-plt")
		}
	}

	s.archFlags(w, t)

	if t.Family == ClangLike && s.b.cpp && s.b.cppSetStdlib != nil && *s.b.cppSetStdlib != "" {
		w.add("-stdlib=lib" + *s.b.cppSetStdlib)
	}

	if boolOr(s.b.warnings, warnDefault) {
		w.host("-Wall")
	}
	if boolOr(s.b.extraWarnings, warnDefault) {
		w.host("-Wextra")
	}
	if s.b.warningsIntoErrors {
		w.host("-Werror")
	}

	if s.b.shared {
		w.add("-shared")
	}
	staticCRT := boolOr(s.b.staticCRT, false) && s.target.OS == "linux" &&
		(strings.HasPrefix(s.target.Env, "gnu") || s.target.IsMusl())
	if s.b.static || staticCRT {
		w.add("-static")
	}
}

func (s *session) archFlags(w *flagWriter, t *Tool) {
	target := s.target
	if t.Family == ClangLike {
		if target.Raw != s.host.Raw {
			w.add("--target=" + target.ClangTriple())
		}
		return
	}

	switch target.X86Bits() {
	case 64:
		w.add("-m64")
	case 32:
		w.add("-m32")
	}

	arch := target.Arch
	isARM := strings.HasPrefix(arch, "arm") || strings.HasPrefix(arch, "thumb")
	if strings.HasPrefix(arch, "thumb") {
		w.host("-mthumb")
	}
	if strings.HasPrefix(arch, "armv7") && !strings.HasPrefix(arch, "armv7r") {
		w.host("-march=armv7-a")
	}
	if isARM {
		switch {
		case strings.HasSuffix(target.Env, "hf"):
			w.host("-mfloat-abi=hard")
		case strings.Contains(target.Env, "eabi"):
			w.host("-mfloat-abi=soft")
		}
	}
	if arch == "riscv64gc" {
		w.host("-march=rv64gc")
		w.host("-mabi=lp64d")
	}
}

func (s *session) msvcDefaults(w *flagWriter) {
	w.add("/nologo")
	if boolOr(s.b.staticCRT, false) {
		w.add("/MT")
	} else {
		w.add("/MD")
	}

	switch s.optLevel() {
	case "0":
		w.add("/Od")
	case "1":
		w.add("/O1")
	case "s", "z":
		w.add("/Os")
	default:
		w.add("/O2")
	}

	if s.debug() {
		w.add("/Z7")
	}
	if s.b.cpp {
		w.add("/EHsc")
	}
	warnDefault := len(s.envFlags(s.compilerKind())) == 0
	if boolOr(s.b.warnings, warnDefault) {
		w.add("/W4")
	}
	if s.b.warningsIntoErrors {
		w.add("/WX")
	}
}

// objectArgs compiles src into obj.
func objectArgs(t *Tool, src, obj string) []string {
	if t.Family == Msvc {
		return []string{"/c", src, "/Fo" + obj}
	}
	return []string{"-c", src, "-o", obj}
}

// expandArgs preprocesses src to stdout.
func expandArgs(t *Tool, src string) []string {
	if t.Family == Msvc {
		return []string{"/E", src}
	}
	return []string{"-E", src}
}

// compileArgs joins the shared flags with the per-file arguments.
func compileArgs(base []string, perFile ...string) []string {
	return append(slices.Clip(base), perFile...)
}
