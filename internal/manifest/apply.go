package manifest

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/qobs-build/ccbuild/internal/builder"
)

// collectFiles expands glob patterns relative to dir. With dirsOnly, a
// matched file contributes its parent directory.
func collectFiles(dir string, patterns []string, dirsOnly bool) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	var opts []doublestar.GlobOption
	if !dirsOnly {
		opts = append(opts, doublestar.WithFilesOnly())
	}

	fsys := os.DirFS(dir)
	for _, pat := range patterns {
		if filepath.IsAbs(pat) {
			add(filepath.Clean(pat))
			continue
		}
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pat), opts...)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pat, err)
		}
		for _, match := range matches {
			absPath, err := filepath.Abs(filepath.Join(dir, filepath.FromSlash(match)))
			if err != nil {
				return nil, fmt.Errorf("while globbing %s: %w", match, err)
			}
			if dirsOnly {
				if stat, err := os.Stat(absPath); err == nil && !stat.IsDir() {
					absPath = filepath.Dir(absPath) // this is a file, we need directories
				}
			}
			add(filepath.Clean(absPath))
		}
	}
	return files, nil
}

// SourceFiles returns the library sources in pattern order.
func (m *Manifest) SourceFiles(dir string) ([]string, error) {
	files, err := collectFiles(dir, m.Library.Sources, false)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("library %q: no sources match %s", m.Library.Name, strings.Join(m.Library.Sources, ", "))
	}
	return files, nil
}

// IncludeDirs returns the include directories in pattern order.
func (m *Manifest) IncludeDirs(dir string) ([]string, error) {
	return collectFiles(dir, m.Library.Include, true)
}

func (m *Manifest) profile(name string) (ProfileSection, error) {
	if p, ok := m.Profile[name]; ok {
		return p, nil
	}
	return ProfileSection{}, fmt.Errorf("unknown profile %q, known profiles: %s", name, strings.Join(m.Profiles(), ", "))
}

// Apply configures b with the library described by m. Relative globs are
// resolved against dir.
func (m *Manifest) Apply(b *builder.Build, dir, profile string) error {
	prof, err := m.profile(profile)
	if err != nil {
		return err
	}
	sources, err := m.SourceFiles(dir)
	if err != nil {
		return err
	}
	includes, err := m.IncludeDirs(dir)
	if err != nil {
		return err
	}

	lib := m.Library
	b.Files(sources...).Includes(includes...)
	for _, name := range slices.Sorted(maps.Keys(lib.Defines)) {
		if v := lib.Defines[name]; v != "" {
			b.Define(name, v)
		} else {
			b.DefineFlag(name)
		}
	}
	for _, f := range lib.Flags {
		b.Flag(f)
	}
	for _, f := range lib.FlagsIfSupported {
		b.FlagIfSupported(f)
	}

	b.Cpp(lib.Cpp || lib.Cuda)
	if lib.Cuda {
		b.Cuda(true)
	}
	if lib.Warnings != nil {
		b.Warnings(*lib.Warnings)
	}
	if lib.ExtraWarnings != nil {
		b.ExtraWarnings(*lib.ExtraWarnings)
	}
	b.WarningsIntoErrors(lib.WarningsIntoErrors)
	if lib.PIC != nil {
		b.PIC(*lib.PIC)
	}
	if lib.StaticCRT != nil {
		b.StaticCRT(*lib.StaticCRT)
	}
	if lib.CppStdlib != "" {
		b.CppSetStdlib(lib.CppStdlib)
	}

	if opt := prof.Opt(); opt != "" {
		b.OptLevelStr(opt)
	}
	if prof.Debug != nil {
		b.Debug(*prof.Debug)
	}
	return nil
}
