package builder

import (
	"context"
	"maps"
)

// GetCompiler resolves the compiler without compiling anything.
func (b *Build) GetCompiler(ctx context.Context) (*Tool, error) {
	s := newSession(b.snapshot())
	defer s.close()

	t, err := s.compiler(ctx)
	if err != nil {
		return nil, err
	}
	return t.clone(), nil
}

// compiler resolves and classifies the compiler of the session.
func (s *session) compiler(ctx context.Context) (*Tool, error) {
	if s.tool != nil {
		return s.tool, nil
	}

	kind := s.compilerKind()
	spec, err := s.toolSpec(kind)
	if err != nil {
		return nil, err
	}

	if spec.fromDefault && kind != kindCuda && s.target.IsMSVC() {
		if _, err := lookPath(spec.name, s.searchPath()); err != nil {
			tc, err := s.locateMSVC()
			if err != nil {
				return nil, err
			}
			s.toolchain = tc
			s.tool = s.msvcTool(tc)
			return s.tool, nil
		}
	}

	wrapper, path, args, err := s.resolveExecutable(spec)
	if err != nil {
		return nil, err
	}
	env := maps.Clone(s.b.env)
	if env == nil {
		env = make(map[string]string)
	}
	t := &Tool{
		Path:    path,
		Args:    args,
		Env:     env,
		Wrapper: wrapper,
		Cuda:    kind == kindCuda,
	}

	if t.Cuda {
		// nvcc takes gcc-style flags on every host
		t.Family = GnuLike
	} else {
		t.Family, err = s.classify(ctx, t)
		if err != nil {
			return nil, err
		}
	}
	s.tool = t
	return t, nil
}

// archiver resolves the archiver. When the compiler comes from a located
// Visual Studio installation, lib.exe next to it is the default.
func (s *session) archiver(compiler *Tool) (*Tool, error) {
	spec, err := s.toolSpec(kindAr)
	if err != nil {
		return nil, err
	}

	if spec.fromDefault && s.toolchain != nil {
		return &Tool{
			Path:   s.toolchain.Archiver,
			Family: Msvc,
			Env:    compiler.Env,
		}, nil
	}

	_, path, _, err := s.resolveExecutable(toolSpec{name: spec.name})
	if err != nil {
		return nil, err
	}
	t := &Tool{Path: path, Args: spec.args, Env: compiler.Env, Family: GnuLike}
	if stem := toolStem(spec.name); stem == "lib" || stem == "llvm-lib" {
		t.Family = Msvc
	}
	return t, nil
}
