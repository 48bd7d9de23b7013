package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/qobs-build/ccbuild/internal/builder"
	"github.com/qobs-build/ccbuild/internal/fetch"
	"github.com/qobs-build/ccbuild/internal/manifest"
	"github.com/qobs-build/ccbuild/internal/msg"
)

// pkg is a loaded manifest together with the build it configures.
type pkg struct {
	dir      string
	srcDir   string
	manifest *manifest.Manifest
	build    *builder.Build
}

func packageDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func outDir(dir string) string {
	if flagOutDir != "" {
		return flagOutDir
	}
	if env := os.Getenv("OUT_DIR"); env != "" {
		return env
	}
	return filepath.Join(dir, "build")
}

// loadPackage parses the manifest in dir, fetches its sources if needed,
// runs the build hook and configures a Build from it.
func loadPackage(ctx context.Context, dir string) (*pkg, error) {
	msg.Verbose = flagVerbose

	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	env, err := manifest.NewEnv(dir, flagTarget, flagHost, flagProfile)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(dir, env)
	if err != nil {
		return nil, err
	}

	out, err := filepath.Abs(outDir(dir))
	if err != nil {
		return nil, err
	}

	srcDir := dir
	if m.Source.Git != "" {
		var progress io.Writer
		if flagVerbose {
			progress = os.Stderr
		}
		msg.Info("fetching %s", m.Source.Git)
		fetched, err := fetch.Source(ctx, m.Source.Git, filepath.Join(out, "_src"), progress)
		if err != nil {
			return nil, err
		}
		if !filepath.IsAbs(fetched) {
			fetched = filepath.Join(dir, fetched)
		}
		srcDir = fetched
	}

	if err := m.RunBuild(env.In(srcDir)); err != nil {
		return nil, err
	}

	b := builder.New().
		Target(env.Target).
		Host(env.Host).
		OutDir(out).
		CargoMetadata(flagMetadata).
		Verbose(flagVerbose).
		Progress(os.Stderr)
	if flagJobs > 0 {
		b.Jobs(flagJobs)
	}
	if err := m.Apply(b, srcDir, flagProfile); err != nil {
		return nil, err
	}

	return &pkg{dir: dir, srcDir: srcDir, manifest: m, build: b}, nil
}

func mustLoad(ctx context.Context, args []string) *pkg {
	p, err := loadPackage(ctx, packageDir(args))
	if err != nil {
		msg.Fatal("%v", err)
	}
	return p
}

// fatal reports err and exits. Diagnostics captured from a failed compiler
// run are printed below the message.
func fatal(err error) {
	var berr *builder.Error
	if errors.As(err, &berr) && len(berr.Output) > 0 {
		msg.Error("%v", err)
		msg.Block(msg.Indent(string(berr.Output), "    "))
		os.Exit(1)
	}
	msg.Fatal("%v", err)
}
