package builder

import (
	"io"
	"runtime"
	"strings"
)

var ninjaPathEscaper = strings.NewReplacer("$", "$$", ":", "$:", " ", "$ ", "\n", "$\n")

func ninjaPath(s string) string { return ninjaPathEscaper.Replace(s) }

// WriteNinja renders p as a build.ninja file that runs the same command
// lines as Compile. Probes are not repeated: the planned flags already
// reflect their outcome.
func WriteNinja(w io.Writer, p *Plan) error {
	var sb strings.Builder

	writeln(&sb, "ninja_required_version = 1.3")
	writeln(&sb, "# ", p.Tool.Family.String(), " compiler ", p.Tool.Path)
	writeln(&sb)

	write(&sb,
		`rule cc
  command = $cmd
  description = CC $in
`)
	write(&sb,
		`rule ar
  command = $cmd
  description = AR $out
`)
	writeln(&sb)

	objects := make([]string, len(p.Objects))
	for i, job := range p.Objects {
		objects[i] = ninjaPath(job.Object)
		writeln(&sb, "build ", objects[i], ": cc ", ninjaPath(job.Source))
		writeln(&sb, "  cmd = ", shellJoin(job.Argv()))
	}
	writeln(&sb)

	lib := ninjaPath(p.Library)
	writeln(&sb, "build ", lib, ": ar ", strings.Join(objects, " "))
	writeln(&sb, "  cmd = ", shellJoin(p.Archive.Argv()))
	writeln(&sb)
	writeln(&sb, "default ", lib)

	_, err := io.WriteString(w, sb.String())
	return err
}

func write(sb *strings.Builder, s ...string) {
	for _, str := range s {
		sb.WriteString(str)
	}
}

func writeln(sb *strings.Builder, s ...string) {
	write(sb, s...)
	sb.WriteByte('\n')
}

// shellJoin quotes argv for the shell ninja runs commands with and escapes
// it for a ninja variable.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if runtime.GOOS == "windows" {
			quoted[i] = windowsQuote(arg)
		} else {
			quoted[i] = posixQuote(arg)
		}
	}
	return strings.ReplaceAll(strings.Join(quoted, " "), "$", "$$")
}

func posixQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>()*?[]#~!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func windowsQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
