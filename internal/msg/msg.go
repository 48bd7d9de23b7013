package msg

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var (
	// Output receives every message. Messages go to stderr so that stdout
	// stays free for metadata lines consumed by the calling build script.
	Output io.Writer = color.Error

	// Verbose enables Debug messages.
	Verbose bool

	mu sync.Mutex
)

func emit(prefix, format string, a ...any) {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(": ")
	fmt.Fprintf(&sb, format, a...)
	sb.WriteByte('\n')

	mu.Lock()
	defer mu.Unlock()
	io.WriteString(Output, sb.String())
}

func Error(format string, a ...any) {
	emit(color.HiRedString("error"), format, a...)
}

func Warn(format string, a ...any) {
	emit(color.YellowString("warn"), format, a...)
}

func Fatal(format string, a ...any) {
	emit(color.RedString("fatal"), format, a...)
	os.Exit(1)
}

func Info(format string, a ...any) {
	emit(color.HiGreenString("info"), format, a...)
}

func Debug(format string, a ...any) {
	if !Verbose {
		return
	}
	emit(color.HiBlackString("debug"), format, a...)
}

// Block writes a pre-formatted chunk of text (e.g. captured compiler
// diagnostics) without interleaving with other messages.
func Block(text string) {
	mu.Lock()
	defer mu.Unlock()
	io.WriteString(Output, text)
}

type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	buf := make([]byte, 0, len(p)+len(w.Indent))
	for _, c := range p {
		if !w.didIndent {
			buf = append(buf, w.Indent...)
			w.didIndent = true
		}
		buf = append(buf, c)
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	if _, err := w.W.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Indent returns text with every line prefixed by indent.
func Indent(text, indent string) string {
	var sb strings.Builder
	w := &IndentWriter{Indent: indent, W: &sb}
	w.Write([]byte(text))
	if !strings.HasSuffix(text, "\n") && text != "" {
		sb.WriteByte('\n')
	}
	return sb.String()
}
