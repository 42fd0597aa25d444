package cmdlog

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/jwalton/gchalk"
)

// Logger logs pretty stuff to the console
type Logger struct {
	emojis    bool
	indention int
}

// helper for indention
func (l *Logger) println(a string) {
	fmt.Println(strings.Repeat(" ", l.indention) + a)
}

func (l *Logger) sprintEmoji(e string) string {
	if l.emojis {
		return e
	}
	return ""
}

// Headline prints a bold cyan line
func (l *Logger) Headline(s string) {
	fmt.Println(gchalk.Bold(gchalk.Cyan(s)))
}

// Info prints a "normal" line
func (l *Logger) Info(s string) {
	l.println(s)
}

// Log prints a dimmed line
func (l *Logger) Log(s string) {
	fmt.Println(gchalk.Dim(s))
}

// Warn will print a warning
func (l *Logger) Warn(s string) {
	fmt.Println(l.sprintEmoji("⚠️  ") + gchalk.Bold(gchalk.Yellow(s)))
}

// Fail will print the given message and then exit 1
func (l *Logger) Fail(s string) {
	fmt.Println(l.sprintEmoji("💣 ") + gchalk.Bold(gchalk.Red("Error: ")) + gchalk.Bold(s))
	os.Exit(1)
}

// NewTask returns a new Task logger
func (l *Logger) NewTask(end int) *Task {
	logger := *l
	return &Task{&logger, 0, end}
}

// New returns a new Logger
func New() *Logger {
	emojis := runtime.GOOS != "windows"

	// disable color for CI
	if os.Getenv("CI") != "" {
		emojis = false
		gchalk.SetLevel(0)
	}
	return &Logger{emojis: emojis}
}

// Task logs but with progress
type Task struct {
	*Logger
	current int
	end     int
}

// Step prints progress
func (l *Task) Step(e string, s string) {
	l.current++
	// step headlines get no indentation
	fmt.Println(gchalk.Cyan(fmt.Sprintf(
		"[%d / %d] %s%s",
		l.current,
		l.end,
		l.sprintEmoji(e+" "),
		s,
	)))
}
