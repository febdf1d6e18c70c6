package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logger.
type writer struct {
	// callback is the logging callback.
	callback func(string)
	// buffer is any incomplete line fragment left over from a previous write.
	buffer []byte
}

// trimCarriageReturn trims any single trailing carriage return from the end of
// a byte slice.
func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the main logger type. It has the novel property that it still
// functions if nil, but it doesn't log anything. Each sublogger copies its
// parent's level when it is created; no method changes a logger's level
// afterwards. It is safe for concurrent usage.
type Logger struct {
	// prefix is any prefix specified for the logger.
	prefix string
	// level is the minimum level at which this logger will emit output; its
	// subloggers inherit it.
	level Level
	// backing is the underlying standard library logger.
	backing *log.Logger
}

// RootLogger is the root logger from which all other loggers derive when no
// explicit logger is constructed via NewLogger. It writes to standard error
// so that log lines never interleave with report output on standard output.
var RootLogger = &Logger{level: LevelInfo, backing: log.New(os.Stderr, "", log.LstdFlags)}

// NewLogger creates a new root logger that writes to the specified writer at
// the specified minimum level.
func NewLogger(level Level, output io.Writer) *Logger {
	return &Logger{
		level:   level,
		backing: log.New(output, "", log.LstdFlags),
	}
}

// Sublogger creates a new sublogger with the specified name, inheriting the
// parent's level and output.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}

	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}

	return &Logger{
		prefix:  prefix,
		level:   l.level,
		backing: l.backing,
	}
}

// output is the internal logging method.
func (l *Logger) output(level Level, line string) {
	if l == nil || l.level < level {
		return
	}
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	if l.backing != nil {
		l.backing.Output(4, line)
	} else {
		log.Output(4, line)
	}
}

// Print logs information at LevelInfo with semantics equivalent to fmt.Print.
func (l *Logger) Print(v ...interface{}) {
	l.output(LevelInfo, fmt.Sprint(v...))
}

// Printf logs information at LevelInfo with semantics equivalent to fmt.Printf.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.output(LevelInfo, fmt.Sprintf(format, v...))
}

// Println logs information at LevelInfo with semantics equivalent to
// fmt.Println.
func (l *Logger) Println(v ...interface{}) {
	l.output(LevelInfo, fmt.Sprintln(v...))
}

// Info logs information at LevelInfo.
func (l *Logger) Info(v ...interface{}) {
	l.output(LevelInfo, fmt.Sprint(v...))
}

// Infof logs information at LevelInfo with format semantics.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.output(LevelInfo, fmt.Sprintf(format, v...))
}

// Writer returns an io.Writer that writes lines at LevelInfo.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: func(s string) { l.output(LevelInfo, s) }}
}

// Debug logs information at LevelDebug.
func (l *Logger) Debug(v ...interface{}) {
	l.output(LevelDebug, fmt.Sprint(v...))
}

// Debugf logs information at LevelDebug with format semantics.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.output(LevelDebug, fmt.Sprintf(format, v...))
}

// Debugln logs information at LevelDebug with fmt.Println semantics.
func (l *Logger) Debugln(v ...interface{}) {
	l.output(LevelDebug, fmt.Sprintln(v...))
}

// DebugWriter returns an io.Writer that writes lines at LevelDebug.
func (l *Logger) DebugWriter() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: func(s string) { l.output(LevelDebug, s) }}
}

// Warn logs a preformatted warning message at LevelWarn, colorized.
func (l *Logger) Warn(v ...interface{}) {
	l.output(LevelWarn, color.YellowString("Warning: %s", fmt.Sprint(v...)))
}

// Warnf logs a warning message at LevelWarn with format semantics, colorized.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.output(LevelWarn, color.YellowString("Warning: %s", fmt.Sprintf(format, v...)))
}

// Error logs error information at LevelError, colorized.
func (l *Logger) Error(err error) {
	l.output(LevelError, color.RedString("Error: %v", err))
}

// Errorf logs an error message at LevelError with format semantics.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.output(LevelError, color.RedString("Error: %s", fmt.Sprintf(format, v...)))
}
