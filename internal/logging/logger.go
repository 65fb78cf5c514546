// Package logging is a leveled, category-tagged logger. Lines go to the
// terminal in color and, when a file is configured, to a JSON-lines file.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel falls back to INFO on anything it does not recognise.
func ParseLevel(raw string) Level {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Options struct {
	Level   Level
	File    string
	Output  io.Writer
	NoColor bool
}

type Logger struct {
	mu       sync.Mutex
	level    Level
	out      io.Writer
	logFile  *os.File
	colorOff bool
}

func New(opts Options) (*Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logger := &Logger{level: opts.Level, out: out, colorOff: opts.NoColor}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.logFile = f
	}
	return logger, nil
}

// Nop discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{level: ERROR + 1, out: io.Discard, colorOff: true}
}

func (l *Logger) log(level Level, category, message string) {
	if l == nil || level < l.level {
		return
	}
	_, file, line, ok := runtime.Caller(3)
	if ok {
		file = filepath.Base(file)
	}
	entry := Entry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.out, l.formatTerminal(entry))
	if l.logFile != nil {
		if raw, err := json.Marshal(entry); err == nil {
			_, _ = l.logFile.Write(append(raw, '\n'))
		}
	}
}

func (l *Logger) formatTerminal(entry Entry) string {
	timestamp := entry.Timestamp[11:19]
	if l.colorOff {
		return fmt.Sprintf("%s %-5s [%-8s] %s\n", timestamp, entry.Level, entry.Category, entry.Message)
	}

	var levelColor *color.Color
	switch entry.Level {
	case "DEBUG":
		levelColor = color.New(color.FgCyan)
	case "WARN":
		levelColor = color.New(color.FgYellow)
	case "ERROR":
		levelColor = color.New(color.FgRed, color.Bold)
	default:
		levelColor = color.New(color.FgGreen)
	}
	timeStr := color.New(color.FgBlue).Sprint(timestamp)
	levelStr := levelColor.Sprintf("%-5s", entry.Level)
	categoryStr := levelColor.Add(color.Bold).Sprintf("[%-8s]", entry.Category)
	if entry.File != "" && entry.Line > 0 {
		fileInfo := color.New(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line)
		return fmt.Sprintf("%s %s %s %s%s\n", timeStr, levelStr, categoryStr, entry.Message, fileInfo)
	}
	return fmt.Sprintf("%s %s %s %s\n", timeStr, levelStr, categoryStr, entry.Message)
}

func (l *Logger) emit(level Level, category, message string) {
	l.log(level, category, message)
}

func (l *Logger) Debug(category, message string) { l.emit(DEBUG, category, message) }
func (l *Logger) Info(category, message string)  { l.emit(INFO, category, message) }
func (l *Logger) Warn(category, message string)  { l.emit(WARN, category, message) }
func (l *Logger) Error(category, message string) { l.emit(ERROR, category, message) }

func (l *Logger) Debugf(category, format string, args ...any) {
	l.emit(DEBUG, category, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(category, format string, args ...any) {
	l.emit(INFO, category, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(category, format string, args ...any) {
	l.emit(WARN, category, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(category, format string, args ...any) {
	l.emit(ERROR, category, fmt.Sprintf(format, args...))
}

// Std adapts the logger for libraries that want a *log.Logger.
func (l *Logger) Std(category string, level Level) *log.Logger {
	return log.New(writerFunc(func(p []byte) (int, error) {
		l.log(level, category, strings.TrimRight(string(p), "\n"))
		return len(p), nil
	}), "", 0)
}

func (l *Logger) Close() error {
	if l == nil || l.logFile == nil {
		return nil
	}
	return l.logFile.Close()
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
