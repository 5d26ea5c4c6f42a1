package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// FileLogger writes timestamped lines to a debug log file and, optionally,
// an extra writer such as stderr. It is safe for concurrent use.
type FileLogger struct {
	mu        sync.Mutex
	file      *os.File
	out       *log.Logger
	echo      io.Writer
	level     Level
	component string
}

// Options configures NewFileLogger.
type Options struct {
	// Path is the log file location. Empty defaults to $HOME/surf-debug.log.
	Path string
	// Level is the minimum severity written. Defaults to LevelDebug.
	Level Level
	// Echo, when non-nil, receives a copy of every line (typically os.Stderr).
	Echo io.Writer
}

// NewFileLogger opens (or creates) the debug log file in append mode.
func NewFileLogger(opts Options) (*FileLogger, error) {
	path := opts.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, "surf-debug.log")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileLogger{
		file:  file,
		out:   log.New(file, "", 0),
		echo:  opts.Echo,
		level: opts.Level,
	}, nil
}

// WithComponent returns a logger that tags every line with component. The
// underlying file handle is shared with the parent.
func (l *FileLogger) WithComponent(component string) *FileLogger {
	return &FileLogger{
		file:      l.file,
		out:       l.out,
		echo:      l.echo,
		level:     l.level,
		component: component,
	}
}

// SetLevel sets the minimum level written.
func (l *FileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the underlying log file.
func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "SURF"
	}

	// Format: 2025-09-30 12:34:56 [INFO] [component] file.go:123 - message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s",
		timestamp, level, component, file, line, message)

	if l.out != nil {
		l.out.Print(logLine)
	}
	if l.echo != nil {
		fmt.Fprintln(l.echo, logLine)
	}
}

func (l *FileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *FileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *FileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *FileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
