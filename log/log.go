package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Level is the minimum level that will be emitted.
type Level int32

const (
	LevelSilent Level = iota - 1
	LevelError
	LevelInfo
	LevelTrace
	LevelDebug
)

var (
	CurLevel  atomic.Int32
	errFile   *os.File
	errLogger *log.Logger
	errMu     sync.Mutex
)

func init() {
	CurLevel.Store(int32(LevelInfo))
}

var (
	mu     sync.Mutex
	logger = log.New(os.Stderr, "", 0)

	infoColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgBlue)
	errorColor = color.New(color.FgRed)
	traceColor = color.New(color.FgHiBlack)
)

// Init sets the console writer and level. Colours are only used when the
// console is the process stderr and stderr is a terminal.
func Init(console io.Writer, level Level) {
	mu.Lock()
	defer mu.Unlock()
	if console == nil {
		console = os.Stderr
	}
	colorize := colorizes(console)
	for _, c := range []*color.Color{infoColor, warnColor, errorColor, traceColor} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	logger = log.New(console, "", 0)
	CurLevel.Store(int32(level))
}

func colorizes(console io.Writer) bool {
	f, ok := console.(*os.File)
	if !ok || f != os.Stderr || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// InitErrorFile mirrors every error line into path with a timestamp.
func InitErrorFile(path string) error {
	if path == "" {
		return nil
	}
	errMu.Lock()
	defer errMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile = f
	errLogger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	return nil
}

func CloseErrorFile() {
	errMu.Lock()
	defer errMu.Unlock()
	if errFile != nil {
		_ = errFile.Sync()
		_ = errFile.Close()
		errFile = nil
		errLogger = nil
	}
}

// ---- printing ------------------------------------------------------------

// Errorf logs the message with the error prefix and returns it as an error,
// so callers can write `return log.Errorf(...)`. %w verbs are preserved in the
// returned error.
func Errorf(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	if Level(CurLevel.Load()) >= LevelError {
		out(errorColor, "[error] ", err.Error())
	}

	errMu.Lock()
	if errLogger != nil {
		errLogger.Println("[error] " + err.Error())
		if errFile != nil {
			_ = errFile.Sync()
		}
	}
	errMu.Unlock()

	return err
}

func Warnf(format string, a ...any) {
	if Level(CurLevel.Load()) >= LevelError {
		out(warnColor, "[warning] ", fmt.Sprintf(format, a...))
	}
}

func Infof(format string, a ...any) {
	if Level(CurLevel.Load()) >= LevelInfo {
		out(infoColor, "[info] ", fmt.Sprintf(format, a...))
	}
}

func Tracef(format string, a ...any) {
	if Level(CurLevel.Load()) >= LevelTrace {
		out(traceColor, "[trace] ", fmt.Sprintf(format, a...))
	}
}

func Debugf(format string, a ...any) {
	if Level(CurLevel.Load()) >= LevelDebug {
		out(traceColor, "[debug] ", fmt.Sprintf(format, a...))
	}
}

func out(c *color.Color, prefix, msg string) {
	mu.Lock()
	defer mu.Unlock()
	logger.Print(c.Sprint(prefix + strings.TrimRight(msg, "\n")))
}

// LevelFromName maps a --verbose value to a Level. Unknown names fall back
// to info.
func LevelFromName(name string) Level {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	case "error":
		return LevelError
	case "silent":
		return LevelSilent
	default:
		return LevelInfo
	}
}
