// Package observability holds the process-wide CLI logger.
package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by command handlers. It writes to stderr so
// stdout stays reserved for command output and archive bytes.
var CLILogger = zap.NewNop()

var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// InitCLILogger replaces CLILogger with a console logger on stderr. verbose
// starts it at debug level, otherwise info.
func InitCLILogger(serviceName string, verbose bool) {
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	CLILogger = zap.New(core).Named(serviceName)
}

// SetLevel changes the level of CLILogger. Accepted values are debug, info,
// warn and error.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	switch l {
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel:
	default:
		return fmt.Errorf("invalid log level %q: use debug, info, warn or error", name)
	}
	level.SetLevel(l)
	return nil
}

// Level returns the current CLILogger level.
func Level() zapcore.Level {
	return level.Level()
}
