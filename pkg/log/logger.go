package log

import (
	"context"
	"fmt"
	"github.com/sirupsen/logrus"
	"github.com/t-tomalak/logrus-easy-formatter"
	"io"
	"moff.io/moff-defi/pkg/log/meta"
	"os"
)

var logger *customLogger

// nolint:gochecknoinits
func init() {
	logger = newLogger(os.Stderr)
}

type customLogger struct {
	*logrus.Logger
}

const (
	DebugLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// SetLevel
// Set log level:
// DebugLevel = 0
// InfoLevel = 1
// WarnLevel = 2
// ErrorLevel = 3
func SetLevel(lvl int) {
	switch lvl {
	case DebugLevel:
		Info("log level set to DEBUG.")
		logger.SetLevel(logrus.DebugLevel)
	case InfoLevel:
		Info("log level set to INFO.")
		logger.SetLevel(logrus.InfoLevel)
	case WarnLevel:
		Info("log level set to WARN.")
		logger.SetLevel(logrus.WarnLevel)
	case ErrorLevel:
		Info("log level set to ERROR.")
		logger.SetLevel(logrus.ErrorLevel)
	default:
		Info("log level set to INFO.")
		logger.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects log lines, mostly for tests and the deploy script.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func newLogger(out io.Writer) *customLogger {
	logger := &logrus.Logger{
		Out:   out,
		Level: logrus.InfoLevel,
		Hooks: make(logrus.LevelHooks),
		Formatter: &easy.Formatter{
			TimestampFormat: "01-02 15:04:05.000",
			LogFormat:       "[%lvl%]   [%time%]   -   %msg%\r\n",
		},
		ExitFunc: os.Exit,
	}
	return &customLogger{logger}
}

func Debug(content interface{}) {
	logger.Debug(content)
}

func Debugf(format string, args ...interface{}) {
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	logger.Debug(fmt.Sprintf(format, args...))
}

func Info(content interface{}) {
	logger.Info(content)
}

func Infof(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...))
}

func Warn(content interface{}) {
	logger.Warn(content)
}

func Warnf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func Error(content interface{}) {
	logger.Error(content)
}

func Errorf(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

func Fatal(content interface{}) {
	logger.Fatal(content)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatal(fmt.Sprintf(format, args...))
}

// InfoCtxf logs with the request metadata of ctx in front of the message.
func InfoCtxf(ctx context.Context, format string, args ...interface{}) {
	logger.Info(meta.Prefix(ctx) + fmt.Sprintf(format, args...))
}

func WarnCtxf(ctx context.Context, format string, args ...interface{}) {
	logger.Warn(meta.Prefix(ctx) + fmt.Sprintf(format, args...))
}

func ErrorCtxf(ctx context.Context, format string, args ...interface{}) {
	logger.Error(meta.Prefix(ctx) + fmt.Sprintf(format, args...))
}
