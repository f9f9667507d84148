// Package logging provides the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields = logrus.Fields

type Options struct {
	Level      string
	File       string // empty disables file output
	MaxSizeMB  int
	MaxBackups int
	NoColors   bool
}

var (
	logger = newLogger(Options{Level: "info"}, os.Stderr)
	mu     sync.Mutex
)

func newLogger(opts Options, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(ParseLevel(opts.Level))
	l.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "02 Jan 06 - 15:04:05.000",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})
	l.SetOutput(out)
	l.SetReportCaller(true)
	return l
}

// ParseLevel maps a config level name to logrus, defaulting to info.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Init replaces the global logger. Files are rotated by lumberjack.
func Init(opts Options) *logrus.Logger {
	writers := []io.Writer{os.Stderr}
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    maxSize,
			MaxAge:     7,
			MaxBackups: maxBackups,
		})
		opts.NoColors = true
	}
	return SetLogger(newLogger(opts, io.MultiWriter(writers...)))
}

// SetLogger swaps the global logger, mainly for tests.
func SetLogger(l *logrus.Logger) *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	return l
}

// L returns the global logger.
func L() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func With(fields Fields) *logrus.Entry {
	return L().WithFields(fields)
}

func Debug(fields Fields, msg string) {
	L().WithFields(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	L().WithFields(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	L().WithFields(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	L().WithFields(fields).Error(msg)
}

func Fatal(fields Fields, msg string) {
	L().WithFields(fields).Fatal(msg)
}
