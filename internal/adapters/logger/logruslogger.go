package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"tradegovernor/internal/ports"
)

// LogrusLogger implements the ports.Logger interface using logrus, with
// console output and an optional lumberjack-rotated file hook.
type LogrusLogger struct {
	log      *logrus.Logger
	fileHook *fileHook
}

// Config holds configuration for the logger adapter.
type Config struct {
	Level      string // debug, info, warn, error
	FilePath   string // Empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// fileHook writes every log entry to a rotated file with its own formatter.
type fileHook struct {
	formatter logrus.Formatter
	writer    io.Writer
}

func (h *fileHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fileHook) Fire(entry *logrus.Entry) error {
	formatted, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(formatted)
	return err
}

// New creates a logger adapter. Console output always goes to stdout; file
// output is added when cfg.FilePath is set.
func New(cfg Config) (*LogrusLogger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	log.SetOutput(os.Stdout)

	l := &LogrusLogger{log: log}

	if cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		l.fileHook = &fileHook{
			writer: rotated,
			formatter: &logrus.TextFormatter{
				DisableColors:   true,
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05",
			},
		}
		log.AddHook(l.fileHook)
	}

	return l, nil
}

// Close closes the file hook's underlying writer, if any.
func (l *LogrusLogger) Close() {
	if l.fileHook != nil {
		if closer, ok := l.fileHook.writer.(io.Closer); ok {
			closer.Close()
		}
	}
}

func (l *LogrusLogger) entry(fields ...map[string]interface{}) *logrus.Entry {
	if len(fields) > 0 && fields[0] != nil {
		return l.log.WithFields(logrus.Fields(fields[0]))
	}
	return logrus.NewEntry(l.log)
}

// Debug logs a message at Debug level.
func (l *LogrusLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Debug(msg)
}

// Info logs a message at Info level.
func (l *LogrusLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Info(msg)
}

// Warn logs a message at Warning level.
func (l *LogrusLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Warn(msg)
}

// Error logs an error message at Error level.
func (l *LogrusLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	entry := l.entry(fields...)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

var _ ports.Logger = (*LogrusLogger)(nil)
