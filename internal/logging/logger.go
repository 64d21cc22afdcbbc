// Package logging provides structured logging for the fsedit core using slog.
//
// Usage:
//
//	if err := logging.Init(taskID, workspaceRoot); err != nil {
//	    // handle error
//	}
//	defer logging.Close()
//
//	ctx = logging.WithTask(ctx, taskID)
//	ctx = logging.WithTxn(ctx, txnID)
//	logging.Info(ctx, "transaction committed", slog.Int("files", len(paths)))
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nefrols/fsedit/internal/validation"
)

// LogLevelEnvVar controls log level when set.
const LogLevelEnvVar = "FSEDIT_LOG_LEVEL"

// LogsDir is the directory (relative to the workspace sandbox root) where
// per-task log files are stored.
const LogsDir = ".fsedit/logs"

var (
	logger       *slog.Logger
	logFile      *os.File
	logBufWriter *bufio.Writer
	currentTask  string
	mu           sync.RWMutex
)

// Init initializes the logger for a task, writing JSON logs to
// <workspaceRoot>/.fsedit/logs/<taskID>.log. Falls back to stderr if the
// log file cannot be created.
func Init(taskID, workspaceRoot string) error {
	if err := validation.ValidateTaskID(taskID); err != nil {
		return fmt.Errorf("invalid task ID for logging: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	closeLocked()

	level := parseLogLevel(os.Getenv(LogLevelEnvVar))

	logsPath := filepath.Join(workspaceRoot, LogsDir)
	if err := os.MkdirAll(logsPath, 0o750); err != nil {
		logger = createLogger(os.Stderr, level)
		return nil
	}

	logFilePath := filepath.Join(logsPath, taskID+".log")
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // taskID validated above
	if err != nil {
		logger = createLogger(os.Stderr, level)
		return nil
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192)
	logger = createLogger(logBufWriter, level)
	currentTask = taskID
	return nil
}

// Close flushes and closes the log file. Safe to call multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	currentTask = ""
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func createLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelDebug, msg, attrs...) }
func Info(ctx context.Context, msg string, attrs ...any)  { log(ctx, slog.LevelInfo, msg, attrs...) }
func Warn(ctx context.Context, msg string, attrs ...any)  { log(ctx, slog.LevelWarn, msg, attrs...) }
func Error(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelError, msg, attrs...) }

func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := getLogger()

	var allAttrs []any
	mu.RLock()
	task := currentTask
	mu.RUnlock()
	if task != "" {
		allAttrs = append(allAttrs, slog.String("task_id", task))
	}
	for _, a := range attrsFromContext(ctx, task) {
		allAttrs = append(allAttrs, a)
	}
	allAttrs = append(allAttrs, attrs...)

	l.Log(nil, level, msg, allAttrs...) //nolint:staticcheck // context values already extracted as attrs
}

func attrsFromContext(ctx context.Context, skipTask string) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if skipTask == "" {
		if v, ok := ctx.Value(taskIDKey).(string); ok && v != "" {
			attrs = append(attrs, slog.String("task_id", v))
		}
	}
	if v, ok := ctx.Value(txnIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("txn_id", v))
	}
	if v, ok := ctx.Value(componentKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("component", v))
	}
	return attrs
}
