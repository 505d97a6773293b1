package logging

import (
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"linkprobe/internal/config"
	"linkprobe/internal/errors"
)

// SetupLogger initializes structured logging with file and console output.
// An empty dir logs to the console only.
func SetupLogger(console io.Writer, dir string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	// Create structured logger without source file/line information
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}

	writer := console
	if dir != "" {
		if err := os.MkdirAll(dir, config.LogDirPerms); err != nil {
			return errors.NewFileSystemError("mkdir", dir, err)
		}

		// Create log file with timestamp
		logFileName := filepath.Join(dir,
			"linkprobe_"+time.Now().Format("20060102_150405")+".log")

		logFile, err := os.Create(logFileName)
		if err != nil {
			// Continue with console logging only
			slog.Warn("Failed to create log file, using console only", "error", err)
		} else {
			writer = io.MultiWriter(console, logFile)
		}
	}

	// Use text handler for better console readability
	slog.SetDefault(slog.New(slog.NewTextHandler(writer, opts)))

	slog.Debug("Logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	slog.Info("Configuration loaded",
		"endpoint_a", cfg.PortA,
		"endpoint_b", cfg.PortB,
		"baud_rate", cfg.BaudRate,
		"framing", cfg.TransportSettings().Framing(),
		"timeout", cfg.Timeout,
		"grace", cfg.Grace)

	slog.Info("Search configuration",
		"start_size", cfg.StartSize,
		"max_size", cfg.MaxSize,
		"factor", cfg.Factor,
		"require", cfg.Require)
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	var (
		te *errors.TransportError
		fe *errors.FileSystemError
		ve *errors.ValidationError
	)

	switch {
	case stderrors.As(err, &te):
		slog.Error("Transport error",
			"context", context,
			"operation", te.Op,
			"endpoint", te.Endpoint,
			"cause", te.Err,
			"error_type", "transport")
	case stderrors.As(err, &fe):
		slog.Error("File system error",
			"context", context,
			"operation", fe.Op,
			"path", fe.Path,
			"error_type", "filesystem")
	case stderrors.As(err, &ve):
		slog.Error("Validation error",
			"context", context,
			"field", ve.Field,
			"message", ve.Message,
			"error_type", "validation")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}

// LogTrialStart logs the beginning of one bidirectional trial
func LogTrialStart(size, rate int) {
	slog.Debug("Trial started",
		"payload_size", size,
		"transfer_rate", rate)
}

// LogTrialResult logs the outcome of one trial
func LogTrialResult(size int, atob, btoa bool, receivedAtoB, receivedBtoA int, elapsed time.Duration, err error) {
	status := "SUCCESS"
	if !atob || !btoa || err != nil {
		status = "FAILED"
	}

	attrs := []any{
		"status", status,
		"payload_size", size,
		"a_to_b", atob,
		"b_to_a", btoa,
		"received_at_b", receivedAtoB,
		"received_at_a", receivedBtoA,
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	slog.Info("Trial completed", attrs...)
}

// LogTrialProgress logs byte counts while a long trial is running
func LogTrialProgress(size int, receivedAtoB, receivedBtoA int64, elapsed time.Duration) {
	slog.Info("Trial progress",
		"payload_size", size,
		"received_at_b", receivedAtoB,
		"received_at_a", receivedBtoA,
		"elapsed_seconds", int(elapsed.Seconds()))
}

// LogSearchStart logs the start of a reliability search
func LogSearchStart(startSize, maxSize int, factor float64) {
	slog.Info("Reliability search started",
		"start_size", startSize,
		"max_size", maxSize,
		"factor", factor,
		"session_start", time.Now().Format("15:04:05"))
}

// LogSearchEnd logs the end of a reliability search
func LogSearchEnd(maxReliable, trials, successes int, duration time.Duration) {
	status := "SUCCESS"
	if maxReliable == 0 {
		status = "FAILED"
	}

	slog.Info("Reliability search ended",
		"status", status,
		"max_reliable_size", maxReliable,
		"trials", trials,
		"successes", successes,
		"session_duration_seconds", int(duration.Seconds()),
		"session_end", time.Now().Format("15:04:05"))
}
