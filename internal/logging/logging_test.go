package logging

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkprobe/internal/errors"
)

func captureLogs(t *testing.T, verbose bool) *bytes.Buffer {
	t.Helper()

	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	require.NoError(t, SetupLogger(&buf, "", verbose))
	return &buf
}

func TestSetupLoggerWritesLogFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	require.NoError(t, SetupLogger(&console, dir, false))

	slog.Info("hello from test")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "linkprobe_")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, console.String(), "hello from test")
}

func TestSetupLoggerLevels(t *testing.T) {
	buf := captureLogs(t, false)
	slog.Debug("hidden detail")
	assert.NotContains(t, buf.String(), "hidden detail")

	buf = captureLogs(t, true)
	slog.Debug("visible detail")
	assert.Contains(t, buf.String(), "visible detail")
}

func TestLogErrorClassifies(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "transport",
			err:  fmt.Errorf("trial: %w", errors.NewTransportError("write", "/dev/ttyUSB0", stderrors.New("EIO"))),
			want: "error_type=transport",
		},
		{
			name: "validation",
			err:  errors.NewValidationError("factor", 1, "must be greater than 1"),
			want: "error_type=validation",
		},
		{
			name: "filesystem",
			err:  errors.NewFileSystemError("mkdir", "logs", stderrors.New("read-only")),
			want: "error_type=filesystem",
		},
		{
			name: "unknown",
			err:  stderrors.New("mystery"),
			want: "error_type=unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t, false)
			LogError(tt.err, "test")
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestLogTrialResultStatus(t *testing.T) {
	buf := captureLogs(t, false)

	LogTrialResult(64, true, true, 64, 64, 12*time.Millisecond, nil)
	assert.Contains(t, buf.String(), "status=SUCCESS")

	buf.Reset()
	LogTrialResult(64, true, false, 64, 10, time.Second, nil)
	assert.Contains(t, buf.String(), "status=FAILED")
	assert.Contains(t, buf.String(), "received_at_a=10")
}
