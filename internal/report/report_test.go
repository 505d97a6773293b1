package report

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"linkprobe/internal/errors"
	"linkprobe/internal/search"
	"linkprobe/internal/transport"
	"linkprobe/internal/trial"
)

func newTestReporter(format string) (*Reporter, *bytes.Buffer) {
	var buf bytes.Buffer
	r := New(&buf, Options{
		Format:    format,
		EndpointA: "/dev/ttyUSB0",
		EndpointB: "/dev/ttyUSB1",
		Settings:  transport.DefaultSettings(),
	})
	return r, &buf
}

func okResult(size int) trial.Result {
	data := []byte(strings.Repeat("x", size))
	return trial.Result{
		Size:          size,
		Rate:          115200,
		SucceededAtoB: true,
		SucceededBtoA: true,
		SentAtoB:      data,
		SentBtoA:      data,
		ReceivedAtoB:  data,
		ReceivedBtoA:  data,
		Elapsed:       250 * time.Millisecond,
	}
}

func sampleOutcome() search.Outcome {
	failed := trial.Result{
		Size:          4,
		SucceededAtoB: false,
		SucceededBtoA: true,
		SentAtoB:      []byte("abcd"),
		SentBtoA:      []byte("wxyz"),
		ReceivedAtoB:  []byte("ab"),
		ReceivedBtoA:  []byte("wxyz"),
		TimedOut:      true,
	}
	return search.Outcome{
		MaxReliableSize: 2,
		History:         []trial.Result{okResult(1), okResult(2), failed},
		Duration:        3 * time.Second,
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "empty", data: "", want: "''"},
		{name: "short", data: "hello", want: "'hello'"},
		{name: "exactly max", data: strings.Repeat("a", 50), want: "'" + strings.Repeat("a", 50) + "'"},
		{
			name: "long",
			data: strings.Repeat("h", 25) + strings.Repeat("m", 10) + strings.Repeat("t", 25),
			want: "'" + strings.Repeat("h", 25) + "..." + strings.Repeat("t", 25) + "' (60 chars)",
		},
		{name: "escape sequence", data: "ok\x1b[2J\r\n", want: `'ok\x1b[2J\x0d\x0a'`},
		{name: "high bytes", data: "a\xffb\x00", want: `'a\xffb\x00'`},
		{
			name: "long with control bytes",
			data: "\x07" + strings.Repeat("h", 24) + strings.Repeat("m", 10) + strings.Repeat("t", 24) + "\x7f",
			want: `'\x07` + strings.Repeat("h", 24) + "..." + strings.Repeat("t", 24) + `\x7f' (60 chars)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Preview([]byte(tt.data), PreviewLength))
		})
	}
}

func TestTheoreticalTime(t *testing.T) {
	s := transport.DefaultSettings()
	assert.InDelta(t, 256*10.0/115200, TheoreticalTime(256, s), 1e-9)

	s.Parity = "even"
	s.StopBits = 2
	assert.InDelta(t, 1000*12.0/115200, TheoreticalTime(1000, s), 1e-9)

	assert.Zero(t, TheoreticalTime(0, transport.DefaultSettings()))
	assert.Zero(t, TheoreticalTime(10, transport.Settings{}))
}

func TestTrialResultPass(t *testing.T) {
	r, buf := newTestReporter("text")

	r.TrialStart(8)
	r.TrialResult(okResult(8))

	out := buf.String()
	assert.Contains(t, out, "Trial 8 bytes at 115200 baud")
	assert.Equal(t, 2, strings.Count(out, "PASS"))
	assert.NotContains(t, out, "FAIL")
	assert.NotContains(t, out, "sent:")
}

func TestTrialResultFailureShowsDiagnostics(t *testing.T) {
	r, buf := newTestReporter("text")

	res := sampleOutcome().History[2]
	res.Err = errors.NewTransportError("read", "/dev/ttyUSB1", stderrors.New("device unplugged"))
	r.TrialResult(res)

	out := buf.String()
	assert.Contains(t, out, "A->B FAIL")
	assert.Contains(t, out, "B->A PASS")
	assert.Contains(t, out, "'abcd'")
	assert.Contains(t, out, "'ab'")
	assert.Contains(t, out, "timed out")
	assert.Contains(t, out, "device unplugged")
}

func TestSummaryText(t *testing.T) {
	r, buf := newTestReporter("text")

	require.NoError(t, r.Summary(sampleOutcome()))

	out := buf.String()
	assert.Contains(t, out, "Max reliable size: 2 bytes")
	assert.Contains(t, out, "at 115200 baud 8N1")
	assert.Regexp(t, `Trials:\s+3\n`, out)
	assert.Contains(t, out, "2 (66.7%)")
	assert.Regexp(t, `Last success:\s+2 bytes in`, out)
	assert.Contains(t, out, "/dev/ttyUSB0 received: 'xx'")
	assert.NotContains(t, out, "interrupted")
}

func TestSummaryTextNoSuccess(t *testing.T) {
	r, buf := newTestReporter("text")

	outcome := search.Outcome{
		History: []trial.Result{{Size: 1}},
		Err:     errors.ErrCancelled,
	}
	require.NoError(t, r.Summary(outcome))

	out := buf.String()
	assert.Contains(t, out, "Max reliable size: 0 bytes")
	assert.Contains(t, out, "none")
	assert.Contains(t, out, "search interrupted")
}

func TestSummaryJSON(t *testing.T) {
	r, buf := newTestReporter("json")

	r.Header(search.Params{StartSize: 1, MaxSize: 4, Factor: 2})
	r.TrialResult(okResult(1))
	require.NoError(t, r.Summary(sampleOutcome()))

	var got Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got), "output must be a single json document")

	assert.Equal(t, 2, got.MaxReliableSize)
	assert.Equal(t, 3, got.Trials)
	assert.Equal(t, 2, got.Successes)
	assert.Equal(t, "8N1", got.Framing)
	assert.InDelta(t, 20.0/115200, got.TheoreticalSeconds, 1e-9)
	require.NotNil(t, got.LastSuccess)
	assert.Equal(t, 2, got.LastSuccess.Size)
	require.Len(t, got.History, 3)
	assert.Equal(t, 2, got.History[2].ReceivedAtoB)
	assert.True(t, got.History[2].TimedOut)
}

func TestSummaryYAML(t *testing.T) {
	r, buf := newTestReporter("YAML")

	require.NoError(t, r.Summary(sampleOutcome()))

	var got Summary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "/dev/ttyUSB0", got.EndpointA)
	assert.Equal(t, 2, got.MaxReliableSize)
	assert.False(t, got.Cancelled)
}

func TestPorts(t *testing.T) {
	ports := []transport.PortInfo{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R", SerialNumber: "A1B2"},
	}

	r, buf := newTestReporter("text")
	require.NoError(t, r.Ports(ports))
	assert.Contains(t, buf.String(), "/dev/ttyS0")
	assert.Contains(t, buf.String(), "USB 0403:6001 FT232R")

	r, buf = newTestReporter("text")
	require.NoError(t, r.Ports(nil))
	assert.Contains(t, buf.String(), "No serial ports found.")

	r, buf = newTestReporter("json")
	require.NoError(t, r.Ports(nil))
	assert.Equal(t, "[]\n", buf.String())
}
