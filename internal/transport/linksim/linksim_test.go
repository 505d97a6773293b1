package linksim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readAll drains e until want bytes arrived or the deadline passes.
func readAll(t *testing.T, e *Endpoint, want int, within time.Duration) []byte {
	t.Helper()

	var got []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(within)
	for len(got) < want && time.Now().Before(deadline) {
		n, err := e.ReadAvailable(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	return got
}

func TestPerfectLinkDeliversBothWays(t *testing.T) {
	link := Perfect()

	n, err := link.A.Write([]byte("hello from a"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = link.B.Write([]byte("hello from b"))
	require.NoError(t, err)

	assert.Equal(t, []byte("hello from a"), readAll(t, link.B, 12, time.Second))
	assert.Equal(t, []byte("hello from b"), readAll(t, link.A, 12, time.Second))
}

func TestReadAvailableTimesOutEmpty(t *testing.T) {
	link := New("a", "b", Options{ReadTimeout: 20 * time.Millisecond})

	start := time.Now()
	n, err := link.A.ReadAvailable(make([]byte, 8))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestReadAvailablePartialCopyKeepsRemainder(t *testing.T) {
	link := Perfect()
	_, err := link.A.Write([]byte("abcdef"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := link.B.ReadAvailable(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	n, err = link.B.ReadAvailable(buf)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestDirectionFaults(t *testing.T) {
	tests := []struct {
		name string
		dir  Direction
		sent string
		want string
	}{
		{name: "capacity truncates", dir: Direction{Capacity: 4}, sent: "abcdefgh", want: "abcd"},
		{name: "drop every third", dir: Direction{DropEvery: 3}, sent: "abcdefgh", want: "abdegh"},
		{name: "corrupt every fourth", dir: Direction{CorruptEvery: 4}, sent: "aaaaaaaa", want: "aaa`aaa`"},
		{name: "no faults", dir: Direction{}, sent: "abcdefgh", want: "abcdefgh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := New("a", "b", Options{AtoB: tt.dir})

			_, err := link.A.Write([]byte(tt.sent))
			require.NoError(t, err)

			got := readAll(t, link.B, len(tt.want), 200*time.Millisecond)
			assert.Equal(t, tt.want, string(got))
			assert.Zero(t, link.B.Buffered())
		})
	}
}

func TestFaultsOnlyAffectTheirDirection(t *testing.T) {
	link := New("a", "b", Options{AtoB: Direction{Capacity: 2}})

	_, err := link.B.Write([]byte("untouched"))
	require.NoError(t, err)

	assert.Equal(t, "untouched", string(readAll(t, link.A, 9, time.Second)))
}

func TestResetRestartsCapacityAndDiscardsStaleBytes(t *testing.T) {
	link := New("a", "b", Options{AtoB: Direction{Capacity: 4}})

	_, err := link.A.Write([]byte("stale"))
	require.NoError(t, err)
	assert.Equal(t, 4, link.B.Buffered())

	require.NoError(t, link.B.ResetInputBuffer())
	assert.Zero(t, link.B.Buffered())

	_, err = link.A.Write([]byte("wxyz"))
	require.NoError(t, err)
	assert.Equal(t, "wxyz", string(readAll(t, link.B, 4, time.Second)))
}

func TestLatencyDelaysDelivery(t *testing.T) {
	link := New("a", "b", Options{
		AtoB:        Direction{Latency: 50 * time.Millisecond},
		ReadTimeout: 5 * time.Millisecond,
	})

	_, err := link.A.Write([]byte("late"))
	require.NoError(t, err)

	n, err := link.B.ReadAvailable(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n, "bytes must not arrive before the latency elapses")

	assert.Equal(t, "late", string(readAll(t, link.B, 4, time.Second)))
}

func TestBlackholeDeliversNothing(t *testing.T) {
	link := New("a", "b", Options{AtoB: Direction{Blackhole: true}})

	n, err := link.A.Write([]byte("gone"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, link.B.Buffered())
}

func TestInjectedErrors(t *testing.T) {
	link := Perfect()
	boom := errors.New("device removed")

	link.A.FailWrites(boom)
	_, err := link.A.Write([]byte("x"))
	assert.ErrorIs(t, err, boom)

	link.B.FailReads(boom)
	_, err = link.B.ReadAvailable(make([]byte, 1))
	assert.ErrorIs(t, err, boom)

	link.A.FailResets(boom)
	assert.ErrorIs(t, link.A.ResetInputBuffer(), boom)

	link.A.FailWrites(nil)
	_, err = link.A.Write([]byte("x"))
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	link := Perfect()

	require.NoError(t, link.B.Close())
	assert.ErrorIs(t, link.B.Close(), ErrClosed)

	_, err := link.B.ReadAvailable(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)

	// Writing towards a closed peer is silently discarded, like a dead radio
	_, err = link.A.Write([]byte("into the void"))
	assert.NoError(t, err)

	_, err = link.B.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
