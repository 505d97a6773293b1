package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"linkprobe/internal/logging"
)

// Stats holds live byte counts for one trial. Receivers update the counts,
// the reporter only reads them.
type Stats struct {
	Size         int
	ExpectedAtoB int64
	ExpectedBtoA int64
	ReceivedAtoB atomic.Int64 // bytes endpoint B has accumulated
	ReceivedBtoA atomic.Int64 // bytes endpoint A has accumulated
	StartTime    time.Time
}

// NewStats returns stats for a trial moving size bytes each way.
func NewStats(size int) *Stats {
	return &Stats{
		Size:         size,
		ExpectedAtoB: int64(size),
		ExpectedBtoA: int64(size),
		StartTime:    time.Now(),
	}
}

// AddAtoB atomically records bytes that arrived at endpoint B
func (s *Stats) AddAtoB(n int) {
	s.ReceivedAtoB.Add(int64(n))
}

// AddBtoA atomically records bytes that arrived at endpoint A
func (s *Stats) AddBtoA(n int) {
	s.ReceivedBtoA.Add(int64(n))
}

// Percent returns the completion of the slower direction.
func (s *Stats) Percent() float64 {
	return min(percent(s.ReceivedAtoB.Load(), s.ExpectedAtoB), percent(s.ReceivedBtoA.Load(), s.ExpectedBtoA))
}

func percent(got, want int64) float64 {
	if want <= 0 {
		return 100
	}
	return min(float64(got)/float64(want)*100, 100)
}

// Reporter redraws a progress line for a running trial
type Reporter struct {
	stats    *Stats
	out      io.Writer
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReporter creates a reporter that draws to out once per interval.
func NewReporter(stats *Stats, out io.Writer, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{
		stats:    stats,
		out:      out,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins progress reporting
func (r *Reporter) Start() {
	r.wg.Add(1)
	go r.reportLoop()
}

// Stop stops reporting and waits for the loop to exit. Safe to call twice.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.draw()
		fmt.Fprintln(r.out)
	})
}

func (r *Reporter) reportLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	lastLogged := time.Now()
	for {
		select {
		case <-ticker.C:
			r.draw()
			// Log progress every 10 seconds for long trials
			if time.Since(lastLogged) >= 10*time.Second {
				logging.LogTrialProgress(r.stats.Size,
					r.stats.ReceivedAtoB.Load(), r.stats.ReceivedBtoA.Load(),
					time.Since(r.stats.StartTime))
				lastLogged = time.Now()
			}
		case <-r.done:
			return
		}
	}
}

// draw renders both directions on one carriage-returned line
func (r *Reporter) draw() {
	atob := r.stats.ReceivedAtoB.Load()
	btoa := r.stats.ReceivedBtoA.Load()

	fmt.Fprintf(r.out, "\r  A->B %s %d/%d  B->A %s %d/%d  %.1fs",
		bar(percent(atob, r.stats.ExpectedAtoB)), atob, r.stats.ExpectedAtoB,
		bar(percent(btoa, r.stats.ExpectedBtoA)), btoa, r.stats.ExpectedBtoA,
		time.Since(r.stats.StartTime).Seconds())
}

func bar(percent float64) string {
	const barWidth = 20
	completedWidth := int(float64(barWidth) * percent / 100)
	return "[" + strings.Repeat("█", completedWidth) + strings.Repeat("░", barWidth-completedWidth) + "]"
}
