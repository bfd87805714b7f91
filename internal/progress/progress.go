// Package progress renders a terminal progress bar for long test batches.
//
// Rendering is throttled with a rate limiter so tight completion bursts do
// not flood the terminal; the instantaneous rate is smoothed with an
// exponentially weighted moving average for the remaining-time estimate.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	barWidth  = 30
	ewmaAlpha = 0.1
)

type Tracker struct {
	mu          sync.Mutex
	total       int
	completed   int
	start       time.Time
	avgRate     float64 // items/sec, EWMA-smoothed
	done        bool
	description string

	out     io.Writer
	limiter *rate.Limiter
	now     func() time.Time
}

// New returns a tracker for total items writing to stderr, redrawing at
// most twice per second.
func New(total int, description string) *Tracker {
	return newTracker(total, description, os.Stderr, time.Now)
}

func newTracker(total int, description string, out io.Writer, now func() time.Time) *Tracker {
	if total < 1 {
		total = 1
	}
	return &Tracker{
		total:       total,
		description: description,
		start:       now(),
		out:         out,
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		now:         now,
	}
}

// Add records n completed items. Safe for concurrent use; this is the
// engine's progress callback.
func (t *Tracker) Add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	if n > t.total-t.completed {
		n = t.total - t.completed
	}
	t.completed += n

	elapsed := t.now().Sub(t.start).Seconds()
	if elapsed > 0 && t.completed > 0 {
		current := float64(t.completed) / elapsed
		if t.avgRate == 0 {
			t.avgRate = current
		} else {
			t.avgRate = ewmaAlpha*current + (1-ewmaAlpha)*t.avgRate
		}
	}

	if t.completed >= t.total {
		t.done = true
		t.render()
		fmt.Fprintln(t.out)
		return
	}
	if t.limiter.Allow() {
		t.render()
	}
}

// Done finishes the bar even when fewer than total items completed.
func (t *Tracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.render()
	fmt.Fprintln(t.out)
}

// Rate returns the smoothed completion rate in items per second.
func (t *Tracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avgRate
}

// Completed returns how many items have been recorded so far.
func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// render must be called with the mutex held.
func (t *Tracker) render() {
	pct := float64(t.completed) / float64(t.total) * 100
	filled := barWidth * t.completed / t.total
	bar := strings.Repeat("■", filled) + strings.Repeat("□", barWidth-filled)

	elapsed := t.now().Sub(t.start)
	remaining := "..."
	if t.avgRate > 0 && t.completed < t.total {
		eta := time.Duration(float64(t.total-t.completed) / t.avgRate * float64(time.Second))
		remaining = formatDuration(eta)
	} else if t.completed >= t.total {
		remaining = "0s"
	}

	fmt.Fprintf(t.out, "\r%s %s %.1f%% | %d/%d | elapsed %s | eta %s",
		t.description, bar, pct, t.completed, t.total,
		formatDuration(elapsed), remaining)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}
