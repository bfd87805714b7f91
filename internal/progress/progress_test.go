package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func fakeClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func TestAddClampsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	tr := newTracker(5, "test", &buf, fakeClock(time.Now(), 10*time.Millisecond))

	for i := 0; i < 20; i++ {
		tr.Add(1)
	}
	if got := tr.Completed(); got != 5 {
		t.Fatalf("completed = %d, want clamp at 5", got)
	}
	out := buf.String()
	if !strings.Contains(out, "5/5") || !strings.Contains(out, "100.0%") {
		t.Fatalf("final render missing completion state: %q", out)
	}
}

func TestRateSmoothingStaysBounded(t *testing.T) {
	var buf bytes.Buffer
	// 100ms per item -> true rate 10/s; EWMA must land near it.
	tr := newTracker(50, "test", &buf, fakeClock(time.Now(), 100*time.Millisecond))

	for i := 0; i < 50; i++ {
		tr.Add(1)
	}
	r := tr.Rate()
	if r < 5 || r > 15 {
		t.Fatalf("smoothed rate = %.2f, want near 10 items/sec", r)
	}
}

func TestDoneIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	tr := newTracker(10, "test", &buf, fakeClock(time.Now(), time.Millisecond))
	tr.Add(3)
	tr.Done()
	before := buf.Len()
	tr.Done()
	tr.Add(1)
	if buf.Len() != before {
		t.Fatal("calls after Done must not render")
	}
	if tr.Completed() != 3 {
		t.Fatalf("completed = %d, want 3", tr.Completed())
	}
}

func TestConcurrentAdds(t *testing.T) {
	var buf bytes.Buffer
	tr := newTracker(100, "test", &buf, fakeClock(time.Now(), time.Microsecond))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				tr.Add(1)
			}
		}()
	}
	wg.Wait()
	if tr.Completed() != 100 {
		t.Fatalf("completed = %d, want 100", tr.Completed())
	}
}
