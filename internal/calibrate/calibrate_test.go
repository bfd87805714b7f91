package calibrate

import (
	"math"
	"testing"

	"streamcheck/pkg/logx"
)

func TestRequiredMbps(t *testing.T) {
	// 8 streams at 100 KB/s = 800 KB/s = 6.25 Mbps.
	got := RequiredMbps(8, 100)
	if math.Abs(got-6.25) > 0.01 {
		t.Fatalf("RequiredMbps(8, 100) = %.3f, want 6.25", got)
	}
}

func TestCheckHeadroom(t *testing.T) {
	log := logx.Nop()

	if !CheckHeadroom(&Result{DownlinkMbps: 100}, 8, 100, log) {
		t.Fatal("100 Mbps downlink must cover 6.25 Mbps demand")
	}
	if CheckHeadroom(&Result{DownlinkMbps: 5}, 8, 100, log) {
		t.Fatal("5 Mbps downlink cannot cover 6.25 Mbps demand")
	}
	if !CheckHeadroom(nil, 8, 100, log) {
		t.Fatal("missing measurement must not trip the warning")
	}
}
