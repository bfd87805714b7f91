package engine

import (
	"testing"
	"time"

	"streamcheck/internal/model"
)

func testThresholds() thresholds {
	return thresholds{
		timeout:    time.Second,
		minSpeed:   100,
		maxLatency: 1000 * time.Millisecond,
		maxBytes:   100 * 1024,
	}
}

func TestClassifySuccess(t *testing.T) {
	out := classify(probeResult{ok: true, speed: 200, latency: 50 * time.Millisecond}, testThresholds())
	if out.status != model.StatusOnline {
		t.Fatalf("expected online, got %s", out.status)
	}
	if out.speed != 200 {
		t.Fatalf("expected speed 200, got %f", out.speed)
	}
	if out.latency != 50 {
		t.Fatalf("expected latency 50ms, got %f", out.latency)
	}
}

func TestClassifyReasonPrecedence(t *testing.T) {
	th := testThresholds()

	tests := []struct {
		name string
		res  probeResult
		want string
	}{
		{
			name: "slow transfer blames speed even with good latency",
			res:  probeResult{kind: kindThroughput, speed: 10, latency: 50 * time.Millisecond},
			want: ReasonInsufficientSpeed,
		},
		{
			name: "no throughput but measured latency over limit",
			res:  probeResult{kind: kindProtocol, speed: 0, latency: 1500 * time.Millisecond},
			want: ReasonLatencyExceeded,
		},
		{
			name: "nothing measured at all",
			res:  probeResult{kind: kindProtocol},
			want: ReasonConnectionFailed,
		},
		{
			name: "bad status with fast response",
			res:  probeResult{kind: kindProtocol, latency: 30 * time.Millisecond, detail: "status 500"},
			want: ReasonConnectionFailed,
		},
		{
			name: "timeout",
			res:  probeResult{kind: kindTimeout},
			want: ReasonTimeout,
		},
		{
			name: "unknown failure",
			res:  probeResult{kind: kindUnknown, detail: "panic: boom"},
			want: ReasonUnexpectedError,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := classify(tc.res, th)
			if out.status != model.StatusOffline {
				t.Fatalf("expected offline, got %s", out.status)
			}
			if out.reason != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, out.reason)
			}
		})
	}
}

func TestClassifyClientErrorCarriesDetail(t *testing.T) {
	out := classify(probeResult{kind: kindTransport, detail: "dial tcp: connection refused"}, testThresholds())
	if out.reason != ReasonClientError+": dial tcp: connection refused" {
		t.Fatalf("unexpected reason %q", out.reason)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	th := testThresholds()
	res := probeResult{kind: kindThroughput, speed: 42, latency: 1200 * time.Millisecond}
	a := classify(res, th)
	b := classify(res, th)
	if a != b {
		t.Fatalf("classify is not deterministic: %+v vs %+v", a, b)
	}
	if a.reason != ReasonInsufficientSpeed {
		t.Fatalf("speed takes precedence over latency, got %q", a.reason)
	}
}

func TestThroughputComputation(t *testing.T) {
	// 40 KiB in 0.2s = 200 KB/s.
	got := throughputKBs(40*1024, 200*time.Millisecond)
	if got < 199.9 || got > 200.1 {
		t.Fatalf("expected ~200 KB/s, got %f", got)
	}
	if throughputKBs(0, time.Second) != 0 {
		t.Fatalf("zero bytes must yield zero speed")
	}
	if throughputKBs(1024, 0) != 0 {
		t.Fatalf("zero elapsed must yield zero speed")
	}
}
