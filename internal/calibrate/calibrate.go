// Package calibrate measures the local downlink before a test batch so the
// operator learns when the configured concurrency would saturate it and
// skew throughput measurements.
package calibrate

import (
	"context"
	"fmt"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"streamcheck/pkg/logx"
)

// Result is one downlink measurement.
type Result struct {
	DownlinkMbps float64
	Latency      time.Duration
	ServerName   string
}

const serverCandidates = 5

// Measure runs a single download test against the lowest-latency nearby
// server.
func Measure(ctx context.Context, log logx.Logger) (*Result, error) {
	// Avoid package-level speedtest helpers; speedtest-go keeps state there.
	stc := st.New()
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no speedtest servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := serverCandidates
	if n > len(servers) {
		n = len(servers)
	}

	var best *st.Server
	for _, s := range servers[:n] {
		if err := s.PingTestContext(ctx, nil); err != nil {
			continue
		}
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("all latency tests failed")
	}

	if err := best.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test: %w", err)
	}

	res := &Result{
		DownlinkMbps: best.DLSpeed.Mbps(),
		Latency:      best.Latency,
		ServerName:   best.Name,
	}
	log.Info("downlink calibrated",
		logx.Float64("mbps", res.DownlinkMbps),
		logx.Duration("latency", res.Latency),
		logx.String("server", res.ServerName))
	return res, nil
}

// RequiredMbps converts the engine's worst-case aggregate demand into
// Mbps: concurrency streams each pulling minSpeedKBs.
func RequiredMbps(concurrency int, minSpeedKBs float64) float64 {
	return float64(concurrency) * minSpeedKBs * 8 / 1024
}

// CheckHeadroom warns when the measured downlink cannot sustain the
// configured concurrency at the minimum acceptable speed. Channels would
// then fail the speed threshold because of local congestion, not because
// they are slow.
func CheckHeadroom(res *Result, concurrency int, minSpeedKBs float64, log logx.Logger) bool {
	if res == nil {
		return true
	}
	need := RequiredMbps(concurrency, minSpeedKBs)
	if res.DownlinkMbps >= need {
		return true
	}
	log.Warn("downlink below worst-case demand, speed results may be pessimistic",
		logx.Float64("downlink_mbps", res.DownlinkMbps),
		logx.Float64("required_mbps", need),
		logx.Int("concurrency", concurrency))
	return false
}
