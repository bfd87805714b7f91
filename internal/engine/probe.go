package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// protoClass selects the timeout/threshold defaults for a probe.
type protoClass int

const (
	classHTTP protoClass = iota
	classUDP
)

func (c protoClass) String() string {
	if c == classUDP {
		return "udp"
	}
	return "http"
}

// classOf classifies a channel URL. UDP-class covers the udp and rtp
// schemes plus udpxy-style HTTP relays whose path contains a /udp/ or
// /rtp/ segment; everything else (http, https, rtsp) is HTTP-class.
func classOf(rawURL string) protoClass {
	u, err := url.Parse(rawURL)
	if err != nil {
		return classHTTP
	}
	switch strings.ToLower(u.Scheme) {
	case "udp", "rtp":
		return classUDP
	}
	p := strings.ToLower(u.Path)
	if strings.Contains(p, "/rtp/") || strings.Contains(p, "/udp/") {
		return classUDP
	}
	return classHTTP
}

// thresholds are the effective per-class limits for one probe.
type thresholds struct {
	timeout    time.Duration
	minSpeed   float64 // KB/s
	maxLatency time.Duration
	maxBytes   int64
}

func (cfg Config) thresholdsFor(class protoClass) thresholds {
	if class == classUDP {
		return thresholds{
			timeout:    cfg.UDPTimeout,
			minSpeed:   cfg.MinUDPDownloadSpeed,
			maxLatency: cfg.MaxUDPLatency,
			maxBytes:   cfg.MaxDownloadSize,
		}
	}
	return thresholds{
		timeout:    cfg.HTTPTimeout,
		minSpeed:   cfg.MinDownloadSpeed,
		maxLatency: cfg.MaxHTTPLatency,
		maxBytes:   cfg.MaxDownloadSize,
	}
}

// probeResult is the raw outcome of one two-phase test. It is a value, not
// an error: per-channel failures never propagate as Go errors.
type probeResult struct {
	ok      bool
	speed   float64       // KB/s, 0 when the throughput phase did not pass
	latency time.Duration // existence-check latency, 0 when unmeasured
	kind    probeErrKind
	detail  string
}

const probeChunkSize = 4 * 1024

const probeUserAgent = "Mozilla/5.0"

// probe runs the two-phase test for one URL, short-circuiting when the
// existence check fails. Any timeout or transport error is absorbed into
// the result.
func (e *Engine) probe(ctx context.Context, rawURL string, class protoClass, th thresholds) probeResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return probeResult{kind: kindTransport, detail: truncateDetail(err.Error())}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return e.probeHTTP(ctx, rawURL, th)
	case "rtsp":
		return probeRTSP(ctx, u, th)
	case "udp", "rtp":
		return probeUDP(ctx, u, th)
	default:
		return probeResult{kind: kindTransport, detail: "unsupported scheme " + u.Scheme}
	}
}

// probeHTTP implements both phases over the engine's shared client:
// a HEAD existence check, then a bounded GET measuring throughput.
func (e *Engine) probeHTTP(ctx context.Context, rawURL string, th thresholds) probeResult {
	// Latency phase.
	headCtx, cancel := context.WithTimeout(ctx, th.timeout)
	req, err := http.NewRequestWithContext(headCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		cancel()
		return probeResult{kind: kindTransport, detail: truncateDetail(err.Error())}
	}
	req.Header.Set("User-Agent", probeUserAgent)

	start := time.Now()
	resp, err := e.client.Do(req)
	latency := time.Since(start)
	cancel()
	if err != nil {
		return errResult(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return probeResult{latency: latency, kind: kindProtocol,
			detail: "status " + resp.Status}
	}
	if latency > th.maxLatency {
		return probeResult{latency: latency, kind: kindProtocol, detail: "latency over limit"}
	}

	// Throughput phase.
	getCtx, cancel := context.WithTimeout(ctx, th.timeout)
	defer cancel()
	req, err = http.NewRequestWithContext(getCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return probeResult{latency: latency, kind: kindTransport, detail: truncateDetail(err.Error())}
	}
	req.Header.Set("User-Agent", probeUserAgent)

	fetchStart := time.Now()
	resp, err = e.client.Do(req)
	if err != nil {
		r := errResult(err)
		r.latency = latency
		return r
	}
	defer resp.Body.Close()

	read, err := readCapped(resp.Body, th.maxBytes)
	if err != nil {
		// A stream that dies mid-body is down, no matter how fast the
		// bytes arrived before it broke. readCapped only reports errors
		// raised before the byte cap; a clean EOF is not an error.
		r := errResult(err)
		r.latency = latency
		return r
	}
	speed := throughputKBs(read, time.Since(fetchStart))
	if speed < th.minSpeed {
		return probeResult{latency: latency, speed: speed, kind: kindThroughput, detail: "throughput below minimum"}
	}
	return probeResult{ok: true, latency: latency, speed: speed}
}

// readCapped drains r in fixed-size chunks, stopping once cap bytes have
// been read so unbounded payloads cannot blow the probe budget.
func readCapped(r io.Reader, maxBytes int64) (int64, error) {
	buf := make([]byte, probeChunkSize)
	var total int64
	for total < maxBytes {
		n, err := r.Read(buf)
		total += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}

// throughputKBs computes KB/s from bytes read over elapsed wall time.
func throughputKBs(bytes int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 || bytes <= 0 {
		return 0
	}
	return float64(bytes) / secs / 1024
}

// errResult maps a transport-level Go error onto a probe result.
func errResult(err error) probeResult {
	switch {
	case isTimeout(err):
		return probeResult{kind: kindTimeout, detail: truncateDetail(err.Error())}
	case isTransport(err):
		return probeResult{kind: kindTransport, detail: truncateDetail(err.Error())}
	default:
		return probeResult{kind: kindUnknown, detail: truncateDetail(err.Error())}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTransport(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var (
		ue *url.Error
		oe *net.OpError
	)
	if errors.As(err, &ue) || errors.As(err, &oe) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var de *net.DNSError
	return errors.As(err, &de)
}

const maxErrDetail = 100

func truncateDetail(s string) string {
	if len(s) <= maxErrDetail {
		return s
	}
	return s[:maxErrDetail-3] + "..."
}
