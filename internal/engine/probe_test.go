package engine

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"streamcheck/internal/model"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		url  string
		want protoClass
	}{
		{"udp://239.255.0.1:1234", classUDP},
		{"rtp://239.255.0.1:1234", classUDP},
		{"http://gw.local:4022/udp/239.0.0.1:1234", classUDP},
		{"http://gw.local:4022/RTP/239.0.0.1:1234", classUDP},
		{"http://cdn.example.com/live.m3u8", classHTTP},
		{"https://cdn.example.com/live.m3u8", classHTTP},
		{"rtsp://10.0.0.5:554/stream", classHTTP},
		{"http://cdn.example.com/updates/feed", classHTTP}, // "udp" must be a path segment
	}
	for _, tc := range tests {
		if got := classOf(tc.url); got != tc.want {
			t.Fatalf("classOf(%q) = %s, want %s", tc.url, got, tc.want)
		}
	}
}

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := New(cfg, testLogger())
	client, err := e.newBatchClient()
	if err != nil {
		t.Fatalf("newBatchClient: %v", err)
	}
	e.client = client
	t.Cleanup(func() {
		if tr, ok := client.Transport.(*http.Transport); ok {
			tr.CloseIdleConnections()
		}
	})
	return e
}

func TestProbeHTTPOnline(t *testing.T) {
	body := make([]byte, 40*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	e := testEngine(t, Config{MinDownloadSpeed: 0.001, EnableLogging: false})
	th := e.cfg.thresholdsFor(classHTTP)

	res := e.probeHTTP(context.Background(), srv.URL, th)
	if !res.ok {
		t.Fatalf("expected success, got kind=%d detail=%q", res.kind, res.detail)
	}
	if res.latency <= 0 {
		t.Fatalf("expected measured latency, got %v", res.latency)
	}
	if res.speed <= 0 {
		t.Fatalf("expected measured speed, got %f", res.speed)
	}
}

func TestProbeHTTPBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e := testEngine(t, Config{EnableLogging: false})
	res := e.probeHTTP(context.Background(), srv.URL, e.cfg.thresholdsFor(classHTTP))
	if res.ok || res.kind != kindProtocol {
		t.Fatalf("expected protocol failure, got %+v", res)
	}
	if res.latency <= 0 {
		t.Fatalf("latency should still be recorded on bad status")
	}
}

func TestProbeHTTPLatencyExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(120 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := testEngine(t, Config{MaxHTTPLatency: 20 * time.Millisecond, EnableLogging: false})
	res := e.probeHTTP(context.Background(), srv.URL, e.cfg.thresholdsFor(classHTTP))
	if res.ok || res.kind != kindProtocol {
		t.Fatalf("expected protocol failure, got %+v", res)
	}
	out := classify(res, e.cfg.thresholdsFor(classHTTP))
	if out.reason != ReasonLatencyExceeded {
		t.Fatalf("expected %q, got %q", ReasonLatencyExceeded, out.reason)
	}
}

func TestProbeHTTPInsufficientSpeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Trickle a small payload so measured throughput stays tiny.
		fl, _ := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			w.Write(make([]byte, 512))
			if fl != nil {
				fl.Flush()
			}
			time.Sleep(30 * time.Millisecond)
		}
	}))
	defer srv.Close()

	e := testEngine(t, Config{MinDownloadSpeed: 100000, EnableLogging: false})
	th := e.cfg.thresholdsFor(classHTTP)
	res := e.probeHTTP(context.Background(), srv.URL, th)
	if res.ok || res.kind != kindThroughput {
		t.Fatalf("expected throughput failure, got %+v", res)
	}
	if res.speed <= 0 {
		t.Fatalf("expected measured speed, got %f", res.speed)
	}
	if out := classify(res, th); out.reason != ReasonInsufficientSpeed {
		t.Fatalf("expected %q, got %q", ReasonInsufficientSpeed, out.reason)
	}
}

func TestProbeHTTPStreamDiesMidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Fast burst, then the connection drops before the cap is reached.
		w.Header().Set("Content-Length", "204800")
		w.Write(make([]byte, 60*1024))
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	e := testEngine(t, Config{MaxDownloadSize: 200 * 1024, MinDownloadSpeed: 0.001, EnableLogging: false})
	th := e.cfg.thresholdsFor(classHTTP)
	res := e.probeHTTP(context.Background(), srv.URL, th)
	if res.ok {
		t.Fatalf("a stream dying mid-body must fail, got %+v", res)
	}
	if res.kind != kindTransport && res.kind != kindTimeout {
		t.Fatalf("expected transport-level failure, got kind=%d detail=%q", res.kind, res.detail)
	}
	if res.speed != 0 {
		t.Fatalf("partial bytes must not yield a speed, got %f", res.speed)
	}
	if res.latency <= 0 {
		t.Fatalf("phase-1 latency should survive a phase-2 failure")
	}
	if out := classify(res, th); out.reason == ReasonInsufficientSpeed || out.status == model.StatusOnline {
		t.Fatalf("misclassified: %+v", out)
	}
}

func TestProbeHTTPConnectionRefused(t *testing.T) {
	e := testEngine(t, Config{Timeout: time.Second, EnableLogging: false})
	res := e.probeHTTP(context.Background(), "http://127.0.0.1:1/stream", e.cfg.thresholdsFor(classHTTP))
	if res.ok {
		t.Fatalf("expected failure")
	}
	if res.kind != kindTransport && res.kind != kindTimeout {
		t.Fatalf("expected transport-level failure, got kind=%d detail=%q", res.kind, res.detail)
	}
}

func TestProbeHTTPHonorsDownloadCap(t *testing.T) {
	var sent int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Effectively unbounded payload; the probe must stop at the cap.
		chunk := make([]byte, probeChunkSize)
		for i := 0; i < 10000; i++ {
			n, err := w.Write(chunk)
			sent += int64(n)
			if err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	e := testEngine(t, Config{MaxDownloadSize: 16 * 1024, MinDownloadSpeed: 0.001, EnableLogging: false})
	res := e.probeHTTP(context.Background(), srv.URL, e.cfg.thresholdsFor(classHTTP))
	if !res.ok {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestProbeRTSPDescribePassesRegardlessOfRate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)

		if drainRTSPRequest(br) != nil {
			return
		}
		conn.Write([]byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\nPublic: OPTIONS, DESCRIBE\r\n\r\n"))

		if drainRTSPRequest(br) != nil {
			return
		}
		// A real SDP answer is a few hundred bytes; deliver it slowly so
		// its byte rate lands far under any sane media-speed floor.
		sdp := "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=ch\r\nm=video 0 RTP/AVP 96\r\n"
		time.Sleep(80 * time.Millisecond)
		fmt.Fprintf(conn, "RTSP/1.0 200 OK\r\nCSeq: 2\r\nContent-Length: %d\r\n\r\n%s", len(sdp), sdp)
	}()

	u, _ := url.Parse("rtsp://" + ln.Addr().String() + "/stream")
	th := thresholds{timeout: 2 * time.Second, minSpeed: 100, maxLatency: 2 * time.Second, maxBytes: 8 * 1024}
	res := probeRTSP(context.Background(), u, th)
	if !res.ok {
		t.Fatalf("expected success, got kind=%d detail=%q", res.kind, res.detail)
	}
	if res.latency <= 0 {
		t.Fatalf("expected measured latency, got %v", res.latency)
	}
	if out := classify(res, th); out.status != model.StatusOnline {
		t.Fatalf("expected online, got %+v", out)
	}
}

func TestProbeRTSPDescribeError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)

		if drainRTSPRequest(br) != nil {
			return
		}
		conn.Write([]byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n"))

		if drainRTSPRequest(br) != nil {
			return
		}
		conn.Write([]byte("RTSP/1.0 404 Not Found\r\nCSeq: 2\r\n\r\n"))
	}()

	u, _ := url.Parse("rtsp://" + ln.Addr().String() + "/gone")
	th := thresholds{timeout: 2 * time.Second, minSpeed: 100, maxLatency: 2 * time.Second, maxBytes: 8 * 1024}
	res := probeRTSP(context.Background(), u, th)
	if res.ok || res.kind != kindProtocol {
		t.Fatalf("expected protocol failure, got %+v", res)
	}
	if res.latency <= 0 {
		t.Fatalf("phase-1 latency should survive a describe failure")
	}
}

func drainRTSPRequest(br *bufio.Reader) error {
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			return nil
		}
	}
}

func TestProbeUDPFirstDatagramLatency(t *testing.T) {
	port := freeUDPPort(t)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", port))
		if err != nil {
			return
		}
		defer conn.Close()
		payload := make([]byte, 1316) // typical MPEG-TS datagram
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				conn.Write(payload)
			}
		}
	}()

	u, _ := url.Parse("udp://127.0.0.1:" + port)
	th := thresholds{timeout: 2 * time.Second, minSpeed: 0.001, maxLatency: 2 * time.Second, maxBytes: 8 * 1024}
	res := probeUDP(context.Background(), u, th)
	if !res.ok {
		t.Fatalf("expected success, got kind=%d detail=%q", res.kind, res.detail)
	}
	if res.speed <= 0 {
		t.Fatalf("expected measured speed, got %f", res.speed)
	}
}

func TestProbeUDPTimeoutWithoutTraffic(t *testing.T) {
	port := freeUDPPort(t)
	u, _ := url.Parse("udp://127.0.0.1:" + port)
	th := thresholds{timeout: 100 * time.Millisecond, minSpeed: 30, maxLatency: 300 * time.Millisecond, maxBytes: 8 * 1024}

	res := probeUDP(context.Background(), u, th)
	if res.ok || res.kind != kindTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if out := classify(res, th); out.reason != ReasonTimeout {
		t.Fatalf("expected %q, got %q", ReasonTimeout, out.reason)
	}
}

func TestProbeUDPNoPort(t *testing.T) {
	u, _ := url.Parse("udp://239.0.0.1")
	res := probeUDP(context.Background(), u, thresholds{timeout: time.Second})
	if res.ok || res.kind != kindTransport {
		t.Fatalf("expected transport failure for udp url without port, got %+v", res)
	}
}

func freeUDPPort(t *testing.T) string {
	t.Helper()
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving udp port: %v", err)
	}
	_, port, _ := net.SplitHostPort(c.LocalAddr().String())
	c.Close()
	return port
}
