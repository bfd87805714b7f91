package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"
)

// RTSP channels are HTTP-class: OPTIONS stands in for the existence check
// and DESCRIBE for the content fetch. Both phases run over one TCP
// connection; the connection is closed when the probe ends.
func probeRTSP(ctx context.Context, u *url.URL, th thresholds) probeResult {
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "554")
	}

	d := net.Dialer{Timeout: th.timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errResult(err)
	}
	defer conn.Close()

	br := bufio.NewReader(conn)

	// Latency phase: OPTIONS round trip.
	conn.SetDeadline(time.Now().Add(th.timeout))
	status, _, err := rtspRoundTrip(conn, br, "OPTIONS", u.String(), 1)
	latency := time.Since(start)
	if err != nil {
		return errResult(err)
	}
	if status != 200 {
		return probeResult{latency: latency, kind: kindProtocol,
			detail: fmt.Sprintf("rtsp status %d", status)}
	}
	if latency > th.maxLatency {
		return probeResult{latency: latency, kind: kindProtocol, detail: "latency over limit"}
	}

	// Throughput phase: DESCRIBE, measuring the SDP payload transfer.
	conn.SetDeadline(time.Now().Add(th.timeout))
	fetchStart := time.Now()
	status, body, err := rtspRoundTrip(conn, br, "DESCRIBE", u.String(), 2)
	if err != nil {
		r := errResult(err)
		r.latency = latency
		return r
	}
	if status != 200 {
		return probeResult{latency: latency, kind: kindProtocol,
			detail: fmt.Sprintf("rtsp describe status %d", status)}
	}
	// The SDP answer is a few hundred bytes, so its transfer rate is
	// round-trip dominated and says nothing about the media path. A 200
	// DESCRIBE passes the content phase; the byte-rate floor only applies
	// to protocols that serve the media bytes themselves.
	speed := throughputKBs(body, time.Since(fetchStart))
	return probeResult{ok: true, latency: latency, speed: speed}
}

// rtspRoundTrip sends one request and reads the response, returning the
// status code and the number of body bytes.
func rtspRoundTrip(conn net.Conn, br *bufio.Reader, method, target string, cseq int) (int, int64, error) {
	req := fmt.Sprintf("%s %s RTSP/1.0\r\nCSeq: %d\r\nUser-Agent: %s\r\n", method, target, cseq, probeUserAgent)
	if method == "DESCRIBE" {
		req += "Accept: application/sdp\r\n"
	}
	req += "\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		return 0, 0, err
	}

	line, err := br.ReadString('\n')
	if err != nil {
		return 0, 0, err
	}
	var proto string
	var status int
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%s %d", &proto, &status); err != nil || !strings.HasPrefix(proto, "RTSP/") {
		return 0, 0, fmt.Errorf("malformed rtsp response %q", strings.TrimSpace(line))
	}

	var contentLength int64
	for {
		h, err := br.ReadString('\n')
		if err != nil {
			return 0, 0, err
		}
		h = strings.TrimSpace(h)
		if h == "" {
			break
		}
		if k, v, ok := strings.Cut(h, ":"); ok && strings.EqualFold(strings.TrimSpace(k), "Content-Length") {
			fmt.Sscanf(strings.TrimSpace(v), "%d", &contentLength)
		}
	}

	var body int64
	if contentLength > 0 {
		read, err := readCapped(io.LimitReader(br, contentLength), contentLength)
		body = read
		if err != nil {
			return status, body, err
		}
	}
	return status, body, nil
}
