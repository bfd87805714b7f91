package engine

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// udp:// and rtp:// channels carry raw MPEG-TS over datagrams, so the
// two phases map to: wait for the first datagram (existence/latency),
// then keep reading datagrams until the byte cap or the phase deadline
// (throughput). Multicast groups are joined on the default interface.
func probeUDP(ctx context.Context, u *url.URL, th thresholds) probeResult {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		return probeResult{kind: kindTransport, detail: "udp url without port"}
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return errResult(err)
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp", nil, addr)
	} else {
		conn, err = net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: addr.Port})
	}
	if err != nil {
		return errResult(err)
	}
	defer conn.Close()

	buf := make([]byte, probeChunkSize)

	// Latency phase: time until the first datagram arrives.
	conn.SetReadDeadline(time.Now().Add(th.timeout))
	start := time.Now()
	n, _, err := conn.ReadFrom(buf)
	latency := time.Since(start)
	if err != nil {
		return errResult(err)
	}
	if latency > th.maxLatency {
		return probeResult{latency: latency, kind: kindProtocol, detail: "latency over limit"}
	}

	// Throughput phase: drain datagrams up to the byte cap.
	total := int64(n)
	fetchStart := start
	deadline := time.Now().Add(th.timeout)
	conn.SetReadDeadline(deadline)
	for total < th.maxBytes && time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		n, _, err = conn.ReadFrom(buf)
		total += int64(n)
		if err != nil {
			if isTimeout(err) {
				break
			}
			r := errResult(err)
			r.latency = latency
			return r
		}
	}

	speed := throughputKBs(total, time.Since(fetchStart))
	if speed < th.minSpeed {
		return probeResult{latency: latency, speed: speed, kind: kindThroughput,
			detail: fmt.Sprintf("%.1f KB/s below minimum", speed)}
	}
	return probeResult{ok: true, latency: latency, speed: speed}
}
