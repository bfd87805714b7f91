package engine

import "streamcheck/internal/model"

// Failure reasons surfaced in logs. Reason strings are stable: they are
// part of the observable per-channel outcome.
const (
	ReasonInsufficientSpeed = "insufficient speed"
	ReasonLatencyExceeded   = "latency exceeded"
	ReasonConnectionFailed  = "connection failed"
	ReasonTimeout           = "timeout"
	ReasonClientError       = "client error"
	ReasonUnexpectedError   = "unexpected error"
)

// outcome is the classified terminal state for one channel.
type outcome struct {
	status  model.Status
	reason  string
	latency float64 // ms
	speed   float64 // KB/s
}

// classify derives exactly one outcome from a raw probe result. It is a
// pure function of its inputs: the same (result, thresholds) pair always
// yields the same status and reason.
func classify(res probeResult, th thresholds) outcome {
	latencyMS := float64(res.latency) / 1e6

	if res.ok {
		return outcome{status: model.StatusOnline, latency: latencyMS, speed: res.speed}
	}

	o := outcome{status: model.StatusOffline, latency: latencyMS, speed: res.speed}
	switch res.kind {
	case kindTimeout:
		o.reason = ReasonTimeout
	case kindTransport:
		o.reason = ReasonClientError
		if res.detail != "" {
			o.reason += ": " + truncateDetail(res.detail)
		}
	case kindUnknown:
		o.reason = ReasonUnexpectedError
	default:
		// Threshold failures: blame the weakest link in a fixed order so
		// reclassifying the same measurements is deterministic.
		switch {
		case res.speed > 0 && res.speed < th.minSpeed:
			o.reason = ReasonInsufficientSpeed
		case res.latency > th.maxLatency:
			o.reason = ReasonLatencyExceeded
		default:
			o.reason = ReasonConnectionFailed
		}
	}
	return o
}
