package engine

import (
	"errors"
	"fmt"
)

// probeErrKind partitions probe failures for classification.
//
// All kinds are local to one channel: they are always caught, converted
// into an offline channel plus a failed-URL entry plus an IP-guard update,
// and never propagated to the batch caller.
type probeErrKind int

const (
	kindNone probeErrKind = iota
	// kindProtocol covers a bad response status or excessive latency.
	kindProtocol
	// kindThroughput covers a completed transfer below the class minimum.
	kindThroughput
	// kindTimeout covers a deadline expiring in either phase.
	kindTimeout
	// kindTransport covers connect/read errors below the protocol layer.
	kindTransport
	// kindUnknown covers anything the probe did not anticipate.
	kindUnknown
)

// ErrEngineFatal marks failures of the shared transport itself.
// It is the only error class that aborts a whole batch.
var ErrEngineFatal = errors.New("engine: transport setup failed")

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEngineFatal, fmt.Sprintf(format, args...))
}
