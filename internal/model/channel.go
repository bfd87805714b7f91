package model

import "regexp"

// Status is the lifecycle state of a channel within one run.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DefaultCategory is assigned when a playlist entry carries no group title.
const DefaultCategory = "uncategorized"

// Channel is one streaming-media entry to be tested.
//
// The parser creates channels with StatusUnknown; the engine mutates
// Status, ResponseTime and DownloadSpeed exactly once per run. A single
// Channel instance must not be submitted to the engine more than once in
// the same batch.
type Channel struct {
	Name             string
	URL              string
	Category         string
	OriginalCategory string
	Logo             string

	Status Status

	// ResponseTime is the measured existence-check latency in milliseconds.
	// Valid only after the channel has been tested.
	ResponseTime float64
	// DownloadSpeed is the measured throughput in KB/s.
	// Valid only after the channel has been tested.
	DownloadSpeed float64
}

// New returns a channel in its initial state.
func New(name, url, category string) *Channel {
	if category == "" {
		category = DefaultCategory
	}
	return &Channel{
		Name:             name,
		URL:              url,
		Category:         category,
		OriginalCategory: category,
		Status:           StatusUnknown,
	}
}

// Tested reports whether the channel reached a terminal status.
func (c *Channel) Tested() bool {
	return c.Status == StatusOnline || c.Status == StatusOffline
}

const (
	FamilyIPv4 = "ipv4"
	FamilyIPv6 = "ipv6"
)

var ipv6URLPattern = regexp.MustCompile(`^[a-z]+://(?:\[[0-9a-fA-F:]+\]|[0-9a-fA-F]*:[0-9a-fA-F:]+)`)

// AddressFamily groups channels by the literal form of their URL host,
// used by the exporter to split ipv4/ipv6 playlists. Hostnames count as
// ipv4 for export purposes.
func AddressFamily(url string) string {
	if ipv6URLPattern.MatchString(url) {
		return FamilyIPv6
	}
	return FamilyIPv4
}
