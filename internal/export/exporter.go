// Package export writes test results out as M3U and TXT playlists, plus an
// optional SQLite run history.
package export

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"streamcheck/internal/model"
	"streamcheck/pkg/logx"
)

type Config struct {
	OutputDir       string // default "outputs"
	M3UFilename     string // default "all.m3u"
	TXTFilename     string // default "all.txt"
	EPGURL          string
	LogoURLTemplate string // {name} and {category} placeholders, URL-escaped
	EnableHistory   bool
	HistoryPath     string // sqlite file, default <output_dir>/history.db
}

func (c Config) withDefaults() Config {
	if c.OutputDir == "" {
		c.OutputDir = "outputs"
	}
	if c.M3UFilename == "" {
		c.M3UFilename = "all.m3u"
	}
	if c.TXTFilename == "" {
		c.TXTFilename = "all.txt"
	}
	if c.EPGURL == "" {
		c.EPGURL = "http://epg.51zmt.top:8000/cc.xml.gz"
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(c.OutputDir, "history.db")
	}
	return c
}

type Exporter struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Exporter, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Exporter{cfg: cfg, log: log}, nil
}

// Export writes the full output set: all.m3u/all.txt, the ipv4/ipv6 split
// files, uncategorized.txt for channels that kept the fallback category,
// and (when enabled) a history row per channel. elapsed is the test-batch
// duration recorded with the history entry.
func (e *Exporter) Export(channels []model.Channel, elapsed time.Duration) error {
	// Group by category without disturbing the caller's order: the driver
	// hands channels already sorted by template, and that order must
	// survive into the files.
	firstSeen := make(map[string]int)
	for _, ch := range channels {
		if _, ok := firstSeen[ch.Category]; !ok {
			firstSeen[ch.Category] = len(firstSeen)
		}
	}
	sorted := make([]model.Channel, len(channels))
	copy(sorted, channels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return firstSeen[sorted[i].Category] < firstSeen[sorted[j].Category]
	})

	if err := e.writePair(sorted, e.cfg.M3UFilename, e.cfg.TXTFilename); err != nil {
		return err
	}

	var v4, v6 []model.Channel
	for _, ch := range sorted {
		if ch.Status != model.StatusOnline {
			continue
		}
		if model.AddressFamily(ch.URL) == model.FamilyIPv6 {
			v6 = append(v6, ch)
		} else {
			v4 = append(v4, ch)
		}
	}
	e.log.Info("channels split by address family",
		logx.Int("ipv4", len(v4)), logx.Int("ipv6", len(v6)))

	if err := e.writePair(v4, "ipv4.m3u", "ipv4.txt"); err != nil {
		return err
	}
	if err := e.writePair(v6, "ipv6.m3u", "ipv6.txt"); err != nil {
		return err
	}
	if err := e.writeUncategorized(sorted); err != nil {
		return err
	}

	if e.cfg.EnableHistory {
		if err := e.writeHistory(sorted, elapsed); err != nil {
			// History is bookkeeping; playlists already landed.
			e.log.Warn("history write failed", logx.Err(err))
		}
	}
	return nil
}

func (e *Exporter) writePair(channels []model.Channel, m3uName, txtName string) error {
	if err := e.writeM3U(channels, m3uName); err != nil {
		return err
	}
	return e.writeTXT(channels, txtName)
}

func (e *Exporter) writeM3U(channels []model.Channel, name string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U x-tvg-url=%q catchup=\"append\" "+
		"catchup-source=\"?playseek=${(b)yyyyMMddHHmmss}-${(e)yyyyMMddHHmmss}\"\n", e.cfg.EPGURL)

	count := 0
	for _, ch := range channels {
		if ch.Status != model.StatusOnline {
			continue
		}
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-name=%q group-title=%q tvg-logo=%q,%s\n%s\n",
			ch.Name, ch.Category, e.logoURL(ch), ch.Name, ch.URL)
		count++
	}

	path := filepath.Join(e.cfg.OutputDir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	e.log.Info("m3u written", logx.String("path", path), logx.Int("channels", count))
	return nil
}

func (e *Exporter) writeTXT(channels []model.Channel, name string) error {
	var b strings.Builder
	seen := make(map[string]struct{})
	current := ""
	count := 0
	for _, ch := range channels {
		if ch.Status != model.StatusOnline {
			continue
		}
		if _, dup := seen[ch.URL]; dup {
			continue
		}
		seen[ch.URL] = struct{}{}
		if ch.Category != current {
			if current != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s,#genre#\n", ch.Category)
			current = ch.Category
		}
		fmt.Fprintf(&b, "%s,%s\n", ch.Name, ch.URL)
		count++
	}

	path := filepath.Join(e.cfg.OutputDir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	e.log.Info("txt written", logx.String("path", path), logx.Int("channels", count))
	return nil
}

// writeUncategorized collects online channels that still carry the fallback
// category and writes them grouped under their original source category, so
// the groupings can be promoted into a template by hand.
func (e *Exporter) writeUncategorized(channels []model.Channel) error {
	groups := make(map[string][]model.Channel)
	var order []string
	for _, ch := range channels {
		if ch.Status != model.StatusOnline || ch.Category != model.DefaultCategory {
			continue
		}
		key := ch.OriginalCategory
		if key == "" {
			key = model.DefaultCategory
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ch)
	}
	if len(groups) == 0 {
		return nil
	}

	var b strings.Builder
	for i, key := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s,#genre#\n", key)
		for _, ch := range groups[key] {
			fmt.Fprintf(&b, "%s,%s\n", ch.Name, ch.URL)
		}
	}

	path := filepath.Join(e.cfg.OutputDir, "uncategorized.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write uncategorized.txt: %w", err)
	}
	e.log.Info("uncategorized channels written",
		logx.String("path", path), logx.Int("groups", len(groups)))
	return nil
}

func (e *Exporter) logoURL(ch model.Channel) string {
	if e.cfg.LogoURLTemplate == "" {
		return ""
	}
	s := strings.ReplaceAll(e.cfg.LogoURLTemplate, "{name}", url.QueryEscape(ch.Name))
	return strings.ReplaceAll(s, "{category}", url.QueryEscape(ch.Category))
}
