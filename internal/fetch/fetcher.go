// Package fetch downloads subscription playlist sources concurrently.
//
// Sources may be http(s) URLs or local file paths. Failures degrade to an
// empty document after the configured retries; one dead source never
// aborts a run.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"streamcheck/pkg/logx"
)

type Config struct {
	Timeout       time.Duration // default 15s
	Concurrency   int           // default 5
	Retries       int           // default 2
	MaxSourceSize int64         // bytes, default 50 MiB
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.MaxSourceSize <= 0 {
		c.MaxSourceSize = 50 * 1024 * 1024
	}
	return c
}

type Fetcher struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// FetchAll retrieves every source under the configured concurrency bound.
// The result is index-aligned with sources; failed sources yield "".
// progress fires once per source.
func (f *Fetcher) FetchAll(ctx context.Context, sources []string, progress func()) []string {
	out := make([]string, len(sources))
	sem := make(chan struct{}, f.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, src := range sources {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer progress()
			out[i] = f.fetchWithRetry(ctx, src)
		}(i, src)
	}
	wg.Wait()
	return out
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, src string) string {
	attempts := f.cfg.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := f.fetchOne(ctx, src)
		if err == nil {
			return content
		}
		f.log.Warn("source fetch failed",
			logx.String("source", src),
			logx.Int("attempt", attempt),
			logx.Int("attempts", attempts),
			logx.Err(err))
		if attempt == attempts {
			return ""
		}
		// Linear backoff; these are cheap text files, not precious APIs.
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return ""
}

func (f *Fetcher) fetchOne(ctx context.Context, src string) (string, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return f.readLocal(src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxSourceSize+1))
	if err != nil {
		return "", err
	}
	if int64(len(raw)) > f.cfg.MaxSourceSize {
		return "", fmt.Errorf("content too large (> %d MiB)", f.cfg.MaxSourceSize/1024/1024)
	}

	return decodeText(resp.Header.Get("Content-Type"), raw), nil
}

func (f *Fetcher) readLocal(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.Size() > f.cfg.MaxSourceSize {
		return "", fmt.Errorf("file too large (> %d MiB)", f.cfg.MaxSourceSize/1024/1024)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return decodeText("", b), nil
}

var charsetRe = regexp.MustCompile(`(?i)charset=([\w-]+)`)

// decodeText converts playlist bytes to UTF-8. Chinese IPTV lists are
// frequently GBK-encoded, so that is the fallback when the bytes are not
// valid UTF-8.
func decodeText(contentType string, raw []byte) string {
	if m := charsetRe.FindStringSubmatch(contentType); m != nil {
		switch strings.ToLower(m[1]) {
		case "gbk", "gb2312", "gb18030":
			if s, err := decodeGBK(raw); err == nil {
				return s
			}
		}
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	if s, err := decodeGBK(raw); err == nil {
		return s
	}
	// Last resort: keep the valid runs, drop the rest.
	return strings.ToValidUTF8(string(raw), "")
}

func decodeGBK(raw []byte) (string, error) {
	b, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
