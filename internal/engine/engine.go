package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"streamcheck/internal/model"
	"streamcheck/pkg/logx"
)

// Config enumerates every engine knob. Durations of zero mean "derive the
// documented default"; New applies defaults and clamps once, so the rest
// of the engine never re-checks them.
type Config struct {
	// Timeout is the global probe budget per phase for HTTP-class URLs
	// when HTTPTimeout is unset. Default 10s.
	Timeout time.Duration
	// Concurrency is the global in-flight probe ceiling. Clamped to
	// [1, 100]; capped further on platforms with low per-process
	// descriptor ceilings. Default 8.
	Concurrency int
	// MaxAttempts is accepted for compatibility and validated, but no
	// retry loop is executed: a future retry policy owns this knob.
	MaxAttempts int
	// MinDownloadSpeed is the HTTP-class throughput floor in KB/s. Default 100.
	MinDownloadSpeed float64
	// MaxDownloadSize bounds the throughput phase in bytes. Default 100 KiB.
	MaxDownloadSize int64
	// HTTPTimeout overrides Timeout for HTTP-class probes. 0 = use Timeout.
	HTTPTimeout time.Duration
	// UDPTimeout overrides the UDP-class budget. 0 = 30% of Timeout,
	// floored at 500ms.
	UDPTimeout time.Duration
	// MinUDPDownloadSpeed is the UDP-class throughput floor in KB/s. Default 30.
	MinUDPDownloadSpeed float64
	// MaxUDPLatency is the UDP-class latency ceiling. Default 300ms.
	MaxUDPLatency time.Duration
	// MaxHTTPLatency is the HTTP-class latency ceiling. Default 1s.
	MaxHTTPLatency time.Duration
	// MaxChannelsPerIP bounds in-flight probes per host. 0 = unlimited.
	MaxChannelsPerIP int
	// MaxFailuresPerIP blocks a host after this many failures. Default 5.
	MaxFailuresPerIP int
	// MinIPInterval is the intended cooldown before a blocked host may be
	// retried. Recorded but not applied automatically; Reset is the only
	// unblock path today.
	MinIPInterval time.Duration
	// EnableLogging toggles the engine's injected logger. Disabling it
	// swaps in a no-op logger without changing control flow.
	EnableLogging bool
}

const (
	defaultTimeout          = 10 * time.Second
	defaultConcurrency      = 8
	maxConcurrency          = 100
	defaultMinSpeedKBs      = 100
	defaultMaxDownloadSize  = 100 * 1024
	defaultMinUDPSpeedKBs   = 30
	defaultMaxUDPLatency    = 300 * time.Millisecond
	defaultMaxHTTPLatency   = time.Second
	defaultMaxFailuresPerIP = 5
	minUDPTimeout           = 500 * time.Millisecond

	// Windows caps usable sockets well below typical unix rlimits when
	// many one-shot connections churn through the pool.
	windowsSafeConcurrency = 30
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Concurrency > maxConcurrency {
		c.Concurrency = maxConcurrency
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.MinDownloadSpeed <= 0 {
		c.MinDownloadSpeed = defaultMinSpeedKBs
	}
	if c.MaxDownloadSize <= 0 {
		c.MaxDownloadSize = defaultMaxDownloadSize
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = c.Timeout
	}
	if c.UDPTimeout <= 0 {
		c.UDPTimeout = time.Duration(float64(c.Timeout) * 0.3)
		if c.UDPTimeout < minUDPTimeout {
			c.UDPTimeout = minUDPTimeout
		}
	}
	if c.MinUDPDownloadSpeed <= 0 {
		c.MinUDPDownloadSpeed = defaultMinUDPSpeedKBs
	}
	if c.MaxUDPLatency <= 0 {
		c.MaxUDPLatency = defaultMaxUDPLatency
	}
	if c.MaxHTTPLatency <= 0 {
		c.MaxHTTPLatency = defaultMaxHTTPLatency
	}
	if c.MaxFailuresPerIP <= 0 {
		c.MaxFailuresPerIP = defaultMaxFailuresPerIP
	}
	return c
}

// Stats accumulates over one TestChannels invocation and is reset at the
// start of the next.
type Stats struct {
	Total        int
	Succeeded    int
	Elapsed      time.Duration
	BlockedHosts int
}

// Engine runs health-check batches. One Engine may run consecutive
// batches; the IP guard carries over until Guard().Reset().
type Engine struct {
	cfg   Config
	log   logx.Logger
	guard *IPGuard
	hosts *hostLimiter

	client *http.Client

	mu        sync.Mutex
	total     int
	succeeded int
	elapsed   time.Duration
}

func New(cfg Config, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	if !cfg.EnableLogging {
		log = logx.Nop()
	}
	if runtime.GOOS == "windows" && cfg.Concurrency > windowsSafeConcurrency {
		log.Warn("concurrency capped for platform descriptor limits",
			logx.Int("requested", cfg.Concurrency), logx.Int("effective", windowsSafeConcurrency))
		cfg.Concurrency = windowsSafeConcurrency
	}
	return &Engine{
		cfg:   cfg,
		log:   log,
		guard: NewIPGuard(cfg.MaxFailuresPerIP, cfg.MinIPInterval),
		hosts: newHostLimiter(cfg.MaxChannelsPerIP),
	}
}

// Guard exposes the IP guard for between-batch resets and reporting.
func (e *Engine) Guard() *IPGuard { return e.guard }

// Concurrency returns the effective (clamped) ceiling.
func (e *Engine) Concurrency() int { return e.cfg.Concurrency }

// Stats returns a snapshot of the last (or in-progress) run.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{Total: e.total, Succeeded: e.succeeded, Elapsed: e.elapsed}
	e.mu.Unlock()
	s.BlockedHosts = e.guard.BlockedCount()
	return s
}

// newBatchClient builds the shared transport for one batch. Streaming
// hosts are typically one-shot, and keeping pooled connections open across
// hundreds of distinct hosts risks descriptor exhaustion, so connections
// are force-closed after use and closed conns reclaimed eagerly.
func (e *Engine) newBatchClient() (*http.Client, error) {
	tr := &http.Transport{
		DisableKeepAlives:     true,
		MaxIdleConns:          e.cfg.Concurrency,
		MaxConnsPerHost:       e.cfg.Concurrency,
		IdleConnTimeout:       5 * time.Second,
		TLSHandshakeTimeout:   e.cfg.HTTPTimeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
	}
	// Redirect chains longer than this are dead streams in practice.
	client := &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
	return client, nil
}

// TestChannels processes every channel exactly once and returns only after
// all of them reached a terminal status. Per-channel errors never abort
// the batch; the returned error is non-nil only when the shared transport
// could not be set up (ErrEngineFatal).
//
// progress is invoked exactly once per channel, after it reaches a
// terminal status, possibly from many goroutines at once. failed collects
// the URLs of offline channels. whitelist names are classified online
// without probing.
func (e *Engine) TestChannels(ctx context.Context, channels []*model.Channel, progress func(), failed *URLSet, whitelist NameSet) error {
	e.mu.Lock()
	e.total = len(channels)
	e.succeeded = 0
	e.elapsed = 0
	e.mu.Unlock()

	start := time.Now()

	client, err := e.newBatchClient()
	if err != nil {
		return fatalf("%v", err)
	}
	e.client = client
	defer func() {
		// Unconditional teardown, including on panic paths.
		if tr, ok := client.Transport.(*http.Transport); ok {
			tr.CloseIdleConnections()
		}
		e.client = nil
	}()

	e.log.Info("batch started",
		logx.Int("channels", len(channels)),
		logx.Int("concurrency", e.cfg.Concurrency),
		logx.Duration("max_http_latency", e.cfg.MaxHTTPLatency),
		logx.Float64("min_speed_kbs", e.cfg.MinDownloadSpeed))

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, ch := range channels {
		// Admission: block until a slot frees up. This is the whole
		// backpressure story; nothing downstream queues.
		sem <- struct{}{}
		wg.Add(1)
		go func(ch *model.Channel) {
			defer wg.Done()
			defer func() { <-sem }()
			defer progress()
			e.testOne(ctx, ch, failed, whitelist)
		}(ch)
	}
	wg.Wait()

	elapsed := time.Since(start)
	e.mu.Lock()
	e.elapsed = elapsed
	succeeded := e.succeeded
	total := e.total
	e.mu.Unlock()

	e.log.Info("batch finished",
		logx.Int("total", total),
		logx.Int("online", succeeded),
		logx.Int("offline", total-succeeded),
		logx.Int("blocked_hosts", e.guard.BlockedCount()),
		logx.Duration("elapsed", elapsed))
	return nil
}

// testOne drives a single channel to a terminal status. It never returns
// an error: every failure mode ends in an offline classification.
func (e *Engine) testOne(ctx context.Context, ch *model.Channel, failed *URLSet, whitelist NameSet) {
	if whitelist.Has(ch.Name) {
		ch.Status = model.StatusOnline
		e.log.Debug("whitelist skip", logx.String("channel", ch.Name))
		return
	}

	host := ExtractHost(ch.URL)
	if e.guard.IsBlocked(host) {
		ch.Status = model.StatusOffline
		failed.Add(ch.URL)
		e.log.Debug("host blocked, skipping probe",
			logx.String("channel", ch.Name), logx.String("host", host))
		return
	}

	if !e.hosts.acquire(ctx, host) {
		// Context ended while queueing for the host slot; classify as a
		// client error so the channel still terminates.
		e.applyOutcome(ch, host, failed, outcome{
			status: model.StatusOffline,
			reason: ReasonClientError + ": " + ctx.Err().Error(),
		})
		return
	}
	defer e.hosts.release(host)

	class := classOf(ch.URL)
	th := e.cfg.thresholdsFor(class)
	res := e.runProbe(ctx, ch.URL, class, th)
	e.applyOutcome(ch, host, failed, classify(res, th))
}

// runProbe guards against probe panics so one bad URL cannot take down
// the batch or leak a semaphore slot.
func (e *Engine) runProbe(ctx context.Context, url string, class protoClass, th thresholds) (res probeResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("probe panic", logx.String("url", truncateURL(url)),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = probeResult{kind: kindUnknown, detail: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return e.probe(ctx, url, class, th)
}

func (e *Engine) applyOutcome(ch *model.Channel, host string, failed *URLSet, out outcome) {
	ch.Status = out.status

	if out.status == model.StatusOnline {
		ch.ResponseTime = out.latency
		ch.DownloadSpeed = out.speed
		e.mu.Lock()
		e.succeeded++
		e.mu.Unlock()
		e.log.Info("channel online",
			logx.String("channel", ch.Name),
			logx.Float64("speed_kbs", round1(out.speed)),
			logx.Float64("latency_ms", round1(out.latency)),
			logx.String("url", truncateURL(ch.URL)))
		return
	}

	failed.Add(ch.URL)
	e.guard.RecordFailure(host)
	e.log.Warn("channel offline",
		logx.String("channel", ch.Name),
		logx.String("reason", out.reason),
		logx.Float64("speed_kbs", round1(out.speed)),
		logx.Float64("latency_ms", round1(out.latency)),
		logx.String("url", truncateURL(ch.URL)))
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

const maxLoggedURL = 100

func truncateURL(u string) string {
	if len(u) <= maxLoggedURL {
		return u
	}
	return u[:maxLoggedURL] + "..."
}
