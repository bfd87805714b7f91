// Package app wires the pipeline stages together and owns the process
// lifecycle: run-once, cron schedule mode and source-watch mode.
package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"streamcheck/internal/calibrate"
	"streamcheck/internal/config"
	"streamcheck/internal/engine"
	"streamcheck/internal/export"
	"streamcheck/internal/fetch"
	"streamcheck/internal/matcher"
	"streamcheck/internal/model"
	"streamcheck/internal/notify"
	"streamcheck/internal/playlist"
	"streamcheck/internal/progress"
	"streamcheck/pkg/logx"
)

type App struct {
	cfg *config.Config
	log logx.Logger

	logSvc   *logx.Service
	notifier *notify.Notifier

	// calibration result from the first run, reused by later scheduled runs
	downlink *calibrate.Result
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	notifier, err := notify.New(notify.Config{
		Enabled:    cfg.Notify.Enabled,
		Token:      cfg.Notify.Token,
		ChatID:     cfg.Notify.ChatID,
		RatePerSec: float64(cfg.Notify.RatePerSec),
	}, log.With(logx.String("component", "notify")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		logSvc:   logSvc,
		notifier: notifier,
	}, nil
}

func (a *App) Close() error {
	if a.logSvc != nil {
		return a.logSvc.Close()
	}
	return nil
}

// Run executes the pipeline in the configured mode and returns when the
// context is cancelled (schedule/watch modes) or when the single run
// finishes.
func (a *App) Run(ctx context.Context) error {
	stopReady := notifyReady(a.log)
	defer stopReady()

	switch {
	case a.cfg.Watch.Enabled:
		return a.runWatch(ctx)
	case a.cfg.Schedule.Spec != "":
		return a.runScheduled(ctx)
	default:
		return a.RunOnce(ctx)
	}
}

// RunOnce executes one complete pipeline pass:
// fetch sources, parse, dedupe/filter, test, export, notify.
func (a *App) RunOnce(ctx context.Context) error {
	startedAt := time.Now()
	a.log.Info("run starting", logx.Int("sources", len(a.cfg.Paths.Sources)))

	sources, err := a.collectSources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	whitelist, err := loadLines(a.cfg.Paths.WhitelistFile)
	if err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}
	blacklist, err := loadLines(a.cfg.Paths.BlacklistFile)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}

	channels, err := a.collect(ctx, sources, blacklist)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return fmt.Errorf("no valid channels found in %d sources", len(sources))
	}

	wl := engine.NewNameSet(whitelist)
	if a.cfg.Paths.TemplateFile != "" {
		m, err := matcher.Load(a.cfg.Paths.TemplateFile,
			matcher.Config{SpaceClean: a.cfg.Matcher.SpaceCleanEnabled()},
			a.log.With(logx.String("component", "matcher")))
		if err != nil {
			return err
		}
		m.Apply(channels)
		channels = m.Sort(channels, wl.Has)
	}

	a.calibrateOnce(ctx)

	eng, err := a.newEngine()
	if err != nil {
		return err
	}

	bar := progress.New(len(channels), "testing")
	failed := engine.NewURLSet()
	err = eng.TestChannels(ctx, channels, func() { bar.Add(1) }, failed, wl)
	bar.Done()
	if err != nil {
		return fmt.Errorf("test channels: %w", err)
	}
	stats := eng.Stats()

	if path := a.cfg.Paths.FailedURLsFile; path != "" && failed.Len() > 0 {
		if err := writeFailedURLs(path, failed); err != nil {
			a.log.Warn("failed-urls write failed", logx.String("path", path), logx.Err(err))
		}
	}

	exp, err := export.New(export.Config{
		OutputDir:       a.cfg.Exporter.OutputDir,
		M3UFilename:     a.cfg.Exporter.M3UFilename,
		TXTFilename:     a.cfg.Exporter.TXTFilename,
		EPGURL:          a.cfg.Exporter.EPGURL,
		LogoURLTemplate: a.cfg.Exporter.LogoURLTemplate,
		EnableHistory:   a.cfg.Exporter.EnableHistory,
		HistoryPath:     a.cfg.Exporter.HistoryPath,
	}, a.log.With(logx.String("component", "export")))
	if err != nil {
		return err
	}
	results := make([]model.Channel, len(channels))
	for i, ch := range channels {
		results[i] = *ch
	}
	if err := exp.Export(results, stats.Elapsed); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	a.log.Info("run finished",
		logx.Int("total", stats.Total),
		logx.Int("online", stats.Succeeded),
		logx.Int("blocked_hosts", stats.BlockedHosts),
		logx.Int("failed_urls", failed.Len()),
		logx.Duration("elapsed", stats.Elapsed))

	a.notifier.SendSummary(ctx, notify.Summary{
		Total:        stats.Total,
		Online:       stats.Succeeded,
		BlockedHosts: stats.BlockedHosts,
		Elapsed:      stats.Elapsed,
		StartedAt:    startedAt,
	})
	return nil
}

// collect fetches all sources and parses them into a deduplicated,
// blacklist-filtered channel list.
func (a *App) collect(ctx context.Context, sources []string, blacklist []string) ([]*model.Channel, error) {
	f := fetch.New(fetch.Config{
		Timeout:       config.MustDuration(a.cfg.Fetcher.Timeout),
		Concurrency:   a.cfg.Fetcher.Concurrency,
		Retries:       a.cfg.Fetcher.Retries,
		MaxSourceSize: a.cfg.Fetcher.MaxSourceSize,
	}, a.log.With(logx.String("component", "fetch")))

	fetchBar := progress.New(len(sources), "fetching")
	contents := f.FetchAll(ctx, sources, func() { fetchBar.Add(1) })
	fetchBar.Done()

	parser := playlist.New(a.cfg.Parser.RemoveParams, a.log.With(logx.String("component", "parse")))
	blocked := engine.NewNameSet(blacklist)
	seen := make(map[string]struct{})
	var channels []*model.Channel
	for i, content := range contents {
		if content == "" {
			continue
		}
		parser.SetSource(sources[i])
		for _, ch := range parser.Parse(content) {
			if _, dup := seen[ch.URL]; dup {
				continue
			}
			if blocked.Has(ch.Name) || blocked.Has(ch.URL) {
				continue
			}
			seen[ch.URL] = struct{}{}
			channels = append(channels, ch)
		}
	}
	a.log.Info("channels collected",
		logx.Int("sources", len(sources)), logx.Int("channels", len(channels)))
	return channels, nil
}

func (a *App) calibrateOnce(ctx context.Context) {
	if !a.cfg.Calibrate.Enabled || a.downlink != nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	log := a.log.With(logx.String("component", "calibrate"))
	res, err := calibrate.Measure(cctx, log)
	if err != nil {
		log.Warn("downlink calibration failed", logx.Err(err))
		return
	}
	a.downlink = res
	ec := a.engineConfig()
	calibrate.CheckHeadroom(res, ec.Concurrency, ec.MinDownloadSpeed, log)
}

func (a *App) newEngine() (*engine.Engine, error) {
	cfg := a.engineConfig()
	log := logx.Nop()
	if cfg.EnableLogging {
		log = a.log.With(logx.String("component", "engine"))
	}
	return engine.New(cfg, log), nil
}

func (a *App) engineConfig() engine.Config {
	t := a.cfg.Tester
	return engine.Config{
		Timeout:             config.MustDuration(t.Timeout),
		Concurrency:         t.Concurrency,
		MaxAttempts:         t.MaxAttempts,
		MinDownloadSpeed:    t.MinDownloadSpeed,
		MaxDownloadSize:     t.MaxDownloadSize,
		HTTPTimeout:         config.MustDuration(t.HTTPTimeout),
		UDPTimeout:          config.MustDuration(t.UDPTimeout),
		MinUDPDownloadSpeed: t.MinUDPDownloadSpeed,
		MaxUDPLatency:       config.MustDuration(t.MaxUDPLatency),
		MaxHTTPLatency:      config.MustDuration(t.MaxHTTPLatency),
		MaxChannelsPerIP:    t.MaxChannelsPerIP,
		MaxFailuresPerIP:    t.MaxFailuresPerIP,
		MinIPInterval:       config.MustDuration(t.MinIPInterval),
		EnableLogging:       t.EngineLoggingEnabled(),
	}
}

func (a *App) collectSources() ([]string, error) {
	sources := append([]string(nil), a.cfg.Paths.Sources...)
	if a.cfg.Paths.SourcesFile != "" {
		extra, err := loadLines(a.cfg.Paths.SourcesFile)
		if err != nil {
			return nil, fmt.Errorf("load sources file: %w", err)
		}
		sources = append(sources, extra...)
	}
	return sources, nil
}

// writeFailedURLs persists the batch's offline URLs for inspection and
// source pruning.
func writeFailedURLs(path string, failed *engine.URLSet) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(strings.Join(failed.Sorted(), "\n")+"\n"), 0o644)
}

// loadLines reads a newline-delimited list, skipping blanks and '#'
// comments. A missing path yields an empty list.
func loadLines(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
