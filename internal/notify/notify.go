// Package notify delivers run summaries to a Telegram chat.
//
// Delivery is best-effort: a notification failure is logged and never
// fails the run that produced it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"streamcheck/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec float64 // default 0.5 (one message per 2s)
}

// Summary is the per-run report sent after a batch completes.
type Summary struct {
	Total        int
	Online       int
	BlockedHosts int
	Elapsed      time.Duration
	StartedAt    time.Time
}

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Notifier struct {
	cfg     Config
	bot     sender
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return &Notifier{cfg: cfg, log: log}, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	n := &Notifier{cfg: cfg, bot: bot, log: log}
	n.limiter = newLimiter(cfg.RatePerSec)
	return n, nil
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		perSec = 0.5
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

// SendSummary formats and delivers the run report. It blocks on the rate
// limiter but never returns an error to the pipeline; failures are logged.
func (n *Notifier) SendSummary(ctx context.Context, s Summary) {
	if n == nil || !n.cfg.Enabled || n.bot == nil {
		return
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return
	}
	msg := formatSummary(s)
	_, err := n.bot.Send(tele.ChatID(n.cfg.ChatID), msg, tele.ModeMarkdown)
	if err != nil {
		n.log.Warn("summary notification failed", logx.Err(err))
		return
	}
	n.log.Info("summary notification sent", logx.Int64("chat_id", n.cfg.ChatID))
}

func formatSummary(s Summary) string {
	offline := s.Total - s.Online
	pct := 0.0
	if s.Total > 0 {
		pct = float64(s.Online) / float64(s.Total) * 100
	}
	var b strings.Builder
	b.WriteString("*Channel check finished*\n")
	fmt.Fprintf(&b, "Started: %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Checked: %d\n", s.Total)
	fmt.Fprintf(&b, "Online: %d (%.1f%%)\n", s.Online, pct)
	fmt.Fprintf(&b, "Offline: %d\n", offline)
	if s.BlockedHosts > 0 {
		fmt.Fprintf(&b, "Blocked hosts: %d\n", s.BlockedHosts)
	}
	fmt.Fprintf(&b, "Elapsed: %s", s.Elapsed.Round(time.Second))
	return b.String()
}
