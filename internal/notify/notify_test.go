package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"streamcheck/pkg/logx"
)

type fakeSender struct {
	sent []string
	to   []tele.Recipient
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.to = append(f.to, to)
	f.sent = append(f.sent, what.(string))
	return &tele.Message{}, nil
}

func testNotifier(bot sender) *Notifier {
	return &Notifier{
		cfg:     Config{Enabled: true, ChatID: 42},
		bot:     bot,
		limiter: newLimiter(100),
		log:     logx.Nop(),
	}
}

func TestSendSummaryFormatsReport(t *testing.T) {
	fs := &fakeSender{}
	n := testNotifier(fs)
	n.SendSummary(context.Background(), Summary{
		Total:        120,
		Online:       90,
		BlockedHosts: 2,
		Elapsed:      95 * time.Second,
		StartedAt:    time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	})

	if len(fs.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fs.sent))
	}
	msg := fs.sent[0]
	for _, want := range []string{"Checked: 120", "Online: 90 (75.0%)", "Offline: 30", "Blocked hosts: 2", "1m35s"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if fs.to[0].Recipient() != "42" {
		t.Fatalf("recipient = %q, want 42", fs.to[0].Recipient())
	}
}

func TestDisabledNotifierIsNop(t *testing.T) {
	n, err := New(Config{Enabled: false}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	// Must not panic or attempt delivery.
	n.SendSummary(context.Background(), Summary{Total: 1})
}

func TestNewRejectsMissingToken(t *testing.T) {
	if _, err := New(Config{Enabled: true, ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestBlockedHostsLineOmittedWhenZero(t *testing.T) {
	msg := formatSummary(Summary{Total: 10, Online: 10, Elapsed: time.Second, StartedAt: time.Now()})
	if strings.Contains(msg, "Blocked hosts") {
		t.Fatalf("zero blocked hosts should be omitted:\n%s", msg)
	}
}
