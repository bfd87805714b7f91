package playlist

import (
	"testing"

	"streamcheck/internal/model"
	"streamcheck/pkg/logx"
)

func TestParseM3U(t *testing.T) {
	p := New(nil, logx.Nop())
	content := `#EXTM3U x-tvg-url="http://epg.example.com/guide.xml"
#EXTINF:-1 tvg-name="CCTV-1" tvg-logo="http://logo.example.com/cctv1.png" group-title="News",CCTV-1 HD
http://stream.example.com/cctv1/index.m3u8
#EXTINF:-1,Channel Two
http://stream.example.com/two.m3u8
`
	chs := p.Parse(content)
	if len(chs) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(chs))
	}

	if chs[0].Name != "CCTV-1" {
		t.Fatalf("tvg-name should win, got %q", chs[0].Name)
	}
	if chs[0].Category != "News" {
		t.Fatalf("category = %q", chs[0].Category)
	}
	if chs[0].Logo == "" {
		t.Fatalf("logo lost")
	}
	if chs[0].Status != model.StatusUnknown {
		t.Fatalf("fresh channel must be unknown, got %q", chs[0].Status)
	}

	if chs[1].Name != "Channel Two" {
		t.Fatalf("display name fallback failed, got %q", chs[1].Name)
	}
	// group-title carries over from the previous EXTINF block.
	if chs[1].Category != "News" {
		t.Fatalf("carried category = %q", chs[1].Category)
	}
}

func TestParseTXTWithGenreHeaders(t *testing.T) {
	p := New(nil, logx.Nop())
	content := `News,#genre#
CCTV-1,http://a.example.com/1.m3u8
CCTV-2,http://a.example.com/2.m3u8

Sports,#genre#
Arena,udp://239.0.0.1:1234
`
	chs := p.Parse(content)
	if len(chs) != 3 {
		t.Fatalf("expected 3 channels, got %d", len(chs))
	}
	if chs[0].Category != "News" || chs[2].Category != "Sports" {
		t.Fatalf("genre headers not applied: %q / %q", chs[0].Category, chs[2].Category)
	}
	if chs[2].URL != "udp://239.0.0.1:1234" {
		t.Fatalf("udp url mangled: %q", chs[2].URL)
	}
}

func TestParseSkipsInvalidURLs(t *testing.T) {
	p := New(nil, logx.Nop())
	content := `Bad,ftp://files.example.com/x
AlsoBad,http://
Good,rtsp://cam.example.com/live
`
	chs := p.Parse(content)
	if len(chs) != 1 || chs[0].Name != "Good" {
		t.Fatalf("expected only the rtsp channel, got %d", len(chs))
	}
}

func TestParseDefaultCategory(t *testing.T) {
	p := New(nil, logx.Nop())
	chs := p.Parse("Solo,http://a.example.com/solo.m3u8\n")
	if len(chs) != 1 {
		t.Fatalf("expected 1 channel")
	}
	if chs[0].Category != model.DefaultCategory {
		t.Fatalf("category = %q, want %q", chs[0].Category, model.DefaultCategory)
	}
}

func TestCleanURL(t *testing.T) {
	p := New([]string{"token"}, logx.Nop())

	tests := []struct {
		in   string
		want string
	}{
		{"http://a.example.com/1.m3u8", "http://a.example.com/1.m3u8"},
		{"junk#http://a.example.com/1.m3u8#http://b.example.com/2.m3u8", "http://a.example.com/1.m3u8"},
		{"http://a.example.com/1.m3u8$LR•HD", "http://a.example.com/1.m3u8"},
		{"http://a.example.com/1.m3u8?token=abc&id=7", "http://a.example.com/1.m3u8?id=7"},
		{"ftp://a.example.com/1.m3u8", ""},
		{"http://", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := p.CleanURL(tc.in); got != tc.want {
			t.Fatalf("CleanURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
