// Package playlist extracts channel records from raw playlist text.
//
// Two formats are recognized, both common in the wild: M3U (#EXTINF
// headers with tvg-* attributes) and plain "name,URL" listings with
// optional "category,#genre#" section headers. The engine never sees any
// of this; it consumes the resulting model.Channel slice.
package playlist

import (
	"net/url"
	"regexp"
	"strings"

	"streamcheck/internal/model"
	"streamcheck/pkg/logx"
)

var (
	tvgNameRe    = regexp.MustCompile(`tvg-name="([^"]*)"`)
	tvgLogoRe    = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	groupTitleRe = regexp.MustCompile(`group-title="([^"]*)"`)
)

var validSchemes = map[string]struct{}{
	"http": {}, "https": {}, "udp": {}, "rtp": {}, "rtsp": {},
}

type Parser struct {
	removeParams map[string]struct{}
	log          logx.Logger

	// source labels log lines while several playlists are parsed in turn.
	source string
}

func New(removeParams []string, log logx.Logger) *Parser {
	m := make(map[string]struct{}, len(removeParams))
	for _, p := range removeParams {
		p = strings.TrimSpace(p)
		if p != "" {
			m[p] = struct{}{}
		}
	}
	return &Parser{removeParams: m, log: log, source: "unknown"}
}

// SetSource names the playlist being parsed, for diagnostics only.
func (p *Parser) SetSource(name string) { p.source = name }

// Parse extracts every channel record from one playlist document.
// Invalid entries are skipped with a warning, never returned.
func (p *Parser) Parse(content string) []*model.Channel {
	var (
		out             []*model.Channel
		currentCategory string
		pendingEXTINF   string
	)

	for lineNo, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXTM3U"):
			// Header; catchup/EPG attributes are irrelevant here.
		case strings.HasPrefix(line, "#EXTINF"):
			pendingEXTINF = line
			if m := groupTitleRe.FindStringSubmatch(line); m != nil && m[1] != "" {
				currentCategory = m[1]
			}
		case strings.HasPrefix(line, "#"):
			// Other directives (#EXTVLCOPT etc.) are ignored.
		case pendingEXTINF != "" && hasStreamScheme(line):
			name, logo := extinfNameLogo(pendingEXTINF)
			category := currentCategory
			if m := groupTitleRe.FindStringSubmatch(pendingEXTINF); m != nil && m[1] != "" {
				category = m[1]
			}
			p.emit(&out, name, line, category, logo, lineNo+1)
			pendingEXTINF = ""
		case strings.HasSuffix(line, ",#genre#"):
			currentCategory = strings.TrimSuffix(line, ",#genre#")
		default:
			// Plain "name,URL" form.
			if name, rest, ok := strings.Cut(line, ","); ok && hasStreamScheme(rest) {
				p.emit(&out, name, rest, currentCategory, "", lineNo+1)
			}
		}
	}
	return out
}

func (p *Parser) emit(out *[]*model.Channel, name, rawURL, category, logo string, line int) {
	cleaned := p.CleanURL(rawURL)
	if cleaned == "" {
		p.log.Warn("skipping invalid channel url",
			logx.String("source", p.source), logx.Int("line", line),
			logx.String("url", rawURL))
		return
	}
	ch := model.New(strings.TrimSpace(name), cleaned, strings.TrimSpace(category))
	ch.Logo = logo
	*out = append(*out, ch)
}

// extinfNameLogo pulls the channel name and logo out of an #EXTINF line.
// tvg-name wins over the display name after the last comma.
func extinfNameLogo(extinf string) (name, logo string) {
	if m := tvgNameRe.FindStringSubmatch(extinf); m != nil && strings.TrimSpace(m[1]) != "" {
		name = strings.TrimSpace(m[1])
	} else if i := strings.LastIndex(extinf, ","); i >= 0 {
		name = strings.TrimSpace(extinf[i+1:])
	}
	if m := tvgLogoRe.FindStringSubmatch(extinf); m != nil {
		logo = m[1]
	}
	return name, logo
}

func hasStreamScheme(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for scheme := range validSchemes {
		if strings.HasPrefix(s, scheme+"://") {
			return true
		}
	}
	return false
}

// CleanURL normalizes one raw channel URL:
//   - multi-URL entries joined with '#' keep the first recognized stream URL
//   - '$' display suffixes are cut
//   - configured query parameters are stripped
//   - the result must have a recognized scheme and a non-empty host
//
// Returns "" when nothing valid remains.
func (p *Parser) CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.Contains(raw, "#") {
		parts := strings.Split(raw, "#")
		picked := ""
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if hasStreamScheme(part) {
				picked = part
				break
			}
		}
		if picked == "" && len(parts) > 0 {
			picked = strings.TrimSpace(parts[0])
		}
		raw = picked
	}

	if i := strings.Index(raw, "$"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if _, ok := validSchemes[strings.ToLower(u.Scheme)]; !ok {
		return ""
	}
	if u.Host == "" {
		return ""
	}

	if len(p.removeParams) > 0 && u.RawQuery != "" {
		q := u.Query()
		for param := range p.removeParams {
			q.Del(param)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
