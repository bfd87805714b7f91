// Package matcher assigns channels to curated categories from a template
// file and normalizes channel names.
//
// The template is line-oriented: "category,#genre#" opens a category
// section, and each rule line inside it reads
// "StandardName|pattern|pattern...". Every part is a regular expression
// matched against the normalized channel name; the first part doubles as
// the standard name channels are renamed to. A "#suffixes: a,b,c" comment
// configures the display suffixes stripped during normalization
// (e.g. "CCTV1高清" -> "CCTV1").
package matcher

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"streamcheck/internal/model"
	"streamcheck/pkg/logx"
)

type Config struct {
	// SpaceClean collapses whitespace and joins latin/digit runs onto
	// adjacent CJK characters during name cleanup. Default on.
	SpaceClean bool
}

type rule struct {
	standardName string
	patterns     []*regexp.Regexp
}

type category struct {
	name  string
	rules []rule
	// position of each standard name within this category, for
	// template-order sorting
	order map[string]int
}

type Matcher struct {
	cfg        Config
	log        logx.Logger
	categories []category
	catIndex   map[string]int
	// cleaned-lowercased alias -> standard name
	standardNames map[string]string
	suffixes      []string
}

var defaultSuffixes = []string{"高清", "hd", "综合"}

var suffixesRe = regexp.MustCompile(`#suffixes:(.*)`)

// Load parses the template file. Rule patterns that fail to compile are
// skipped with a warning; an unreadable template is an error since the
// operator explicitly configured one.
func Load(path string, cfg Config, log logx.Logger) (*Matcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	m := &Matcher{
		cfg:           cfg,
		log:           log,
		catIndex:      make(map[string]int),
		standardNames: make(map[string]string),
		suffixes:      defaultSuffixes,
	}

	var cur *category
	rules := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if sm := suffixesRe.FindStringSubmatch(line); sm != nil {
				m.suffixes = splitSuffixes(sm[1])
			}
			continue
		}
		if strings.HasSuffix(line, ",#genre#") {
			name := strings.SplitN(line, ",", 2)[0]
			m.categories = append(m.categories, category{name: name, order: make(map[string]int)})
			m.catIndex[name] = len(m.categories) - 1
			cur = &m.categories[len(m.categories)-1]
			continue
		}
		if cur == nil {
			continue
		}

		parts := strings.Split(line, "|")
		std := strings.TrimSpace(parts[0])
		r := rule{standardName: std}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			re, err := regexp.Compile(part)
			if err != nil {
				log.Warn("template pattern skipped",
					logx.String("pattern", part), logx.Err(err))
				continue
			}
			r.patterns = append(r.patterns, re)
			m.standardNames[strings.ToLower(m.cleanName(part))] = std
		}
		if len(r.patterns) == 0 {
			continue
		}
		cur.order[std] = len(cur.rules)
		cur.rules = append(cur.rules, r)
		rules++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	log.Info("category template loaded",
		logx.Int("categories", len(m.categories)), logx.Int("rules", rules))
	return m, nil
}

func splitSuffixes(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultSuffixes
	}
	return out
}

var (
	alnumCJKRe = regexp.MustCompile(`([a-zA-Z0-9]+)\s+([\p{Han}])`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

// cleanName strips separator noise so template patterns match the many
// spellings playlists use for the same channel.
func (m *Matcher) cleanName(name string) string {
	if name == "" || !m.cfg.SpaceClean {
		return name
	}
	cleaned := strings.TrimSpace(name)
	cleaned = strings.ReplaceAll(cleaned, "_", " ")
	cleaned = strings.ReplaceAll(cleaned, "-", " ")
	cleaned = alnumCJKRe.ReplaceAllString(cleaned, "$1$2")
	return spacesRe.ReplaceAllString(cleaned, " ")
}

// Normalize maps a raw channel name onto its template standard name and
// strips the first matching display suffix.
func (m *Matcher) Normalize(name string) string {
	clean := m.cleanName(name)
	if std, ok := m.standardNames[strings.ToLower(clean)]; ok {
		clean = std
	}
	lower := strings.ToLower(clean)
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(lower, suffix) {
			return strings.TrimSpace(clean[:len(clean)-len(suffix)])
		}
	}
	return clean
}

// Match returns the template category for a channel name, or the default
// category when no rule matches.
func (m *Matcher) Match(name string) string {
	normalized := m.Normalize(name)
	for _, cat := range m.categories {
		for _, r := range cat.rules {
			for _, re := range r.patterns {
				if re.MatchString(normalized) {
					return cat.name
				}
			}
		}
	}
	return model.DefaultCategory
}

// Apply rewrites every channel's category and name in place. The
// playlist-supplied category survives in OriginalCategory.
func (m *Matcher) Apply(channels []*model.Channel) {
	matched := 0
	for _, ch := range channels {
		cat := m.Match(ch.Name)
		if cat != model.DefaultCategory {
			matched++
		}
		ch.Category = cat
		ch.Name = m.Normalize(ch.Name)
	}
	m.log.Info("channels categorized",
		logx.Int("matched", matched), logx.Int("unmatched", len(channels)-matched))
}

// Sort orders channels for output: whitelisted names first, then template
// categories in template order with channels following their rule order,
// then everything unmatched in input order.
func (m *Matcher) Sort(channels []*model.Channel, whitelisted func(string) bool) []*model.Channel {
	var white, templated, tail []*model.Channel
	for _, ch := range channels {
		switch {
		case whitelisted(ch.Name):
			white = append(white, ch)
		case m.hasCategory(ch.Category):
			templated = append(templated, ch)
		default:
			tail = append(tail, ch)
		}
	}

	sort.SliceStable(templated, func(i, j int) bool {
		ci, cj := m.catIndex[templated[i].Category], m.catIndex[templated[j].Category]
		if ci != cj {
			return ci < cj
		}
		return m.ruleIndex(templated[i]) < m.ruleIndex(templated[j])
	})

	out := make([]*model.Channel, 0, len(channels))
	out = append(out, white...)
	out = append(out, templated...)
	return append(out, tail...)
}

func (m *Matcher) hasCategory(name string) bool {
	_, ok := m.catIndex[name]
	return ok
}

func (m *Matcher) ruleIndex(ch *model.Channel) int {
	cat := m.categories[m.catIndex[ch.Category]]
	if i, ok := cat.order[m.Normalize(ch.Name)]; ok {
		return i
	}
	return len(cat.rules)
}
