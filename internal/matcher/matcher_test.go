package matcher

import (
	"os"
	"path/filepath"
	"testing"

	"streamcheck/internal/model"
	"streamcheck/pkg/logx"
)

const testTemplate = `# channel category template
#suffixes:高清,hd,综合

央视,#genre#
CCTV1|CCTV-1|中央1台
CCTV2|CCTV-2

卫视,#genre#
湖南卫视|湖南台
`

func loadTest(t *testing.T, template string) *Matcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.txt")
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path, Config{SpaceClean: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMatchAgainstTemplate(t *testing.T) {
	m := loadTest(t, testTemplate)

	tests := []struct {
		name string
		want string
	}{
		{"CCTV1", "央视"},
		{"CCTV-1", "央视"},          // alias pattern
		{"CCTV1高清", "央视"},        // suffix stripped before matching
		{"中央1台", "央视"},           // CJK alias
		{"湖南卫视", "卫视"},
		{"Some Random TV", model.DefaultCategory},
	}
	for _, tc := range tests {
		if got := m.Match(tc.name); got != tc.want {
			t.Fatalf("Match(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	m := loadTest(t, testTemplate)

	tests := []struct {
		in   string
		want string
	}{
		{"CCTV-1", "CCTV1"},     // alias maps onto the standard name
		{"CCTV1高清", "CCTV1"},    // suffix stripped
		{"CCTV1 HD", "CCTV1"},   // case-insensitive suffix
		{"湖南台", "湖南卫视"},         // alias standard name
		{"CCTV 1综合", "CCTV 1"},  // unmapped, suffix still stripped
	}
	for _, tc := range tests {
		if got := m.Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanNameJoinsAlnumOntoCJK(t *testing.T) {
	m := loadTest(t, testTemplate)
	if got := m.cleanName("CCTV1  中央_频道"); got != "CCTV1中央 频道" {
		t.Fatalf("cleanName = %q", got)
	}
}

func TestApplyKeepsOriginalCategory(t *testing.T) {
	m := loadTest(t, testTemplate)
	ch := model.New("CCTV-1", "http://x.com/s", "来源分类")
	m.Apply([]*model.Channel{ch})

	if ch.Category != "央视" {
		t.Fatalf("category = %q, want 央视", ch.Category)
	}
	if ch.Name != "CCTV1" {
		t.Fatalf("name = %q, want normalized CCTV1", ch.Name)
	}
	if ch.OriginalCategory != "来源分类" {
		t.Fatalf("original category lost: %q", ch.OriginalCategory)
	}
}

func TestSortTemplateOrder(t *testing.T) {
	m := loadTest(t, testTemplate)

	mk := func(name, category string) *model.Channel {
		return model.New(name, "http://x.com/"+name, category)
	}
	// Deliberately shuffled input; White is whitelisted, Unknown unmatched.
	channels := []*model.Channel{
		mk("湖南卫视", "卫视"),
		mk("Unknown", model.DefaultCategory),
		mk("CCTV2", "央视"),
		mk("White", model.DefaultCategory),
		mk("CCTV1", "央视"),
	}
	sorted := m.Sort(channels, func(name string) bool { return name == "White" })

	var names []string
	for _, ch := range sorted {
		names = append(names, ch.Name)
	}
	want := []string{"White", "CCTV1", "CCTV2", "湖南卫视", "Unknown"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

func TestLoadSkipsBadPatterns(t *testing.T) {
	m := loadTest(t, "央视,#genre#\nCCTV1|([bad\nCCTV2\n")
	if got := m.Match("CCTV2"); got != "央视" {
		t.Fatalf("valid rule lost after bad pattern: %q", got)
	}
	if got := m.Match("CCTV1"); got != "央视" {
		// first part "CCTV1" compiled fine; only "([bad" was skipped
		t.Fatalf("Match(CCTV1) = %q", got)
	}
}

func TestLoadDefaultSuffixes(t *testing.T) {
	m := loadTest(t, "央视,#genre#\nCCTV1\n")
	if got := m.Normalize("CCTV1高清"); got != "CCTV1" {
		t.Fatalf("default suffixes not applied: %q", got)
	}
}

func TestLoadMissingTemplate(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.txt"), Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing template")
	}
}
