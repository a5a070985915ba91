package filter

import (
	"testing"

	"apex-live/work/types"
)

func src(id, include, exclude string) types.Source {
	return types.Source{ID: id, IncludeRegex: include, ExcludeRegex: exclude}
}

func names(channels []types.LiveChannel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = ch.Name
	}
	return out
}

func TestKeep(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name    string
		include string
		exclude string
		channel string
		want    bool
	}{
		{"no filters keep all", "", "", "Anything", true},
		{"include match", "(?i)sport", "", "Sky Sports", true},
		{"include miss", "(?i)sport", "", "BBC News", false},
		{"exclude match", "", "(?i)adult", "Adult Movies", false},
		{"exclude miss", "", "(?i)adult", "BBC News", true},
		{"include and exclude", "(?i)sport", "(?i)hd", "Sports HD", false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := src(string(rune('a'+i)), tt.include, tt.exclude)
			if got := m.For(s).Keep(tt.channel); got != tt.want {
				t.Errorf("Keep(%q) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestInvalidPatternMeansNoFilter(t *testing.T) {
	m := NewManager()
	c := m.For(src("bad", "([", ""))
	if !c.Keep("Anything") {
		t.Error("invalid include pattern should act as no filter")
	}
}

func TestForRecompilesOnChange(t *testing.T) {
	m := NewManager()

	s := src("s1", "(?i)news", "")
	if !m.For(s).Keep("BBC News") {
		t.Fatal("include should match")
	}

	// same source id, new pattern
	s.IncludeRegex = "(?i)sport"
	if m.For(s).Keep("BBC News") {
		t.Error("stale compiled filter served after pattern change")
	}
	if !m.For(s).Keep("Sky Sports") {
		t.Error("new pattern not in effect")
	}
}

func TestApply(t *testing.T) {
	m := NewManager()
	channels := []types.LiveChannel{
		{Name: "Sky Sports"},
		{Name: "BBC News"},
		{Name: "Sports Extra"},
	}

	got := m.For(src("s", "(?i)sport", "(?i)extra")).Apply(channels)
	if len(got) != 1 || got[0].Name != "Sky Sports" {
		t.Errorf("Apply = %v", names(got))
	}

	// no filters returns the input untouched
	all := m.For(src("none", "", "")).Apply(channels[:1])
	if len(all) != 1 {
		t.Errorf("unfiltered Apply = %v", names(all))
	}
}
