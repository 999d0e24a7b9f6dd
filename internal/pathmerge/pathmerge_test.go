package pathmerge

import "testing"

func TestMerge(t *testing.T) {
	cases := []struct {
		name       string
		base, root string
		inbound    string
		want       string
	}{
		{"empty base", "", "/v1", "/v1/chat/completions", "/v1/chat/completions"},
		{"base has root, inbound has root", "https://h/v1", "/v1", "/v1/chat/completions", "https://h/v1/chat/completions"},
		{"inbound equals root exactly", "https://h/v1", "/v1", "/v1", "https://h/v1"},
		{"base without root", "https://h/openai", "/v1", "/v1/chat/completions", "https://h/openai/v1/chat/completions"},
		{"base with trailing slash", "https://h/v1/", "/v1", "/v1/chat/completions", "https://h/v1/chat/completions"},
		{"gemini root", "https://h/v1beta", "/v1beta", "/v1beta/models/x:generateContent", "https://h/v1beta/models/x:generateContent"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Merge(c.base, c.root, c.inbound)
			if got != c.want {
				t.Errorf("Merge(%q, %q, %q) = %q, want %q", c.base, c.root, c.inbound, got, c.want)
			}
		})
	}
}

func TestMergeNoDoubleRoot(t *testing.T) {
	got := Merge("https://h/v1", "/v1", "/v1/chat/completions")
	if strings1 := "https://h/v1/v1/chat/completions"; got == strings1 {
		t.Errorf("Merge produced double root: %q", got)
	}
}
