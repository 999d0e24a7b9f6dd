package protocol

import "testing"

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		p    Protocol
		want string
	}{
		{"openai trailing slash", "https://api.example.com/v1/", OpenAI, "https://api.example.com"},
		{"gemini query and fragment", "https://g/v1beta?k=1#x", Gemini, "https://g?k=1#x"},
		{"no root present", "https://api.example.com", OpenAI, "https://api.example.com"},
		{"root without trailing slash", "https://api.example.com/v1", Anthropic, "https://api.example.com"},
		{"root repeated in host-like segment", "https://api.example.com/v1/v1", OpenAI, "https://api.example.com/v1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NormalizeBaseURL(c.in, c.p)
			if got != c.want {
				t.Errorf("NormalizeBaseURL(%q, %q) = %q, want %q", c.in, c.p, got, c.want)
			}
		})
	}
}

func TestNormalizeBaseURLIdempotent(t *testing.T) {
	inputs := []string{
		"https://api.example.com/v1/",
		"https://g/v1beta?k=1#x",
		"https://api.example.com",
		"http://localhost:8080/v1beta/",
	}
	for _, in := range inputs {
		for _, p := range []Protocol{OpenAI, Anthropic, Gemini} {
			once := NormalizeBaseURL(in, p)
			twice := NormalizeBaseURL(once, p)
			if once != twice {
				t.Errorf("NormalizeBaseURL not idempotent for %q/%q: %q != %q", in, p, once, twice)
			}
		}
	}
}

func TestRoot(t *testing.T) {
	if OpenAI.Root() != "/v1" {
		t.Errorf("openai root")
	}
	if Anthropic.Root() != "/v1" {
		t.Errorf("anthropic root")
	}
	if Gemini.Root() != "/v1beta" {
		t.Errorf("gemini root")
	}
}
