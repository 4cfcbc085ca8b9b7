package nntpclient

import "testing"

func TestFormatMessageID(t *testing.T) {
	cases := map[string]string{
		"abc123@example.com":   "<abc123@example.com>",
		"<abc123@example.com>": "<abc123@example.com>",
		"  <x@y> ":             "<x@y>",
	}
	for in, want := range cases {
		if got := formatMessageID(in); got != want {
			t.Errorf("formatMessageID(%q) = %q, want %q", in, got, want)
		}
	}
}
