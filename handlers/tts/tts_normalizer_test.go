package tts

import "testing"

func TestNormalizeTextForTTS(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"markdown bold", "That's **great** news!", "That's great news!"},
		{"markdown mixed", "# Heading with `code` and __emphasis__", "Heading with code and emphasis"},
		{"emoji stripped", "Sounds good 👍 let's do it 🎉", "Sounds good let's do it"},
		{"collapses whitespace", "one   two\n\nthree\tfour", "one two three four"},
		{"plain text untouched", "How can I help you today?", "How can I help you today?"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizeTextForTTS(tc.in); got != tc.want {
				t.Fatalf("normalizeTextForTTS(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
