package tts

import (
	"regexp"
	"strings"
)

// normalizeTextForTTS strips markup the synthesizer would read aloud.
func normalizeTextForTTS(text string) string {
	text = removeMarkdown(text)
	text = removeEmojiRegex.ReplaceAllString(text, "")
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func removeMarkdown(text string) string {
	for _, marker := range []string{"**", "*", "__", "~~", "`", "#"} {
		text = strings.ReplaceAll(text, marker, "")
	}
	return text
}

var (
	removeEmojiRegex    = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{Z}]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
)
