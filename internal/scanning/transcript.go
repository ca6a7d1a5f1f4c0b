package scanning

import "strings"

// cleanTranscript strips the markdown fences and chatter that vision models
// like to wrap around an otherwise plain transcription.
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		// Drop the opening fence along with any language tag
		if nl := strings.IndexByte(text, '\n'); nl != -1 {
			text = text[nl+1:]
		} else {
			text = strings.TrimLeft(text, "`")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
