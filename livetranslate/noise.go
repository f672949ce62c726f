package livetranslate

import (
	"regexp"
	"strings"
)

var noisePatterns = []*regexp.Regexp{
	// [noise], (music), <inaudible>, {cough}
	regexp.MustCompile(`^(\[[^\]]*\]|\([^)]*\)|<[^>]*>|\{[^}]*\})$`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^[\p{P}\s]+$`),
	regexp.MustCompile(`(?i)^(noise|static)$`),
}

// isNoise reports whether text is a transcription artifact rather than speech.
func isNoise(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	for _, re := range noisePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
