// Package langdetect decides which language of the configured pair a piece of
// typed text is written in.
package langdetect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pemistahl/lingua-go"

	"go.aimuz.me/parley/internal/types"
)

// ErrUnsupported is returned for codes lingua has no model for.
var ErrUnsupported = errors.New("langdetect: unsupported language")

// Detector is restricted to a fixed set of candidate languages.
type Detector struct {
	detector lingua.LanguageDetector
	codes    map[lingua.Language]string
}

// New builds a detector over the given ISO-639-1 codes. At least two
// distinct codes are required.
func New(codes ...string) (*Detector, error) {
	langs := make([]lingua.Language, 0, len(codes))
	byLang := make(map[lingua.Language]string, len(codes))
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		lang := lingua.GetLanguageFromIsoCode639_1(lingua.GetIsoCode639_1FromValue(strings.ToUpper(code)))
		if lang == lingua.Unknown {
			return nil, fmt.Errorf("%w: %q", ErrUnsupported, code)
		}
		if _, dup := byLang[lang]; dup {
			continue
		}
		byLang[lang] = code
		langs = append(langs, lang)
	}
	if len(langs) < 2 {
		return nil, fmt.Errorf("langdetect: need two distinct languages, got %v", codes)
	}

	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().FromLanguages(langs...).Build(),
		codes:    byLang,
	}, nil
}

// ForPair builds a detector over both languages of p.
func ForPair(p types.LanguagePair) (*Detector, error) {
	return New(p.A, p.B)
}

// Detect returns the ISO-639-1 code of text, or false when undecided.
func (d *Detector) Detect(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	code, ok := d.codes[lang]
	return code, ok
}

// Direction picks the pair direction whose source is the detected language of
// text. Undecided text goes forward.
func (d *Detector) Direction(p types.LanguagePair, text string) types.Direction {
	if code, ok := d.Detect(text); ok && code == p.B {
		return p.Backward()
	}
	return p.Forward()
}
