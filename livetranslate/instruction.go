package livetranslate

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"go.aimuz.me/parley/internal/types"
)

// LanguageName returns the English name for an ISO-639-1 code, or the code
// itself when it is not recognized.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// Instruction builds the system instruction for a session in direction d.
// The engine is asked to speak only the translation; Merger.Finalize still
// strips an echoed source prefix when it does not comply.
func Instruction(d types.Direction) string {
	src, dst := LanguageName(d.Source), LanguageName(d.Target)

	var b strings.Builder
	fmt.Fprintf(&b, "You are a simultaneous interpreter. Everything you hear is spoken in %s. ", src)
	fmt.Fprintf(&b, "Translate it into %s.\n", dst)
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Output only the direct translation into %s.\n", dst)
	fmt.Fprintf(&b, "- Never repeat or echo the %s words.\n", src)
	b.WriteString("- Do not add greetings, filler, commentary, or labels such as \"Translation:\".\n")
	b.WriteString("- If the audio is noise, silence, or unintelligible, produce no output at all.\n")
	fmt.Fprintf(&b, "- Transcribe only the translated %s text.\n", dst)
	return b.String()
}

// Voices holds the synthesized voice for each direction of the pair.
type Voices struct {
	Forward  string // A→B
	Backward string // B→A
}

// For returns the voice for d.
func (v Voices) For(pair types.LanguagePair, d types.Direction) string {
	if d == pair.Backward() {
		return v.Backward
	}
	return v.Forward
}
