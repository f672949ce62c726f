package livetranslate

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.aimuz.me/parley/internal/types"
)

// Merger accumulates the two transcript streams of the current turn and turns
// them into conversation records when the turn completes.
type Merger struct {
	mu         sync.Mutex
	source     strings.Builder
	translated strings.Builder

	log    *Conversation
	onLive func(types.LiveTranscript)
}

// NewMerger creates a merger that emits into log. onLive, if non-nil, receives
// the in-progress view after every change.
func NewMerger(log *Conversation, onLive func(types.LiveTranscript)) *Merger {
	return &Merger{log: log, onLive: onLive}
}

// AppendSource extends the speaker's transcript.
func (m *Merger) AppendSource(delta string) {
	m.appendTo(&m.source, delta)
}

// AppendTranslated extends the engine's transcript.
func (m *Merger) AppendTranslated(delta string) {
	m.appendTo(&m.translated, delta)
}

func (m *Merger) appendTo(b *strings.Builder, delta string) {
	if delta == "" {
		return
	}
	m.mu.Lock()
	b.WriteString(delta)
	live := m.liveLocked()
	m.mu.Unlock()
	m.publish(live)
}

// Live returns the in-progress transcript pair.
func (m *Merger) Live() types.LiveTranscript {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked()
}

// Finalize closes the current turn. It emits a user record for the source
// text and a model record for the translation, in that order, and returns
// the records the log accepted.
func (m *Merger) Finalize() []types.MessageRecord {
	m.mu.Lock()
	source := strings.TrimSpace(m.source.String())
	translated := strings.TrimSpace(m.translated.String())
	m.source.Reset()
	m.translated.Reset()
	m.mu.Unlock()

	translated = suppressEcho(source, translated)

	var out []types.MessageRecord
	if source != "" {
		if rec, ok := m.log.Append(types.SenderUser, source); ok {
			out = append(out, rec)
		}
	}
	if translated != "" {
		if rec, ok := m.log.Append(types.SenderModel, translated); ok {
			out = append(out, rec)
		}
	}
	m.publish(types.LiveTranscript{})
	return out
}

// Reset drops the current turn without emitting anything.
func (m *Merger) Reset() {
	m.mu.Lock()
	empty := m.source.Len() == 0 && m.translated.Len() == 0
	m.source.Reset()
	m.translated.Reset()
	m.mu.Unlock()
	if !empty {
		m.publish(types.LiveTranscript{})
	}
}

func (m *Merger) liveLocked() types.LiveTranscript {
	return types.LiveTranscript{
		SourceText: m.source.String(),
		TargetText: m.translated.String(),
	}
}

func (m *Merger) publish(live types.LiveTranscript) {
	if m.onLive != nil {
		m.onLive(live)
	}
}

// suppressEcho removes source from the front of translated when the engine
// repeated the recognized phrase before translating it. Matching is a
// case-insensitive prefix; the separator run that followed it is dropped too.
func suppressEcho(source, translated string) string {
	if source == "" {
		return translated
	}
	n, ok := foldPrefix(translated, source)
	if !ok {
		return translated
	}
	return strings.TrimLeftFunc(translated[n:], func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(".,!?;:", r)
	})
}

// foldPrefix reports whether s starts with prefix under simple case folding
// and returns the byte length of the matched part of s.
func foldPrefix(s, prefix string) (int, bool) {
	i := 0
	for _, want := range prefix {
		if i >= len(s) {
			return 0, false
		}
		got, size := utf8.DecodeRuneInString(s[i:])
		if unicode.ToLower(got) != unicode.ToLower(want) {
			return 0, false
		}
		i += size
	}
	return i, true
}
