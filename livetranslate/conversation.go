package livetranslate

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.aimuz.me/parley/internal/metrics"
	"go.aimuz.me/parley/internal/types"
)

// Conversation is the append-only log of finalized message records.
//
// A record whose sender and case-folded text equal the previous record is
// dropped. Records from the live channel are also dropped when they consist
// only of transcription noise; manually entered text skips that filter.
type Conversation struct {
	mu      sync.Mutex
	records []types.MessageRecord

	onAppend func(types.MessageRecord)
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewConversation creates an empty log. onAppend, if non-nil, is called
// after every accepted record, outside the log's lock.
func NewConversation(m *metrics.Metrics, onAppend func(types.MessageRecord)) *Conversation {
	return &Conversation{
		onAppend: onAppend,
		metrics:  m,
		now:      time.Now,
	}
}

// Append adds a record produced by the live channel.
func (c *Conversation) Append(sender types.Sender, text string) (types.MessageRecord, bool) {
	return c.append(sender, text, true)
}

// AppendManual adds a record produced by manual text entry.
func (c *Conversation) AppendManual(sender types.Sender, text string) (types.MessageRecord, bool) {
	return c.append(sender, text, false)
}

func (c *Conversation) append(sender types.Sender, text string, filterNoise bool) (types.MessageRecord, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.MessageRecord{}, false
	}
	if filterNoise && isNoise(text) {
		c.metrics.RecordFiltered("noise")
		return types.MessageRecord{}, false
	}

	c.mu.Lock()
	if n := len(c.records); n > 0 {
		last := c.records[n-1]
		if last.Sender == sender && strings.EqualFold(last.Text, text) {
			c.mu.Unlock()
			c.metrics.RecordFiltered("duplicate")
			return types.MessageRecord{}, false
		}
	}
	rec := types.MessageRecord{
		ID:        uuid.New().String(),
		Sender:    sender,
		Text:      text,
		Timestamp: c.now().UnixMilli(),
	}
	c.records = append(c.records, rec)
	c.mu.Unlock()

	c.metrics.RecordEmitted(string(sender))
	if c.onAppend != nil {
		c.onAppend(rec)
	}
	return rec, true
}

// Messages returns a copy of all records in order.
func (c *Conversation) Messages() []types.MessageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.MessageRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of records.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
