// Package transport implements the messaging systems the relay polls and
// replies through.
package transport

import (
	"bytes"
	"encoding/json"
	"strings"

	"relaybot/internal/domain"
)

// envelopeLine is the subset of a signal-cli JSON line the relay reads.
type envelopeLine struct {
	Envelope *struct {
		Source       *string `json:"source"`
		SourceNumber *string `json:"sourceNumber"`
		DataMessage  *struct {
			Message *string `json:"message"`
		} `json:"dataMessage"`
	} `json:"envelope"`
}

// maxEventLine bounds a single JSON line. Longer lines are counted as
// skipped and parsing continues with the next line.
const maxEventLine = 4 * 1024 * 1024

// ParseEvents reads line-delimited JSON. Each line is decoded on its own:
// malformed or oversized lines are counted in skipped, and only lines
// carrying both a sender and message text become events. Receipts, typing
// indicators and sync messages lack one of the two and are ignored without
// counting.
func ParseEvents(data []byte, recipient string) (events []domain.InboundEvent, skipped int) {
	for len(data) > 0 {
		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			line, data = data, nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxEventLine {
			skipped++
			continue
		}
		var el envelopeLine
		if err := json.Unmarshal(line, &el); err != nil {
			skipped++
			continue
		}
		if ev, ok := el.event(recipient); ok {
			events = append(events, ev)
		}
	}
	return events, skipped
}

func (el envelopeLine) event(recipient string) (domain.InboundEvent, bool) {
	env := el.Envelope
	if env == nil || env.DataMessage == nil || env.DataMessage.Message == nil {
		return domain.InboundEvent{}, false
	}
	text := *env.DataMessage.Message
	if strings.TrimSpace(text) == "" {
		return domain.InboundEvent{}, false
	}

	var sender string
	switch {
	case env.Source != nil && *env.Source != "":
		sender = *env.Source
	case env.SourceNumber != nil && *env.SourceNumber != "":
		sender = *env.SourceNumber
	default:
		return domain.InboundEvent{}, false
	}

	return domain.InboundEvent{Sender: sender, Recipient: recipient, Content: text}, true
}
