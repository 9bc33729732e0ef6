package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEvents_SkipsMalformedLine(t *testing.T) {
	data := []byte("not json\n" + `{"envelope":{"source":"+1","dataMessage":{"message":"hi"}}}` + "\n")

	events, skipped := ParseEvents(data, "+2")
	require.Len(t, events, 1)
	require.Equal(t, 1, skipped)
	require.Equal(t, "+1", events[0].Sender)
	require.Equal(t, "+2", events[0].Recipient)
	require.Equal(t, "hi", events[0].Content)
}

func TestParseEvents_IgnoresNonMessageEnvelopes(t *testing.T) {
	data := []byte(`
{"envelope":{"source":"+1","receiptMessage":{"when":1}}}
{"envelope":{"source":"+1","typingMessage":{"action":"STARTED"}}}
{"envelope":{"source":"+1","syncMessage":{}}}
{"envelope":{"dataMessage":{"message":"no sender"}}}
{"envelope":{"source":"+1","dataMessage":{"message":"   "}}}
{"envelope":{"source":"+1","dataMessage":{"message":42}}}
{"other":true}
`)
	events, skipped := ParseEvents(data, "+2")
	require.Empty(t, events)
	// The numeric message fails to decode into a string.
	require.Equal(t, 1, skipped)
}

func TestParseEvents_SourceNumberFallback(t *testing.T) {
	data := []byte(`{"envelope":{"sourceNumber":"+15550001","dataMessage":{"message":"ping"}}}`)
	events, skipped := ParseEvents(data, "")
	require.Zero(t, skipped)
	require.Len(t, events, 1)
	require.Equal(t, "+15550001", events[0].Sender)
}

func TestParseEvents_PreservesOrder(t *testing.T) {
	data := []byte(`{"envelope":{"source":"+1","dataMessage":{"message":"first"}}}
{"envelope":{"source":"+3","dataMessage":{"message":"second"}}}`)
	events, _ := ParseEvents(data, "+2")
	require.Len(t, events, 2)
	require.Equal(t, "first", events[0].Content)
	require.Equal(t, "second", events[1].Content)
}

func TestParseEvents_Empty(t *testing.T) {
	events, skipped := ParseEvents(nil, "+2")
	require.Empty(t, events)
	require.Zero(t, skipped)
}

func TestParseEvents_OversizedLineDoesNotStopBatch(t *testing.T) {
	huge := `{"envelope":{"source":"+9","dataMessage":{"message":"` + strings.Repeat("x", 5*1024*1024) + `"}}}`
	data := []byte(`{"envelope":{"source":"+1","dataMessage":{"message":"before"}}}` + "\n" +
		huge + "\n" +
		`{"envelope":{"source":"+3","dataMessage":{"message":"after"}}}` + "\n")

	events, skipped := ParseEvents(data, "+2")
	require.Equal(t, 1, skipped)
	require.Len(t, events, 2)
	require.Equal(t, "before", events[0].Content)
	require.Equal(t, "after", events[1].Content)
}
