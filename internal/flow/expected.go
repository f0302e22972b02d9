// ABOUTME: The `expected` declaration of a flow step: how to parse a reply and what to persist
// ABOUTME: Unknown types accept raw text so new step types stay forward compatible

package flow

import (
	"encoding/json"
	"strings"

	"github.com/waveline/convocore/internal/textmatch"
)

// Expected declares how a step's raw user reply is parsed and validated,
// and optionally how the parsed value is persisted into long-term memory.
type Expected struct {
	// Type selects the validator. Empty means accept trimmed text verbatim;
	// unrecognized types fall back to the same.
	Type string `json:"type,omitempty"`

	// Persist writes the parsed value (or a literal override) into the
	// KV memory under Persist.Key when the step validates.
	Persist *PersistSpec `json:"persist,omitempty"`

	// PersistCompleteKey, when set on a terminal step, writes a true flag
	// under this memory key once the flow completes.
	PersistCompleteKey string `json:"persist_complete_key,omitempty"`
}

// PersistSpec declares a memory write for a validated step value.
type PersistSpec struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// TypeChannelChoice validates that the reply names one or more messaging
// channels.
const TypeChannelChoice = "channel_choice"

func decodeExpected(raw json.RawMessage) (*Expected, error) {
	if len(raw) == 0 {
		return &Expected{}, nil
	}
	var exp Expected
	if err := json.Unmarshal(raw, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// validate parses the raw input according to the expected type. It returns
// the parsed value and whether validation passed.
func (e *Expected) validate(input string) (any, bool) {
	switch e.Type {
	case TypeChannelChoice:
		channels := ExtractChannels(input)
		if len(channels) == 0 {
			return nil, false
		}
		return channels, true
	default:
		// Absent or unknown type: accept raw trimmed text
		return strings.TrimSpace(input), true
	}
}

// Recognized channel names in canonical order.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelInstagram = "instagram"
	ChannelFacebook  = "facebook"
)

var channelKeywords = []struct {
	channel  string
	keywords []string
}{
	{ChannelWhatsApp, []string{"whatsapp", "whats app"}},
	{ChannelInstagram, []string{"instagram", "insta"}},
	{ChannelFacebook, []string{"facebook", "fb"}},
}

var allChannelPhrases = []string{
	"all three", "all 3", "all of them",
	"los tres", "las tres", "todos", "todas",
}

// ExtractChannels pulls messaging channel names out of free text via
// whole-word keywords, in canonical order. A recognized "all three" phrase
// maps to all channels. Returns nil when nothing matches. Keywords are
// matched on word boundaries so short aliases like "insta" and "fb" do not
// fire inside unrelated words ("instante").
func ExtractChannels(input string) []string {
	norm := " " + textmatch.Normalize(input) + " "

	for _, phrase := range allChannelPhrases {
		if strings.Contains(norm, " "+phrase+" ") {
			return []string{ChannelWhatsApp, ChannelInstagram, ChannelFacebook}
		}
	}

	var channels []string
	for _, entry := range channelKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(norm, " "+kw+" ") {
				channels = append(channels, entry.channel)
				break
			}
		}
	}
	return channels
}
