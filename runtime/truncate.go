package runtime

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/2606364644/sandbox-agent/pkg/logging"
)

// DefaultResultTokens bounds how much of a tool result is handed back to the
// caller before it is clipped.
const DefaultResultTokens = 4000

const truncationNotice = "\n... (result truncated)"

// Truncator clips oversized tool results to a token budget. Token counting
// uses the cl100k_base encoding when it can be loaded and falls back to a
// rune-based estimate otherwise, so truncation keeps working offline.
type Truncator struct {
	limit int

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTruncator builds a truncator with the given token limit; zero or
// negative limits use DefaultResultTokens.
func NewTruncator(limit int) *Truncator {
	if limit <= 0 {
		limit = DefaultResultTokens
	}
	return &Truncator{limit: limit}
}

// Clip returns the text cut down to the token budget and whether it was cut.
func (t *Truncator) Clip(text string) (string, bool) {
	if text == "" {
		return text, false
	}

	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logging.WithComponent("runtime.truncate").Warn(
				"token encoding unavailable, using rune estimate", "error", err)
			return
		}
		t.enc = enc
	})

	if t.enc == nil {
		return t.clipRunes(text)
	}

	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.limit {
		return text, false
	}
	return t.enc.Decode(tokens[:t.limit]) + truncationNotice, true
}

// clipRunes approximates the token budget at four runes per token.
func (t *Truncator) clipRunes(text string) (string, bool) {
	budget := t.limit * 4
	runes := []rune(text)
	if len(runes) <= budget {
		return text, false
	}
	return string(runes[:budget]) + truncationNotice, true
}
