package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens counts text with the cl100k_base BPE tiktoken-go ships,
// which is close enough to Claude's own tokenizer for history-budget
// trimming and the cost preview shown before a turn runs. If the
// encoding can't be loaded (e.g. no network on first use, since tiktoken-go
// fetches its BPE ranks lazily), estimate falls back to a chars/4 heuristic
// rather than block the turn.
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
