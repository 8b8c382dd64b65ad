package generation

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text. It is used when a provider
// response carries no usage metadata. The BPE table is loaded lazily; if it
// cannot be loaded the count falls back to whitespace-separated words.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			slog.Warn("token encoding unavailable, counting words instead",
				slog.String("encoding", tokenEncoding),
				slog.String("error", err.Error()))
			return
		}
		enc = e
	})
	if enc == nil {
		return CountWords(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// FillUsage completes missing usage numbers on resp from the prompt and content.
func FillUsage(resp *Response, prompt string) {
	if resp.InputTokens == 0 {
		resp.InputTokens = CountTokens(prompt)
	}
	if resp.OutputTokens == 0 {
		resp.OutputTokens = CountTokens(resp.Content)
	}
	if resp.TotalTokens == 0 {
		resp.TotalTokens = resp.InputTokens + resp.OutputTokens
	}
}
