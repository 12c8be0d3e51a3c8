package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token usage for budget accounting. A single Counter is
// shared by the memory tiers and the context assembler so every component
// agrees on the same arithmetic.
type Counter struct {
	mu       sync.Mutex
	encoding string
	enc      *tiktoken.Tiktoken
	tried    bool
}

// NewCounter returns a Counter for the given tiktoken encoding name.
// Encoding data is fetched lazily; when unavailable (offline, unknown
// name), counting falls back to a character-ratio heuristic.
func NewCounter(encoding string) *Counter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &Counter{encoding: encoding}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// CountAll sums Count over the given strings.
func (c *Counter) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}

func (c *Counter) encoder() *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tried {
		c.tried = true
		if enc, err := tiktoken.GetEncoding(c.encoding); err == nil {
			c.enc = enc
		}
	}
	return c.enc
}

// estimateTokens approximates tokens as 2/5 of the rune count with a small
// floor, matching the budget heuristic used before real BPE counting.
func estimateTokens(text string) int {
	runes := len([]rune(text))
	if runes == 0 {
		return 0
	}
	tokens := runes * 2 / 5
	if tokens < 4 {
		return 4
	}
	return tokens
}
