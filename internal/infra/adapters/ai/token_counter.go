package ai

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"meeting-ai-pipeline/internal/domain/ports/adapter"
)

var _ adapter.TokenCounter = (*TokenCounter)(nil)

const (
	defaultEncoding = "cl100k_base"
	charsPerToken   = 4
)

// TokenCounter counts tokens with a BPE encoding. When the encoding cannot be
// loaded it estimates four characters per token.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(encoding string, logger *zerolog.Logger) *TokenCounter {
	if encoding == "" {
		encoding = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn().Err(err).Str("encoding", encoding).Msg("token encoding unavailable, estimating by characters")
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

func (c *TokenCounter) CountTokens(text string) int {
	if c.enc == nil {
		return (utf8.RuneCountInString(text) + charsPerToken - 1) / charsPerToken
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if c.enc == nil {
		limit := maxTokens * charsPerToken
		i := 0
		for pos := range text {
			if i == limit {
				return text[:pos]
			}
			i++
		}
		return text
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.enc.Decode(tokens[:maxTokens])
}
