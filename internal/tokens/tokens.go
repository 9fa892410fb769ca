// Package tokens counts tokens in serialized run history.
package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
	Name() string
}

// Estimator approximates token counts from character counts: CJK runes
// about 1.5 per token, everything else about 4.
type Estimator struct{}

func (Estimator) Name() string { return "estimator" }

func (Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}

// Tiktoken counts with a BPE encoding such as cl100k_base. The encoding is
// loaded on first use (it may be downloaded); if loading fails the counter
// falls back to Estimator for the rest of its life.
type Tiktoken struct {
	encoding string
	logger   *zap.Logger

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback Estimator
}

// NewTiktoken 创建基于 tiktoken 的计数器
func NewTiktoken(encoding string, logger *zap.Logger) *Tiktoken {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiktoken{encoding: encoding, logger: logger.With(zap.String("component", "tokens"))}
}

func (t *Tiktoken) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.logger.Warn("tiktoken unavailable, using character estimate",
				zap.String("encoding", t.encoding),
				zap.Error(err),
			)
			return
		}
		t.enc = enc
	})
}

func (t *Tiktoken) Count(text string) int {
	t.init()
	if t.enc == nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Name() string {
	t.init()
	if t.enc == nil {
		return fmt.Sprintf("tiktoken[%s]->%s", t.encoding, t.fallback.Name())
	}
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
