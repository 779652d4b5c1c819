package contextmgr

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"sidekick/internal/chat"
)

// Estimator token 计数器；tiktoken 不可用时回退到启发式
// Estimator counts tokens with tiktoken, falling back to a heuristic
// when the BPE tables are unavailable (offline environments).
type Estimator struct {
	encoder *tiktoken.Tiktoken
	mu      sync.RWMutex
}

var (
	defaultEstimator *Estimator
	defaultOnce      sync.Once
)

// Default returns the shared estimator for the cl100k_base encoding.
func Default() *Estimator {
	defaultOnce.Do(func() {
		defaultEstimator = New("cl100k_base")
	})
	return defaultEstimator
}

func New(encoding string) *Estimator {
	e := &Estimator{}
	if enc, err := tiktoken.GetEncoding(encoding); err == nil {
		e.encoder = enc
	}
	return e
}

// Precise reports whether tiktoken counting is active.
func (e *Estimator) Precise() bool { return e.encoder != nil }

func (e *Estimator) Text(text string) int {
	if text == "" {
		return 0
	}
	if e.encoder == nil {
		return heuristicCount(text)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.encoder.Encode(text, nil, nil))
}

// Messages estimates the token footprint of a wire message list,
// including per-message and per-tool-call structural overhead.
func (e *Estimator) Messages(msgs []chat.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += e.Text(m.Role)
		total += e.Text(m.Content)
		if m.Name != "" {
			total += e.Text(m.Name) + 1
		}
		for _, tc := range m.ToolCalls {
			total += e.Text(tc.Function.Name)
			total += e.Text(tc.Function.Arguments)
			total += 8
		}
	}
	return total
}

// heuristicCount approximates ~4 ASCII chars or ~0.7 CJK chars per token.
func heuristicCount(text string) int {
	cjk, ascii := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			ascii++
		}
	}
	estimate := int(float64(cjk)*1.5 + float64(ascii)*0.25)
	if estimate < 1 && strings.TrimSpace(text) != "" {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
