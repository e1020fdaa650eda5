package budget

// Tokenizer estimates how many tokens a text costs for a model.
type Tokenizer interface {
	EstimateTokens(text, modelID string) int
}

// TokenizerFunc adapts a function to Tokenizer.
type TokenizerFunc func(text, modelID string) int

func (f TokenizerFunc) EstimateTokens(text, modelID string) int { return f(text, modelID) }

// HeuristicTokenizer approximates token counts from byte length. It
// overestimates slightly for non-ASCII text, which keeps the overflow check
// conservative.
type HeuristicTokenizer struct {
	CharsPerToken   int
	SegmentOverhead int
}

// NewHeuristicTokenizer returns the ~4 chars per token estimator with 5
// tokens of formatting overhead per segment.
func NewHeuristicTokenizer() *HeuristicTokenizer {
	return &HeuristicTokenizer{CharsPerToken: 4, SegmentOverhead: 5}
}

func (h *HeuristicTokenizer) EstimateTokens(text, _ string) int {
	if text == "" {
		return 0
	}
	per := h.CharsPerToken
	if per <= 0 {
		per = 4
	}
	return (len(text)+per-1)/per + h.SegmentOverhead
}
