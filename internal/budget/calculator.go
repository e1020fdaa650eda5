package budget

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/models"
)

// percents is the share of a model's output limit each task kind may
// request. Integer percentages keep the floor exact.
var percents = map[models.TaskKind]int{
	models.TaskExtraction: 30,
	models.TaskChat:       50,
	models.TaskExport:     60,
	models.TaskCanvas:     70,
}

// Fraction returns the output-limit share for kind.
func Fraction(kind models.TaskKind) (float64, bool) {
	p, ok := percents[kind]
	return float64(p) / 100, ok
}

// BudgetExceededError reports that the estimated input plus the output budget
// does not fit in the model's combined window. The caller decides whether to
// shorten the input or abort.
type BudgetExceededError struct {
	ModelID        string
	TaskKind       models.TaskKind
	EstimatedInput int
	Budget         int
	Limit          int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for %s/%s: estimated input %d + budget %d > limit %d",
		e.ModelID, e.TaskKind, e.EstimatedInput, e.Budget, e.Limit)
}

// CheckResult is the outcome of a successful overflow check.
type CheckResult struct {
	Budget         int `json:"budget"`
	EstimatedInput int `json:"estimated_input"`
	Limit          int `json:"limit"`
	Headroom       int `json:"headroom"`
}

// Calculator derives output-token budgets and checks them against the
// model's window. It holds no mutable state.
type Calculator struct {
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewCalculator creates a calculator. A nil tokenizer selects the heuristic
// estimator.
func NewCalculator(tokenizer Tokenizer, logger *zap.Logger) *Calculator {
	if tokenizer == nil {
		tokenizer = NewHeuristicTokenizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{tokenizer: tokenizer, logger: logger}
}

// Budget returns floor(output_token_limit * fraction), clamped to
// [1, output_token_limit].
func (c *Calculator) Budget(profile models.ModelProfile, kind models.TaskKind) (int, error) {
	pct, ok := percents[kind]
	if !ok {
		return 0, fmt.Errorf("no budget fraction for task kind %q", kind)
	}
	b := profile.OutputTokenLimit * pct / 100
	if b < 1 {
		b = 1
	}
	if profile.OutputTokenLimit > 0 && b > profile.OutputTokenLimit {
		b = profile.OutputTokenLimit
	}
	return b, nil
}

// Check computes the budget and verifies the estimated input for texts
// leaves room for it. It never truncates.
func (c *Calculator) Check(profile models.ModelProfile, kind models.TaskKind, texts ...string) (CheckResult, error) {
	b, err := c.Budget(profile, kind)
	if err != nil {
		return CheckResult{}, err
	}

	estimated := 0
	for _, t := range texts {
		estimated += c.tokenizer.EstimateTokens(t, profile.ID)
	}

	limit := profile.ContextWindow()
	res := CheckResult{
		Budget:         b,
		EstimatedInput: estimated,
		Limit:          limit,
		Headroom:       limit - estimated - b,
	}
	if estimated+b > limit {
		c.logger.Warn("Token budget exceeded",
			zap.String("model_id", profile.ID),
			zap.String("task_kind", string(kind)),
			zap.Int("estimated_input", estimated),
			zap.Int("budget", b),
			zap.Int("limit", limit),
		)
		return res, &BudgetExceededError{
			ModelID:        profile.ID,
			TaskKind:       kind,
			EstimatedInput: estimated,
			Budget:         b,
			Limit:          limit,
		}
	}
	return res, nil
}
