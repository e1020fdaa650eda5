package pricing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/refineflow/orchestrator/internal/metrics"
)

// DefaultCombinedPer1K is charged when neither the model nor the defaults
// section carries a price.
const DefaultCombinedPer1K = 0.002

// Rate is the USD price of one model per thousand tokens. A split rate
// (input and output both set) takes precedence over the combined one.
type Rate struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

func (r Rate) split() bool { return r.InputPer1K > 0 && r.OutputPer1K > 0 }

// Cost prices input and output tokens. ok is false when the rate carries
// no usable price.
func (r Rate) Cost(input, output int) (usd float64, ok bool) {
	switch {
	case r.split():
		return per1K(input, r.InputPer1K) + per1K(output, r.OutputPer1K), true
	case r.CombinedPer1K > 0:
		return per1K(input+output, r.CombinedPer1K), true
	}
	return 0, false
}

func (r Rate) check(where string) error {
	for field, v := range map[string]float64{
		"input_per_1k":    r.InputPer1K,
		"output_per_1k":   r.OutputPer1K,
		"combined_per_1k": r.CombinedPer1K,
	} {
		if v < 0 {
			return fmt.Errorf("%s: %s must be >= 0, got %g", where, field, v)
		}
	}
	return nil
}

func per1K(tokens int, price float64) float64 {
	return float64(tokens) / 1000.0 * price
}

// document mirrors the pricing section of config/models.yaml.
type document struct {
	Pricing struct {
		Defaults Rate                       `yaml:"defaults"`
		Models   map[string]map[string]Rate `yaml:"models"`
	} `yaml:"pricing"`
}

// Table maps lowercase model ids to rates. It is immutable once built.
type Table struct {
	rates    map[string]Rate
	fallback Rate
}

// Load reads the pricing section of the models.yaml at path. An empty path
// yields a table that prices everything at DefaultCombinedPer1K.
func Load(path string) (*Table, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse builds a table from models.yaml content. Provider grouping is
// informational; model ids must be unique across providers.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}

	fallback := doc.Pricing.Defaults
	if err := fallback.check("pricing.defaults"); err != nil {
		return nil, err
	}
	if fallback.CombinedPer1K == 0 && !fallback.split() {
		fallback.CombinedPer1K = DefaultCombinedPer1K
	}

	t := &Table{rates: make(map[string]Rate), fallback: fallback}
	for provider, byModel := range doc.Pricing.Models {
		for id, rate := range byModel {
			if err := rate.check("pricing.models." + provider + "." + id); err != nil {
				return nil, err
			}
			key := normalize(id)
			if _, dup := t.rates[key]; dup {
				return nil, fmt.Errorf("pricing: model %q listed twice", id)
			}
			t.rates[key] = rate
		}
	}
	return t, nil
}

// Rate returns the configured rate for model.
func (t *Table) Rate(model string) (Rate, bool) {
	r, ok := t.rates[normalize(model)]
	return r, ok
}

// Cost prices one call. Models without a usable rate are charged the
// default rate and counted in the pricing fallback metric.
func (t *Table) Cost(model string, input, output int) float64 {
	input, output = max(input, 0), max(output, 0)
	if r, ok := t.Rate(model); ok {
		if usd, ok := r.Cost(input, output); ok {
			return usd
		}
	}
	reason := "unknown_model"
	if strings.TrimSpace(model) == "" {
		reason = "missing_model"
	}
	metrics.PricingFallbacks.WithLabelValues(reason).Inc()
	usd, _ := t.fallback.Cost(input, output)
	return usd
}

func normalize(id string) string { return strings.ToLower(strings.TrimSpace(id)) }
