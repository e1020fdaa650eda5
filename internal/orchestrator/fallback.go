package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/refineflow/orchestrator/internal/models"
	"github.com/refineflow/orchestrator/internal/templates"
)

// FallbackStrategy produces deliverable text for chat, export and canvas
// runs when the provider fails or answers with nothing. The caller picks
// it per request; extraction never falls back.
type FallbackStrategy interface {
	Name() string
	Fallback(ctx context.Context, kind models.TaskKind, vars map[string]string, cause error) (string, error)
}

// TemplateFallback renders the fallback segment of the kind's template.
type TemplateFallback struct {
	Composer *templates.Composer
}

func (TemplateFallback) Name() string { return "template" }

func (f TemplateFallback) Fallback(_ context.Context, kind models.TaskKind, vars map[string]string, _ error) (string, error) {
	if f.Composer == nil {
		return "", fmt.Errorf("template fallback has no composer")
	}
	text, ok, err := f.Composer.Fallback(kind, vars)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no fallback text for task kind %q", kind)
	}
	return strings.TrimSpace(text), nil
}

// StaticFallback always returns Text.
type StaticFallback struct {
	Text string
}

func (StaticFallback) Name() string { return "static" }

func (f StaticFallback) Fallback(_ context.Context, kind models.TaskKind, _ map[string]string, _ error) (string, error) {
	if strings.TrimSpace(f.Text) == "" {
		return "", fmt.Errorf("static fallback for %q is empty", kind)
	}
	return f.Text, nil
}
