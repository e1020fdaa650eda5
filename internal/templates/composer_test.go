package templates

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refineflow/orchestrator/internal/models"
)

func extractionVars() map[string]string {
	return map[string]string{
		"activity_title":       "Billing export",
		"activity_description": "Export invoices nightly",
		"entry_type":           "note",
		"entry_content":        "Contact vendor about the SFTP endpoint.",
		"current_summary":      "Nothing yet.",
	}
}

func TestDefaultComposerCoversEveryKind(t *testing.T) {
	c, err := NewDefaultComposer()
	require.NoError(t, err)
	for _, kind := range models.TaskKinds() {
		vars, err := c.Variables(kind)
		require.NoError(t, err)
		assert.NotEmpty(t, vars, kind)
	}
}

func TestComposeExtractionKeepsSegmentsSeparate(t *testing.T) {
	c, err := NewDefaultComposer()
	require.NoError(t, err)

	spec, err := c.Compose(models.TaskExtraction, extractionVars())
	require.NoError(t, err)

	assert.Contains(t, spec.Instruction, `"resolved_answers"`)
	assert.Contains(t, spec.Instruction, "XGG")
	assert.NotContains(t, spec.Instruction, "Contact vendor")

	assert.True(t, strings.HasPrefix(spec.Content, "Activity: Billing export\n"))
	assert.Contains(t, spec.Content, "New entry (note):\nContact vendor about the SFTP endpoint.\n")
	assert.NotContains(t, spec.Content, "{{")
}

func TestComposeIsDeterministic(t *testing.T) {
	c, err := NewDefaultComposer()
	require.NoError(t, err)
	a, err := c.Compose(models.TaskExtraction, extractionVars())
	require.NoError(t, err)
	b, err := c.Compose(models.TaskExtraction, extractionVars())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComposeMissingVariable(t *testing.T) {
	c, err := NewDefaultComposer()
	require.NoError(t, err)

	vars := extractionVars()
	delete(vars, "entry_content")

	_, err = c.Compose(models.TaskExtraction, vars)
	var mv *MissingVariableError
	require.True(t, errors.As(err, &mv), "got %v", err)
	assert.Equal(t, "entry_content", mv.Name)
	assert.Equal(t, SegmentContent, mv.Segment)
	assert.Equal(t, models.TaskExtraction, mv.TaskKind)
}

func TestComposeEmptyValueIsNotMissing(t *testing.T) {
	c, err := NewDefaultComposer()
	require.NoError(t, err)
	vars := extractionVars()
	vars["current_summary"] = ""
	_, err = c.Compose(models.TaskExtraction, vars)
	assert.NoError(t, err)
}

func TestComposeExactText(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range models.TaskKinds() {
		tpl := "name: " + string(kind) + "\ntask_kind: " + string(kind) + "\nvariables: [who]\ninstruction: \"Be brief about {{who}}.\"\ncontent: \"Hello, {{ who }}! {json: true}\"\n"
		writeTemplate(t, dir, string(kind)+".yaml", tpl)
	}
	reg, err := LoadRegistry(dir)
	require.NoError(t, err)
	c, err := NewComposer(reg)
	require.NoError(t, err)

	spec, err := c.Compose(models.TaskChat, map[string]string{"who": "Ana", "extra": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, PromptSpec{
		Instruction: "Be brief about Ana.",
		Content:     "Hello, Ana! {json: true}",
	}, spec)
}

func TestFallbackRendering(t *testing.T) {
	c, err := NewDefaultComposer()
	require.NoError(t, err)

	text, ok, err := c.Fallback(models.TaskExport, map[string]string{
		"title":                       "Billing export",
		"description":                 "Export invoices nightly",
		"summary":                     "Nightly job",
		"functional_requirements":     "- export CSV",
		"non_functional_requirements": "- under 5 minutes",
		"risks_count":                 "2",
		"dependencies_count":          "1",
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, text, "# Parent Task: Billing export")
	assert.Contains(t, text, "# [BE] Billing export")
	assert.Contains(t, text, "# [FE] Billing export")

	_, ok, err = c.Fallback(models.TaskExtraction, extractionVars())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComposeUnknownKind(t *testing.T) {
	c, err := NewDefaultComposer()
	require.NoError(t, err)
	_, err = c.Compose(models.TaskKind("poem"), nil)
	assert.Error(t, err)
}

func TestSwapRejectsIncompleteRegistry(t *testing.T) {
	c, err := NewDefaultComposer()
	require.NoError(t, err)
	before := c.Registry()

	assert.Error(t, c.Swap(&Registry{}))
	assert.Same(t, before, c.Registry())
}
