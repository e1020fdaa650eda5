package templates

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue is one problem found in a template. Code is a stable
// label used for metrics.
type ValidationIssue struct {
	Code    string
	Message string
}

// ValidationError lists every problem found in one template, ordered by
// code.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	for i, issue := range e.Issues {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(issue.Message)
	}
	if len(e.Issues) > 1 {
		return fmt.Sprintf("%d template problems: %s", len(e.Issues), b.String())
	}
	return b.String()
}

// ValidateTemplate returns a *ValidationError listing every problem in tpl.
//
// Every placeholder in the instruction, content and fallback segments must be
// declared in Variables, and every declared variable must be used by the
// instruction or content segment.
func ValidateTemplate(tpl *Template) error {
	if tpl == nil {
		return &ValidationError{Issues: []ValidationIssue{{Code: "template_nil", Message: "nil template"}}}
	}

	var issues []ValidationIssue
	add := func(code, format string, args ...any) {
		issues = append(issues, ValidationIssue{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(tpl.Name) == "" {
		add("template_name_missing", "template name is required")
	}
	if !tpl.TaskKind.Valid() {
		add("task_kind_unknown", "template %q has unknown task_kind %q", tpl.Name, tpl.TaskKind)
	}
	if strings.TrimSpace(tpl.Instruction) == "" {
		add("instruction_empty", "template %q has an empty instruction", tpl.Name)
	}
	if strings.TrimSpace(tpl.Content) == "" {
		add("content_empty", "template %q has empty content", tpl.Name)
	}

	declared := make(map[string]bool, len(tpl.Variables))
	for _, v := range tpl.Variables {
		if !variableName.MatchString(v) {
			add("variable_name_invalid", "template %q declares invalid variable name %q", tpl.Name, v)
			continue
		}
		if declared[v] {
			add("variable_duplicate", "template %q declares variable %q twice", tpl.Name, v)
		}
		declared[v] = true
	}

	used := make(map[string]bool)
	segments := []struct{ name, text string }{
		{SegmentInstruction, tpl.Instruction},
		{SegmentContent, tpl.Content},
		{SegmentFallback, tpl.Fallback},
	}
	for _, s := range segments {
		seg, err := compileSegment(s.name, s.text)
		if err != nil {
			add("placeholder_malformed", "template %q: %v", tpl.Name, err)
			continue
		}
		for _, v := range seg.variables() {
			if !declared[v] {
				add("variable_undeclared", "template %q %s references undeclared variable %q", tpl.Name, s.name, v)
				continue
			}
			if s.name != SegmentFallback {
				used[v] = true
			}
		}
	}
	for v := range declared {
		if !used[v] {
			add("variable_unused", "template %q declares variable %q but never uses it", tpl.Name, v)
		}
	}

	if len(issues) > 0 {
		slices.SortFunc(issues, func(a, b ValidationIssue) int {
			return cmp.Or(cmp.Compare(a.Code, b.Code), cmp.Compare(a.Message, b.Message))
		})
		return &ValidationError{Issues: issues}
	}
	return nil
}
