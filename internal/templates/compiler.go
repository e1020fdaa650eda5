package templates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/refineflow/orchestrator/internal/models"
)

var variableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MissingVariableError reports a placeholder with no value in the variable
// map. Composition never substitutes a blank.
type MissingVariableError struct {
	TaskKind models.TaskKind
	Name     string
	Segment  string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing variable %q for %s %s template", e.Name, e.TaskKind, e.Segment)
}

// part is either literal text or a placeholder reference.
type part struct {
	literal  string
	variable string
}

// compiledSegment is a template segment split into literal and placeholder parts.
type compiledSegment struct {
	name  string
	parts []part
}

func (s compiledSegment) variables() []string {
	var out []string
	for _, p := range s.parts {
		if p.variable != "" {
			out = append(out, p.variable)
		}
	}
	return out
}

func (s compiledSegment) render(kind models.TaskKind, vars map[string]string) (string, error) {
	var b strings.Builder
	for _, p := range s.parts {
		if p.variable == "" {
			b.WriteString(p.literal)
			continue
		}
		v, ok := vars[p.variable]
		if !ok {
			return "", &MissingVariableError{TaskKind: kind, Name: p.variable, Segment: s.name}
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// compileSegment splits text on {{name}} placeholders. Only "{{" opens a
// placeholder; other braces are literal, so JSON examples can appear in
// templates unescaped.
func compileSegment(name, text string) (compiledSegment, error) {
	seg := compiledSegment{name: name}
	rest := text
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				seg.parts = append(seg.parts, part{literal: rest})
			}
			return seg, nil
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			return seg, fmt.Errorf("%s: unterminated placeholder at offset %d", name, len(text)-len(rest)+open)
		}
		ident := strings.TrimSpace(rest[open+2 : open+2+end])
		if !variableName.MatchString(ident) {
			return seg, fmt.Errorf("%s: invalid placeholder name %q", name, ident)
		}
		if open > 0 {
			seg.parts = append(seg.parts, part{literal: rest[:open]})
		}
		seg.parts = append(seg.parts, part{variable: ident})
		rest = rest[open+2+end+2:]
	}
}

// compiledTemplate is a validated template ready for composition.
type compiledTemplate struct {
	tpl         *Template
	instruction compiledSegment
	content     compiledSegment
	fallback    *compiledSegment
}

func compileTemplate(tpl *Template) (*compiledTemplate, error) {
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}
	// ValidateTemplate already parsed every segment, so these cannot fail.
	instr, _ := compileSegment(SegmentInstruction, tpl.Instruction)
	content, _ := compileSegment(SegmentContent, tpl.Content)
	ct := &compiledTemplate{tpl: tpl, instruction: instr, content: content}
	if strings.TrimSpace(tpl.Fallback) != "" {
		fb, _ := compileSegment(SegmentFallback, tpl.Fallback)
		ct.fallback = &fb
	}
	return ct, nil
}

func (ct *compiledTemplate) compose(vars map[string]string) (PromptSpec, error) {
	kind := ct.tpl.TaskKind
	instr, err := ct.instruction.render(kind, vars)
	if err != nil {
		return PromptSpec{}, err
	}
	content, err := ct.content.render(kind, vars)
	if err != nil {
		return PromptSpec{}, err
	}
	return PromptSpec{Instruction: instr, Content: content}, nil
}
