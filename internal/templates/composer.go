package templates

import (
	"fmt"
	"sync/atomic"

	"github.com/refineflow/orchestrator/internal/models"
)

// Composer builds PromptSpecs from the active registry. Composition is
// deterministic and side-effect free; Swap replaces the registry atomically
// so in-flight compositions keep the snapshot they started with.
type Composer struct {
	current atomic.Pointer[Registry]
}

// NewComposer returns a composer over reg. The registry must cover every
// task kind.
func NewComposer(reg *Registry) (*Composer, error) {
	c := &Composer{}
	if err := c.Swap(reg); err != nil {
		return nil, err
	}
	return c, nil
}

// NewDefaultComposer returns a composer over the embedded templates.
func NewDefaultComposer() (*Composer, error) {
	reg, err := DefaultRegistry()
	if err != nil {
		return nil, err
	}
	return NewComposer(reg)
}

// Swap installs reg as the active registry.
func (c *Composer) Swap(reg *Registry) error {
	if reg == nil {
		return fmt.Errorf("nil template registry")
	}
	if err := reg.Complete(); err != nil {
		return err
	}
	c.current.Store(reg)
	return nil
}

// Registry returns the active registry.
func (c *Composer) Registry() *Registry {
	return c.current.Load()
}

// Compose substitutes vars into the instruction and content templates for
// kind. A placeholder absent from vars fails with *MissingVariableError.
// Extra variables are ignored.
func (c *Composer) Compose(kind models.TaskKind, vars map[string]string) (PromptSpec, error) {
	entry, err := c.entry(kind)
	if err != nil {
		return PromptSpec{}, err
	}
	return entry.compiled.compose(vars)
}

// Fallback renders the fallback segment for kind. ok is false when the
// template defines none.
func (c *Composer) Fallback(kind models.TaskKind, vars map[string]string) (text string, ok bool, err error) {
	entry, err := c.entry(kind)
	if err != nil {
		return "", false, err
	}
	if entry.compiled.fallback == nil {
		return "", false, nil
	}
	text, err = entry.compiled.fallback.render(kind, vars)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// Variables returns the variable names the template for kind declares.
func (c *Composer) Variables(kind models.TaskKind) ([]string, error) {
	entry, err := c.entry(kind)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), entry.Template.Variables...), nil
}

func (c *Composer) entry(kind models.TaskKind) (Entry, error) {
	if !kind.Valid() {
		return Entry{}, fmt.Errorf("unknown task kind %q", kind)
	}
	entry, ok := c.current.Load().Get(kind)
	if !ok {
		return Entry{}, fmt.Errorf("no template for task kind %q", kind)
	}
	return entry, nil
}
