package templates

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/refineflow/orchestrator/internal/metrics"
	"github.com/refineflow/orchestrator/internal/models"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Entry is one validated template plus where it came from.
type Entry struct {
	Template *Template
	Source   string
	// Digest is the hex sha256 of the file content.
	Digest string

	compiled *compiledTemplate
}

// Ref names the template as name@version, or just name when unversioned.
func (e Entry) Ref() string {
	name, version := strings.TrimSpace(e.Template.Name), strings.TrimSpace(e.Template.Version)
	if version == "" {
		return name
	}
	return name + "@" + version
}

// Registry holds one template per task kind. It is immutable; reloading
// builds a new registry.
type Registry struct {
	entries map[models.TaskKind]Entry
}

// FileError reports a template file that could not be loaded.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }

// DefaultRegistry returns the templates embedded in the binary.
func DefaultRegistry() (*Registry, error) {
	entries, err := scan(defaultsFS, "defaults", "embedded:")
	if err != nil {
		return nil, fmt.Errorf("load embedded templates: %w", err)
	}
	return &Registry{entries: entries}, nil
}

// LoadRegistry returns the embedded templates with any found under dir
// replacing those of the same task kind. Every bad file in dir is reported;
// the error joins one *FileError per file.
func LoadRegistry(dir string) (*Registry, error) {
	reg, err := DefaultRegistry()
	if err != nil || dir == "" {
		return reg, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template directory: %s is not a directory", dir)
	}
	overrides, err := scan(os.DirFS(dir), ".", dir+string(os.PathSeparator))
	if err != nil {
		return nil, err
	}
	for kind, e := range overrides {
		reg.entries[kind] = e
	}
	return reg, nil
}

// scan loads every .yaml/.yml file under root. Duplicate task kinds are
// errors; the first file in walk order keeps the slot.
func scan(fsys fs.FS, root, prefix string) (map[models.TaskKind]Entry, error) {
	entries := make(map[models.TaskKind]Entry)
	var errs []error
	walkErr := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			errs = append(errs, &FileError{Path: p, Err: err})
			return nil
		case d.IsDir():
			return nil
		}
		if ext := strings.ToLower(path.Ext(p)); ext != ".yaml" && ext != ".yml" {
			return nil
		}
		e, err := loadEntry(fsys, p, prefix+p)
		if err == nil {
			if prev, dup := entries[e.Template.TaskKind]; dup {
				metrics.TemplateValidationErrors.WithLabelValues("duplicate").Inc()
				err = fmt.Errorf("duplicate template for task kind %q, already defined by %s", e.Template.TaskKind, prev.Source)
			}
		}
		if err != nil {
			errs = append(errs, &FileError{Path: p, Err: err})
			return nil
		}
		entries[e.Template.TaskKind] = e
		metrics.TemplatesLoaded.WithLabelValues(string(e.Template.TaskKind)).Inc()
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk templates: %w", walkErr)
	}
	return entries, errors.Join(errs...)
}

func loadEntry(fsys fs.FS, p, source string) (Entry, error) {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return Entry{}, err
	}
	tpl, err := ParseTemplate(data)
	if err != nil {
		metrics.TemplateValidationErrors.WithLabelValues("decode").Inc()
		return Entry{}, err
	}
	compiled, err := compileTemplate(tpl)
	if err != nil {
		countIssues(err)
		return Entry{}, err
	}
	sum := sha256.Sum256(data)
	return Entry{Template: tpl, Source: source, Digest: hex.EncodeToString(sum[:]), compiled: compiled}, nil
}

func countIssues(err error) {
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		metrics.TemplateValidationErrors.WithLabelValues("validate").Inc()
		return
	}
	for _, issue := range vErr.Issues {
		metrics.TemplateValidationErrors.WithLabelValues(issue.Code).Inc()
	}
}

// Get returns the entry for a task kind.
func (r *Registry) Get(kind models.TaskKind) (Entry, bool) {
	e, ok := r.entries[kind]
	return e, ok
}

// Complete returns an error naming any task kind without a template.
func (r *Registry) Complete() error {
	var missing []string
	for _, kind := range models.TaskKinds() {
		if _, ok := r.entries[kind]; !ok {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no template for task kind(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// Entries returns every entry ordered by task kind.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Template.TaskKind < out[j].Template.TaskKind })
	return out
}

// isYAML reports whether p has a .yaml or .yml extension.
func isYAML(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == ".yaml" || ext == ".yml"
}
